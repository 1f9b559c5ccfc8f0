package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix              = "MEEPLO"
	defaultHTTPAddress     = "0.0.0.0:8080"
	defaultDatabaseDriver  = "sqlite"
	defaultDatabasePath    = "meeplo.db"
	defaultRedisAddress    = "127.0.0.1:6379"
	defaultAuthIssuer      = "meeplo-api"
	defaultAuthAudience    = "meeplo-app"
	defaultAccessTTLMin    = 30
	defaultRefreshTTLHours = 14 * 24
	defaultKakaoAPIBase    = "https://kapi.kakao.com"
	defaultKakaoLocalBase  = "https://dapi.kakao.com"
	defaultGeocodeRPS      = 10
	defaultKakaoTimeoutSec = 5
	defaultLogLevel        = "info"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress string

	DatabaseDriver string
	DatabasePath   string
	DatabaseDSN    string

	RedisAddress  string
	RedisUsername string
	RedisPassword string
	RedisDB       int

	SigningSecret   string
	TokenIssuer     string
	TokenAudience   string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	KakaoAPIBaseURL   string
	KakaoLocalBaseURL string
	KakaoRESTAPIKey   string
	KakaoGeocodeRPS   float64
	KakaoTimeout      time.Duration

	AllowedOrigins []string
	LogLevel       string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.driver", defaultDatabaseDriver)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("database.dsn", "")
	configViper.SetDefault("redis.address", defaultRedisAddress)
	configViper.SetDefault("redis.username", "")
	configViper.SetDefault("redis.password", "")
	configViper.SetDefault("redis.db", 0)
	configViper.SetDefault("auth.signing_secret", "")
	configViper.SetDefault("auth.issuer", defaultAuthIssuer)
	configViper.SetDefault("auth.audience", defaultAuthAudience)
	configViper.SetDefault("token.access_ttl_minutes", defaultAccessTTLMin)
	configViper.SetDefault("token.refresh_ttl_hours", defaultRefreshTTLHours)
	configViper.SetDefault("kakao.api_base_url", defaultKakaoAPIBase)
	configViper.SetDefault("kakao.local_base_url", defaultKakaoLocalBase)
	configViper.SetDefault("kakao.rest_api_key", "")
	configViper.SetDefault("kakao.geocode_rps", defaultGeocodeRPS)
	configViper.SetDefault("kakao.timeout_seconds", defaultKakaoTimeoutSec)
	configViper.SetDefault("cors.allowed_origins", []string{})
	configViper.SetDefault("log.level", defaultLogLevel)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:       configViper.GetString("http.address"),
		DatabaseDriver:    strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
		DatabasePath:      configViper.GetString("database.path"),
		DatabaseDSN:       configViper.GetString("database.dsn"),
		RedisAddress:      configViper.GetString("redis.address"),
		RedisUsername:     configViper.GetString("redis.username"),
		RedisPassword:     configViper.GetString("redis.password"),
		RedisDB:           configViper.GetInt("redis.db"),
		SigningSecret:     configViper.GetString("auth.signing_secret"),
		TokenIssuer:       configViper.GetString("auth.issuer"),
		TokenAudience:     configViper.GetString("auth.audience"),
		AccessTokenTTL:    time.Duration(configViper.GetInt("token.access_ttl_minutes")) * time.Minute,
		RefreshTokenTTL:   time.Duration(configViper.GetInt("token.refresh_ttl_hours")) * time.Hour,
		KakaoAPIBaseURL:   configViper.GetString("kakao.api_base_url"),
		KakaoLocalBaseURL: configViper.GetString("kakao.local_base_url"),
		KakaoRESTAPIKey:   configViper.GetString("kakao.rest_api_key"),
		KakaoGeocodeRPS:   configViper.GetFloat64("kakao.geocode_rps"),
		KakaoTimeout:      time.Duration(configViper.GetInt("kakao.timeout_seconds")) * time.Second,
		AllowedOrigins:    splitOrigins(configViper.GetStringSlice("cors.allowed_origins")),
		LogLevel:          configViper.GetString("log.level"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.KakaoRESTAPIKey) == "" {
		return fmt.Errorf("kakao.rest_api_key is required")
	}
	if strings.TrimSpace(c.RedisAddress) == "" {
		return fmt.Errorf("redis.address is required")
	}
	switch c.DatabaseDriver {
	case "sqlite":
		if strings.TrimSpace(c.DatabasePath) == "" {
			return fmt.Errorf("database.path is required")
		}
	case "postgres":
		if strings.TrimSpace(c.DatabaseDSN) == "" {
			return fmt.Errorf("database.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("database.driver must be sqlite or postgres, got %q", c.DatabaseDriver)
	}
	if c.AccessTokenTTL <= 0 || c.RefreshTokenTTL <= 0 {
		return fmt.Errorf("token ttls must be positive")
	}
	if c.RefreshTokenTTL <= c.AccessTokenTTL {
		return fmt.Errorf("token.refresh_ttl_hours must exceed the access token ttl")
	}
	return nil
}

// splitOrigins accepts both a list and a single comma separated env value.
func splitOrigins(values []string) []string {
	origins := make([]string, 0, len(values))
	for _, value := range values {
		for _, origin := range strings.Split(value, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				origins = append(origins, origin)
			}
		}
	}
	return origins
}
