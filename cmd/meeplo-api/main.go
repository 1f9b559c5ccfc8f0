package main

import (
	"context"
	"errors"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sloth-meeplo/meeplo/backend/internal/auth"
	"github.com/sloth-meeplo/meeplo/backend/internal/config"
	"github.com/sloth-meeplo/meeplo/backend/internal/database"
	"github.com/sloth-meeplo/meeplo/backend/internal/kakao"
	"github.com/sloth-meeplo/meeplo/backend/internal/logging"
	"github.com/sloth-meeplo/meeplo/backend/internal/members"
	"github.com/sloth-meeplo/meeplo/backend/internal/metrics"
	"github.com/sloth-meeplo/meeplo/backend/internal/schedules"
	"github.com/sloth-meeplo/meeplo/backend/internal/server"
	"github.com/sloth-meeplo/meeplo/backend/internal/tokenstore"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

var (
	cfgFile string
	envFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "meeplo-api",
		Short: "Meeplo member and schedule backend",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Path to dotenv file loaded before configuration")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-driver", defaults.GetString("database.driver"), "Database driver (sqlite, postgres)")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("database-dsn", defaults.GetString("database.dsn"), "Postgres connection string")
	cmd.PersistentFlags().String("redis-address", defaults.GetString("redis.address"), "Redis address for refresh tokens")
	cmd.PersistentFlags().String("kakao-rest-api-key", "", "Kakao REST API key (overrides env)")
	cmd.PersistentFlags().Int("access-ttl-minutes", defaults.GetInt("token.access_ttl_minutes"), "Access token TTL in minutes")
	cmd.PersistentFlags().Int("refresh-ttl-hours", defaults.GetInt("token.refresh_ttl_hours"), "Refresh token TTL in hours")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Backend signing secret (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.driver", "database-driver")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "database.dsn", "database-dsn")
	bindFlag(cmd, "redis.address", "redis-address")
	bindFlag(cmd, "kakao.rest_api_key", "kakao-rest-api-key")
	bindFlag(cmd, "token.access_ttl_minutes", "access-ttl-minutes")
	bindFlag(cmd, "token.refresh_ttl_hours", "refresh-ttl-hours")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.Open(database.Config{
		Driver: appConfig.DatabaseDriver,
		Path:   appConfig.DatabasePath,
		DSN:    appConfig.DatabaseDSN,
	}, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	tokenStore, err := tokenstore.Open(ctx, tokenstore.Config{
		Addr:     appConfig.RedisAddress,
		Username: appConfig.RedisUsername,
		Password: appConfig.RedisPassword,
		DB:       appConfig.RedisDB,
	})
	if err != nil {
		return err
	}
	defer tokenStore.Close()

	tokenIssuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret:   []byte(appConfig.SigningSecret),
		Issuer:          appConfig.TokenIssuer,
		Audience:        appConfig.TokenAudience,
		AccessTokenTTL:  appConfig.AccessTokenTTL,
		RefreshTokenTTL: appConfig.RefreshTokenTTL,
	})
	if err != nil {
		return err
	}

	appMetrics := metrics.New()

	identityClient := kakao.NewIdentityClient(kakao.IdentityClientConfig{
		BaseURL:  appConfig.KakaoAPIBaseURL,
		Timeout:  appConfig.KakaoTimeout,
		Observer: appMetrics,
		Logger:   logger,
	})
	geocodingClient, err := kakao.NewGeocodingClient(kakao.GeocodingClientConfig{
		BaseURL:           appConfig.KakaoLocalBaseURL,
		RESTAPIKey:        appConfig.KakaoRESTAPIKey,
		RequestsPerSecond: appConfig.KakaoGeocodeRPS,
		Timeout:           appConfig.KakaoTimeout,
		Observer:          appMetrics,
		Logger:            logger,
	})
	if err != nil {
		return err
	}

	memberService, err := members.NewService(members.ServiceConfig{
		Database:   db,
		Tokens:     tokenIssuer,
		TokenStore: tokenStore,
		Identity:   identityClient,
		Geocoder:   geocodingClient,
		Recorder:   appMetrics,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	dispatcher := server.NewScheduleEventDispatcher()
	scheduleService, err := schedules.NewService(schedules.ServiceConfig{
		Database:  db,
		Publisher: dispatcher,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Members:        memberService,
		Schedules:      scheduleService,
		Events:         dispatcher,
		Metrics:        appMetrics,
		AllowedOrigins: appConfig.AllowedOrigins,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	httpServer.RegisterOnShutdown(dispatcher.Close)

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
