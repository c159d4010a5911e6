package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/ksred/klear-paper/internal/account"
	"github.com/ksred/klear-paper/internal/api"
	"github.com/ksred/klear-paper/internal/auth"
	"github.com/ksred/klear-paper/internal/config"
	"github.com/ksred/klear-paper/internal/currency"
	"github.com/ksred/klear-paper/internal/database"
	"github.com/ksred/klear-paper/internal/fees"
	"github.com/ksred/klear-paper/internal/pricefeed"
	"github.com/ksred/klear-paper/internal/snapshot"
	"github.com/ksred/klear-paper/pkg/middleware"
)

// setupLogging enables pretty printing outside production and debug
// logging when configured
func setupLogging(cfg *config.Config) {
	if !cfg.Production() {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		zlog.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if cfg.Server.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to load configuration")
	}
	setupLogging(cfg)
	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Account
	converter := currency.NewConverter()
	calc := fees.NewCalculator(cfg.Fees.BaseRate, cfg.Fees.Discount, cfg.Fees.DiscountAsset)
	acct := account.New(account.Options{
		InitialBalances: cfg.Account.InitialBalances,
		TrackedAssets:   cfg.Account.TrackedAssets,
		InitialPrices:   cfg.Account.InitialPrices,
		DisplayCurrency: cfg.Account.DisplayCurrency,
		QuoteAsset:      cfg.Fees.QuoteAsset,
	}, calc, converter)

	// Auth
	authService := auth.NewService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	authService.RegisterAPICredentials(cfg.Auth.APIKey, cfg.Auth.APISecret, auth.PermissionAdmin)

	// Snapshots
	var db *database.Database
	snapshotsDone := make(chan struct{})
	if cfg.Database.Path == "" {
		close(snapshotsDone)
	} else {
		db, err = database.NewDatabase(cfg.Database.Path)
		if err != nil {
			zlog.Fatal().Err(err).Msg("Failed to initialize database")
		}
		defer db.Close()

		processor := snapshot.NewProcessor(acct, db, cfg.Database.SnapshotInterval, cfg.Account.DisplayCurrency)
		processor.Retention = cfg.Database.Retention
		go func() {
			processor.Start(ctx)
			close(snapshotsDone)
		}()
	}

	// Price feed
	var feed pricefeed.Feed
	switch cfg.PriceFeed.Mode {
	case "simulated":
		feed = pricefeed.NewSimulated(acct, cfg.Account.InitialPrices, cfg.PriceFeed.Symbols,
			cfg.PriceFeed.Interval, cfg.PriceFeed.Volatility, time.Now().UnixNano())
	case "binance":
		feed = pricefeed.NewBinance(acct, cfg.PriceFeed.URL, cfg.PriceFeed.Symbols)
	}
	if feed != nil {
		go func() {
			if err := feed.Run(ctx); err != nil {
				zlog.Error().Err(err).Msg("price feed stopped")
			}
		}()
	}

	// Rate limiting
	limiter := middleware.NewRateLimiter()
	go func() {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				limiter.Cleanup(30 * time.Minute)
			}
		}
	}()

	router := gin.Default()
	api.SetupRoutes(router, api.Dependencies{
		Auth:        authService,
		Account:     acct,
		Snapshots:   db,
		RateLimiter: limiter,
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router,
	}

	go func() {
		zlog.Info().Str("port", cfg.Server.Port).Str("price_feed", cfg.PriceFeed.Mode).Msg("paper trading server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal().Err(err).Msg("listen")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info().Msg("Shutting down server...")

	// Give outstanding requests 5 seconds to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Error().Err(err).Msg("Server forced to shutdown")
	}

	// stop the feed and take the final snapshot
	cancel()
	<-snapshotsDone

	zlog.Info().Msg("Server exiting")
}
