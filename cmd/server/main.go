// @title           Home Project Backend API
// @version         1.0.0
// @description     Backend API for tracking home improvement projects with AI room previews and build plans. Status changes are pushed via Supabase Realtime.

// @contact.name   API Support
// @contact.email  support@example.com

// @license.name  MIT
// @license.url   https://opensource.org/licenses/MIT

// @host      localhost:8080
// @BasePath  /api/v1

// @securityDefinitions.apikey Bearer
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.

package main

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"homeproject-backend/docs"
	"homeproject-backend/internal/billing"
	"homeproject-backend/internal/config"
	"homeproject-backend/internal/database"
	"homeproject-backend/internal/entitlement"
	"homeproject-backend/internal/handlers"
	"homeproject-backend/internal/lifecycle"
	"homeproject-backend/internal/logging"
	"homeproject-backend/internal/middleware"
	"homeproject-backend/internal/provider"
	"homeproject-backend/internal/services"
	"homeproject-backend/internal/store"
	"homeproject-backend/internal/suggestions"
	"homeproject-backend/internal/supabase"
)

type storeWithPing interface {
	store.Store
	handlers.Pinger
}

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		bootLogger := logging.Setup("development", "info")
		bootLogger.Fatal().Err(err).Msg("Failed to load configuration")
	}
	logger := logging.Setup(cfg.Environment, cfg.LogLevel)

	// Set Gin mode
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	// Update Swagger docs with dynamic base URL
	configureSwagger(cfg.BaseURL)

	db, closeDB := openStore(cfg, logger)
	defer closeDB()

	// Supabase clients
	var verifier middleware.TokenVerifier
	var publisher lifecycle.Publisher
	if cfg.SupabaseURL != "" && cfg.SupabasePublishableKey != "" {
		supabaseClient, err := supabase.NewClient(cfg)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to initialize Supabase client")
		}
		verifier = supabaseClient
		if cfg.RealtimeEnabled {
			publisher = supabase.NewRealtimeClient(cfg.SupabaseURL, cfg.SupabasePublishableKey)
		}
	}

	var storageService *services.StorageService
	if cfg.SupabaseURL != "" && cfg.SupabaseServiceRoleKey != "" {
		storageClient, err := supabase.NewStorageClient(cfg.SupabaseURL, cfg.SupabaseServiceRoleKey, cfg.SupabaseStorageBucket)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to initialize storage client")
		}
		storageService = services.NewStorageService(storageClient, logger)
	} else {
		logger.Warn().Msg("SUPABASE_SERVICE_ROLE_KEY not set. Image uploads and preview mirroring are disabled.")
	}

	previewStub := &provider.StubPreview{Delay: cfg.PreviewStubDelay, PlaceholderBaseURL: cfg.PreviewPlaceholderBaseURL}
	planStub := &provider.StubPlan{Delay: cfg.PlanStubDelay}

	var previewProvider provider.PreviewProvider = previewStub
	if cfg.PreviewProvider == config.ProviderRemote {
		previewProvider = provider.NewRemoteImage(cfg.PreviewAPIBaseURL, cfg.PreviewAPIKey, provider.WithTimeout(cfg.ProviderTimeout))
	}

	var planProvider provider.PlanProvider = planStub
	suggestionSource := suggestions.Source(nil)
	if cfg.OpenAIAPIKey != "" {
		model, err := provider.NewOpenAIModel(cfg.OpenAIAPIKey, cfg.OpenAIModel, cfg.OpenAIBaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to initialize LLM client")
		}
		if cfg.PlanProvider == config.ProviderLLM {
			planProvider = provider.NewLLMPlan(model)
		}
		suggestionSource = suggestions.NewLLMSource(model)
	}
	logger.Info().
		Str("preview_provider", previewProvider.Name()).
		Str("plan_provider", planProvider.Name()).
		Msg("providers selected")

	resolver := entitlement.NewResolver(db, entitlement.Options{
		FreeQuotaOverride: cfg.FreeQuotaOverride,
		DegradedMode:      cfg.DegradedMode,
	}, logger)

	deps := lifecycle.Deps{
		Store:           db,
		Entitlements:    resolver,
		Preview:         previewProvider,
		PreviewFallback: previewStub,
		Plan:            planProvider,
		PlanFallback:    planStub,
		Publisher:       publisher,
		Logger:          logger,
	}
	if storageService != nil {
		deps.Mirror = storageService
	}
	controller := lifecycle.NewController(deps, lifecycle.Options{
		SinglePreviewPerProject: cfg.SinglePreviewPerProject,
		OperationDeadline:       cfg.OperationDeadline,
		ProviderTimeout:         cfg.ProviderTimeout,
		PollInterval:            cfg.PollInterval,
		MaxBackgroundJobs:       cfg.MaxBackgroundJobs,
	})

	resumed, err := controller.Resume(context.Background())
	if err != nil {
		logger.Error().Err(err).Msg("Failed to resume pending operations")
	} else if resumed > 0 {
		logger.Info().Int("count", resumed).Msg("Resumed pending operations")
	}

	var files handlers.ProjectFiles
	if storageService != nil {
		files = storageService
	}

	router := handlers.Router{
		Health:      db,
		Auth:        middleware.AuthMiddleware(cfg.SupabaseJWTSecret, verifier, logger),
		Projects:    handlers.NewProjectsHandler(controller, files, logger),
		Process:     handlers.NewProcessHandler(controller),
		Status:      handlers.NewStatusHandler(controller),
		Profiles:    handlers.NewProfilesHandler(resolver),
		Scans:       handlers.NewScansHandler(controller, db),
		Suggestions: handlers.NewSuggestionsHandler(suggestions.NewService(suggestionSource, cfg.SuggestionCacheSize, cfg.SuggestionCacheTTL, logger)),
		Webhook: handlers.NewWebhookHandler(
			billing.NewProcessor(db, cfg.StripeWebhookSecret, billing.Prices{Casual: cfg.StripePriceCasual, Pro: cfg.StripePricePro}, logger),
			logger,
		),
		Logger: logger,
	}.Engine()

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info().Str("port", cfg.Port).Msg("Server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info().Msg("Shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Server shutdown failed")
	}
	// Interrupted background work stays pending and is resumed on next start.
	controller.Stop()
}

// openStore connects to Postgres and applies migrations, or falls back to
// the in-memory store when DATABASE_URL is unset outside production.
func openStore(cfg *config.Config, logger zerolog.Logger) (storeWithPing, func()) {
	if cfg.DatabaseURL == "" {
		logger.Warn().Msg("DATABASE_URL not set. Using the in-memory store; data is lost on restart.")
		return store.NewMemory(), func() {}
	}

	migrator, err := database.NewMigrator(cfg.DatabaseURL, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize migrator")
	}
	if err := migrator.Run(context.Background()); err != nil {
		logger.Fatal().Err(err).Msg("Migration failed")
	}
	migrator.Close()
	logger.Info().Msg("Migrations completed successfully")

	dbClient, err := supabase.NewDatabaseClient(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize database client")
	}
	return dbClient, func() {
		if err := dbClient.Close(); err != nil {
			logger.Warn().Err(err).Msg("Failed to close database")
		}
	}
}

func configureSwagger(rawURL string) {
	if rawURL == "" {
		return
	}
	baseURL, err := url.Parse(rawURL)
	if err != nil || baseURL.Host == "" {
		return
	}
	docs.SwaggerInfo.Host = baseURL.Host
	if baseURL.Scheme == "https" {
		docs.SwaggerInfo.Schemes = []string{"https", "http"}
	} else {
		docs.SwaggerInfo.Schemes = []string{"http", "https"}
	}
}
