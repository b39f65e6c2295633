package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	h "github.com/gorilla/handlers"
	"github.com/promptforge/promptforge-api/internal/config"
	"github.com/promptforge/promptforge-api/internal/handlers"
	"github.com/promptforge/promptforge-api/internal/identity"
	"github.com/promptforge/promptforge-api/internal/ledger"
	"github.com/promptforge/promptforge-api/internal/middleware"
	"github.com/promptforge/promptforge-api/internal/migration"
	"github.com/promptforge/promptforge-api/internal/notification"
	"github.com/promptforge/promptforge-api/internal/registry"
	"github.com/promptforge/promptforge-api/internal/repository"
	"github.com/promptforge/promptforge-api/internal/routes"
	"github.com/promptforge/promptforge-api/internal/session"
	"github.com/rs/zerolog"

	_ "github.com/lib/pq" // PostgreSQL driver
)

type application struct {
	config *config.Config
	db     *sql.DB
	logger zerolog.Logger
}

func main() {
	// Set up structured, level-based logging.
	consoleWriter := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen}
	logger := zerolog.New(consoleWriter).With().Timestamp().Logger()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	log.SetFlags(0)
	log.SetOutput(logger)

	// Load configuration.
	cfg := config.Load()

	// Initialize database connection.
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to the database")
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to ping database")
	}

	// Run database migrations.
	migration.RunMigrations(cfg.DatabaseURL, logger)

	app := &application{
		config: cfg,
		db:     db,
		logger: logger,
	}

	// Initialize the HTTP router and middleware.
	router := app.initRouter(logger)
	loggedRouter := middleware.LoggingMiddleware(app.logger)(router)
	corsHandler := h.CORS(
		h.AllowedOrigins([]string{"http://localhost:3000"}),
		h.AllowedMethods([]string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
		h.AllowedHeaders([]string{"Content-Type", "Authorization"}),
		h.AllowCredentials(),
	)(loggedRouter)

	// Start the HTTP server and handle graceful shutdown.
	app.startServer(corsHandler, logger)

	logger.Info().Msg("Application terminated.")
}

// initRouter sets up all HTTP handlers and returns the router.
func (app *application) initRouter(logger zerolog.Logger) http.Handler {
	store := repository.NewStore(app.db)
	provider := identity.NewJWTProvider(app.config.JWTSecret)
	resolver := session.NewResolver(provider, store, logger)

	registryService := registry.NewService(store, logger)

	// Invitation emails are optional; without SMTP config the accept
	// URL is still returned to the inviting admin.
	var mailer notification.InviteMailer
	if app.config.Email.SMTPHost != "" {
		smtpMailer, err := notification.NewSMTPInviteMailer(app.config.Email)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to configure invite mailer")
		}
		mailer = smtpMailer
	}
	ledgerService := ledger.NewService(store, mailer, app.config.AppOrigin, logger)

	authHandler := handlers.NewAuthHandler(store, provider, app.config.SessionTTL, logger)
	teamHandler := handlers.NewTeamHandler(resolver, registryService, logger)
	invitationHandler := handlers.NewInvitationHandler(resolver, ledgerService, logger)
	adminHandler := handlers.NewAdminHandler(registryService, logger)

	return routes.NewRouter(resolver, authHandler, teamHandler, invitationHandler, adminHandler)
}

// startServer launches the HTTP server and handles graceful shutdown.
func (app *application) startServer(handler http.Handler, logger zerolog.Logger) {
	server := &http.Server{
		Addr:    ":" + app.config.ServerPort,
		Handler: handler,
	}

	// Channel to listen for server errors
	serverErrCh := make(chan error, 1)
	go func() {
		logger.Info().Msgf("Server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- err
		}
	}()

	// Wait for an interrupt signal or a server error.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info().Msgf("Received signal: %s. Shutting down...", sig)
	case err := <-serverErrCh:
		logger.Error().Err(err).Msg("Server error occurred")
	}

	// Gracefully shut down the HTTP server.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	} else {
		logger.Info().Msg("HTTP server shutdown complete.")
	}
}
