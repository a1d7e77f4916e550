package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"creator-dm-backend/internal/config"
	"creator-dm-backend/internal/crypto"
	"creator-dm-backend/internal/handlers"
	"creator-dm-backend/internal/middleware"
	"creator-dm-backend/internal/payments"
	"creator-dm-backend/internal/policy"
	"creator-dm-backend/internal/repository"
	"creator-dm-backend/internal/services"
	"creator-dm-backend/internal/storage"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func Run() {
	// Load configuration
	cfg, err := config.Load("config.yaml")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Setup logger
	setupLogger(cfg.Log.Level)

	// Connect to database
	db, err := pgxpool.New(context.Background(), cfg.Database.DSN())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	if err := db.Ping(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("Failed to ping database")
	}
	log.Info().Msg("Database connection established")

	// At-rest envelope
	envelope, err := crypto.NewEnvelope(cfg.Crypto.EnvelopeKey)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load envelope key")
	}

	// Initialize repositories
	userRepo := repository.NewUserRepository(db)
	creatorRepo := repository.NewCreatorRepository(db)
	convRepo := repository.NewConversationRepository(db)
	msgRepo := repository.NewMessageRepository(db)
	paymentRepo := repository.NewPaymentRepository(db)
	subRepo := repository.NewSubscriptionRepository(db)

	// Blob store collaborator
	blobs, err := storage.NewS3BlobStore(context.Background(),
		cfg.AWS.Region,
		cfg.AWS.S3Bucket,
		cfg.AWS.AccessKey,
		cfg.AWS.SecretKey,
		cfg.AWS.Endpoint,
	)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create blob store")
	}

	// Checkout provider collaborator
	provider := payments.NewStripeProvider(cfg.Stripe.APIKey, cfg.Stripe.WebhookSecret)

	// Push notifier, nil when disabled
	var notifier services.PushNotifier
	if apns, err := services.NewAPNsNotifier(cfg.APNs); err != nil {
		log.Fatal().Err(err).Msg("Failed to create APNs client")
	} else if apns != nil {
		notifier = apns
	}

	// Initialize services
	authService := services.NewAuthService(cfg.JWT.Secret)
	policyEngine := policy.NewEngine(convRepo, creatorRepo, subRepo, msgRepo)
	wsHub := services.NewWSHub()
	conversationService := services.NewConversationService(
		convRepo, msgRepo, userRepo, creatorRepo, paymentRepo,
		policyEngine, envelope, blobs, wsHub, notifier,
	)
	paymentService := services.NewPaymentService(
		paymentRepo, subRepo, msgRepo, convRepo, creatorRepo,
		provider, envelope, wsHub, cfg.Server.BaseURL,
	)

	// Initialize handlers
	conversationHandler := handlers.NewConversationHandler(conversationService)
	messageHandler := handlers.NewMessageHandler(conversationService, paymentService)
	paymentHandler := handlers.NewPaymentHandler(paymentService)
	wsHandler := handlers.NewWebSocketHandler(wsHub, authService)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(corsMiddleware)

	// Routes
	r.Route("/api/v1", func(r chi.Router) {
		// Webhook is authenticated by signature, not bearer token
		r.Post("/webhooks/stripe", paymentHandler.StripeWebhook)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(middleware.AuthMiddleware(authService))

			r.Post("/conversations", conversationHandler.CreateConversation)
			r.Get("/conversations", conversationHandler.ListConversations)
			r.Get("/conversations/{conversation_id}/messages", messageHandler.ListMessages)
			r.Post("/conversations/{conversation_id}/messages", messageHandler.SendMessage)
			r.Post("/conversations/{conversation_id}/media", messageHandler.SendMedia)
			r.Post("/conversations/{conversation_id}/block", conversationHandler.Block)
			r.Post("/conversations/{conversation_id}/unblock", conversationHandler.Unblock)

			r.Get("/messages/{message_id}/file", messageHandler.GetMessageFile)
			r.Post("/messages/{message_id}/unlock", messageHandler.InitiateUnlock)

			r.Post("/payments/tip", paymentHandler.CreateTip)
			r.Post("/payments/subscribe", paymentHandler.CreateSubscription)
			r.Get("/payments/status/{session_id}", paymentHandler.GetPaymentStatus)

			r.Put("/users/push-token", conversationHandler.UpdatePushToken)

			r.Get("/creator/settings", conversationHandler.GetSettings)
			r.Put("/creator/settings", conversationHandler.UpdateSettings)
		})
	})

	// WebSocket route
	r.Get("/ws", wsHandler.HandleWebSocket)

	// Create HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().
			Str("host", cfg.Server.Host).
			Int("port", cfg.Server.Port).
			Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}

// setupLogger configures zerolog logger
func setupLogger(level string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// corsMiddleware handles CORS
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, Stripe-Signature")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
