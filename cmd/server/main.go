package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/planhub/backend/internal/auth"
	"github.com/planhub/backend/internal/board"
	"github.com/planhub/backend/internal/cache"
	"github.com/planhub/backend/internal/chat"
	"github.com/planhub/backend/internal/config"
	"github.com/planhub/backend/internal/db"
	"github.com/planhub/backend/internal/events"
	"github.com/planhub/backend/internal/export"
	"github.com/planhub/backend/internal/invites"
	"github.com/planhub/backend/internal/mail"
	mw "github.com/planhub/backend/internal/middleware"
	"github.com/planhub/backend/internal/polls"
	"github.com/planhub/backend/internal/realtime"
	"github.com/planhub/backend/internal/scheduler"
	"github.com/planhub/backend/internal/users"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("configuration error: %v", err)
	}

	// Database
	ctx := context.Background()
	database, err := db.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer database.Close()
	if err := db.RunMigrations(cfg.DatabaseURL, cfg.MigrationsPath); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}
	pool := database.Pool

	// Broker + hub
	broker, err := realtime.NewBroker(cfg)
	if err != nil {
		log.Fatalf("broker setup failed: %v", err)
	}
	defer broker.Close() //nolint:errcheck // best-effort cleanup on shutdown
	hub := realtime.NewHub(broker)

	// Cache: redis with in-process fallback, or in-process only
	var progressCache cache.Cache = cache.NewMemoryCache()
	if cfg.UseRedisCache && cfg.RedisURL != "" {
		remote, err := cache.NewRedisCache(cfg.RedisURL)
		if err != nil {
			log.Printf("WARNING: redis cache setup failed: %v (using in-process cache)", err)
		} else {
			progressCache = cache.NewSafe(remote)
			log.Println("Using redis cache with in-process fallback")
		}
	}

	// Outbound email
	var mailer mail.Sender
	if cfg.SMTPHost != "" {
		smtpSender, err := mail.New(mail.Config{
			Host: cfg.SMTPHost,
			Port: cfg.SMTPPort,
			User: cfg.SMTPUser,
			Pass: cfg.SMTPPass,
			From: cfg.EmailFrom,
		})
		if err != nil {
			log.Fatalf("mailer setup failed: %v", err)
		}
		mailer = smtpSender
	} else {
		mailer = mail.LogSender{}
		log.Println("SMTP not configured, email goes to the log")
	}

	// Auth
	jwtService := auth.NewJWTService(cfg.SecretKey)
	authService := auth.NewService(database, jwtService, mailer, cfg.SecretKey, cfg.SiteURL)
	authHandlers := auth.NewHandlers(authService)

	// Domain services
	eventStore := events.NewStore(pool)
	eventHandlers := events.NewHandlers(eventStore)

	inviteStore := invites.NewStore(pool)
	inviteHandlers := invites.NewHandlers(inviteStore, eventStore, cfg.SiteFrontURL)

	boardService := board.NewService(board.NewStore(pool), hub, progressCache)
	boardHandlers := board.NewHandlers(boardService, eventStore)

	pollService := polls.NewService(polls.NewStore(pool), hub)
	pollHandlers := polls.NewHandlers(pollService, eventStore)

	chatService := chat.NewService(chat.NewStore(pool), hub)
	chatHandlers := chat.NewHandlers(chatService, eventStore)

	userHandlers := users.NewHandlers(pool)
	exportHandlers := export.NewHandlers(boardService.Store(), eventStore)

	// WebSocket gateway
	wsHandler := realtime.NewWSHandler(hub, broker, jwtService, eventStore, cfg.WSMaxMessageSize)

	// Background scheduler
	digestCron := ""
	if cfg.EnableDailyDigest {
		digestCron = cfg.DailyDigestCron
	}
	sched := scheduler.New(scheduler.NewJobs(pool, mailer), digestCron)
	if err := sched.Start(); err != nil {
		log.Fatalf("scheduler setup failed: %v", err)
	}
	defer sched.Stop()

	// Router
	r := mux.NewRouter()

	// Rate limiting: 100 req/s per IP with burst of 200
	r.Use(mw.RateLimitMiddleware(100, 200))

	// Health check (no auth)
	r.HandleFunc("/healthz", healthzHandler).Methods("GET")

	// Public routes
	authHandlers.RegisterRoutes(r)
	inviteHandlers.RegisterPublicRoutes(r)

	// WebSocket route (token checked during the handshake)
	wsHandler.RegisterRoutes(r)

	// Protected routes
	protected := r.PathPrefix("").Subrouter()
	protected.Use(mw.AuthMiddleware(jwtService))
	authHandlers.RegisterProtectedRoutes(protected)
	eventHandlers.RegisterRoutes(protected)
	inviteHandlers.RegisterRoutes(protected)
	boardHandlers.RegisterRoutes(protected)
	pollHandlers.RegisterRoutes(protected)
	chatHandlers.RegisterRoutes(protected)
	userHandlers.RegisterRoutes(protected)
	exportHandlers.RegisterRoutes(protected)

	// HTTP server. CORS wraps the whole router so OPTIONS preflight is
	// answered before mux routing.
	srv := &http.Server{
		Addr:           ":" + cfg.Port,
		Handler:        corsMiddleware(r),
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   15 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 20, // 1 MB
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		log.Println("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Fatalf("Server shutdown failed: %v", err)
		}
	}()

	log.Printf("Starting server on :%s", cfg.Port)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Server failed to start: %v", err)
	}

	log.Println("Server stopped")
}

func healthzHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`)) //nolint:errcheck
}

func corsMiddleware(next http.Handler) http.Handler {
	allowedOrigins := os.Getenv("ALLOWED_ORIGINS")
	if allowedOrigins == "" {
		allowedOrigins = "http://localhost:3000"
	}

	origins := make(map[string]bool)
	for _, o := range strings.Split(allowedOrigins, ",") {
		origins[strings.TrimSpace(o)] = true
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origins[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
		} else if len(origins) == 1 {
			// Single origin mode: always set it (for dev convenience)
			for o := range origins {
				w.Header().Set("Access-Control-Allow-Origin", o)
			}
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS, PATCH")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Credentials", "true")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
