package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chitchat/internal/config"
	"github.com/chitchat/internal/handler"
	"github.com/chitchat/internal/ledger"
	"github.com/chitchat/internal/logger"
	"github.com/chitchat/internal/membership"
	"github.com/chitchat/internal/middleware"
	"github.com/chitchat/internal/presence"
	"github.com/chitchat/internal/repository"
	"github.com/chitchat/internal/scheduler"
	"github.com/chitchat/internal/startup"
	"github.com/chitchat/internal/storage"
	memorystorage "github.com/chitchat/internal/storage/memory"
	"github.com/chitchat/internal/ws"
	"github.com/chitchat/migrations"
)

func main() {
	logger.SetPrefix("api")
	migrate := flag.Bool("migrate", false, "run database migrations and exit")
	dev := flag.Bool("dev", false, "start with embedded PostgreSQL and in-process event bus (no external services required)")
	flag.Parse()

	logger.Info("starting API service")
	cfg := config.Load()

	var embeddedDB *embeddedpostgres.EmbeddedPostgres
	if *dev {
		var err error
		embeddedDB, err = startEmbeddedPostgres(cfg)
		if err != nil {
			logger.Errorf("embedded postgres: %v", err)
			os.Exit(1)
		}
		defer func() {
			logger.Info("stopping embedded postgres...")
			if err := embeddedDB.Stop(); err != nil {
				logger.Errorf("embedded postgres stop: %v", err)
			}
		}()
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL())
	if err != nil {
		logger.Errorf("parse db config: %v", err)
		os.Exit(1)
	}
	poolCfg.MaxConns = int32(cfg.DBMaxConnections())
	poolCfg.MinConns = 4

	pool := startup.ConnectDBWithRetry(poolCfg, 60*time.Second, "")
	defer pool.Close()

	runMigrations(pool)
	if *migrate && !*dev {
		return
	}
	logger.Info("database connected, migrations applied")

	// Шина событий: Redis в обычном режиме, внутрипроцессная в -dev.
	var bus storage.Bus
	if *dev {
		bus = memorystorage.New()
	} else {
		bus = startup.ConnectRedisWithRetry(cfg.Redis.URL, 60*time.Second, "")
	}
	defer bus.Close()

	userRepo := repository.NewUserRepository(pool)
	convRepo := repository.NewConversationRepository(pool)
	msgRepo := repository.NewMessageRepository(pool)
	schedRepo := repository.NewScheduledRepository(pool)
	friendRepo := repository.NewFriendRepository(pool)

	tracker := presence.NewTracker(userRepo, bus, cfg.Presence.HeartbeatInterval, cfg.Presence.OnlineThreshold)
	defer tracker.Close()
	memberSvc := membership.NewService(convRepo, userRepo, friendRepo, bus)
	ledgerSvc := ledger.NewService(msgRepo, convRepo, userRepo, bus)
	schedSvc := scheduler.NewService(schedRepo, convRepo, bus, cfg.Scheduler.MinLead)

	hubCtx, hubCancel := context.WithCancel(context.Background())
	hub := ws.NewHub(ledgerSvc, schedSvc, tracker, bus, cfg.ViewTick, cfg.MaxWSConnections)

	var hubWg sync.WaitGroup
	hubWg.Add(1)
	go func() {
		defer hubWg.Done()
		hub.Run(hubCtx)
	}()

	if *dev {
		// В -dev отдельный sweeper-процесс не запускается — крутим его здесь.
		hubWg.Add(1)
		go func() {
			defer hubWg.Done()
			scheduler.NewSweeper(schedSvc, cfg.Scheduler.SweepInterval).Run(hubCtx)
		}()
	}

	userH := handler.NewUserHandler(userRepo, tracker)
	convH := handler.NewConversationHandler(memberSvc, ledgerSvc)
	msgH := handler.NewMessageHandler(ledgerSvc, schedSvc)
	friendH := handler.NewFriendHandler(memberSvc, tracker)
	fileH := handler.NewFileHandler(cfg)
	internalH := handler.NewInternalHandler(schedSvc)
	wsH := handler.NewWSHandler(hub, cfg.CORSAllowedOrigins)

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(middleware.RecoverJSON)
	// Не сжимать WebSocket — иначе ResponseWriter не реализует http.Hijacker и upgrade даёт 500.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if strings.EqualFold(req.Header.Get("Upgrade"), "websocket") {
				next.ServeHTTP(w, req)
				return
			}
			chimw.Compress(5)(next).ServeHTTP(w, req)
		})
	})
	r.Use(middleware.RequestLog)
	r.Use(middleware.RateLimitAPI)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{cfg.CORSAllowedOrigins},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-User-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK); w.Write([]byte("ok")) })
	r.Get("/api/files/{filename}", fileH.Serve)

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireUser)
		r.Get("/api/users/me", userH.GetProfile)
		r.Put("/api/users/me", userH.UpdateProfile)
		r.Get("/api/users/search", userH.SearchUsers)
		r.Get("/api/users/{id}", userH.GetUser)
		r.Get("/api/friends", friendH.ListFriends)
		r.Get("/api/friends/requests", friendH.ListRequests)
		r.Post("/api/friends/requests", friendH.SendRequest)
		r.Post("/api/friends/requests/{requestId}/accept", friendH.AcceptRequest)
		r.Delete("/api/friends/requests/{requestId}", friendH.DeclineRequest)
		r.Get("/api/conversations", convH.List)
		r.Post("/api/conversations/direct", convH.EnsureDirect)
		r.Post("/api/conversations/group", convH.CreateGroup)
		r.Get("/api/conversations/{id}", convH.Get)
		r.Put("/api/conversations/{id}", convH.UpdateInfo)
		r.Post("/api/conversations/{id}/members", convH.AddMembers)
		r.Delete("/api/conversations/{id}/members/{memberId}", convH.RemoveMember)
		r.Post("/api/conversations/{id}/clear", convH.Clear)
		r.Post("/api/conversations/{id}/seen", convH.MarkSeen)
		r.Get("/api/conversations/{id}/messages", msgH.List)
		r.Post("/api/conversations/{id}/messages", msgH.Send)
		r.Get("/api/conversations/{id}/scheduled", msgH.ListScheduled)
		r.Post("/api/conversations/{id}/scheduled", msgH.Schedule)
		r.Delete("/api/scheduled/{scheduledId}", msgH.CancelScheduled)
		r.Delete("/api/messages/{messageId}", msgH.DeleteForEveryone)
		r.Post("/api/messages/{messageId}/hide", msgH.HideForMe)
		r.Post("/api/messages/{messageId}/hide-for", msgH.HideForMembers)
		r.Post("/api/files/upload", fileH.Upload)
		r.Get("/ws", wsH.ServeWS)
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.InternalOnly)
		r.Post("/internal/users", userH.CreateUser)
		r.Post("/internal/sweep", internalH.Sweep)
	})

	srv := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	var srvWg sync.WaitGroup
	errCh := make(chan error, 1)
	srvWg.Add(1)
	go func() {
		defer srvWg.Done()
		logger.Infof("server listening on %s", cfg.ServerAddr)
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Errorf("server error: %v", err)
			os.Exit(1)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("server shutdown: %v", err)
	}
	logger.Info("server stopped accepting connections")
	hubCancel()
	hubWg.Wait()
	logger.Info("hub stopped")
	srvWg.Wait()
	logger.Info("server goroutine exited")
}

func runMigrations(pool *pgxpool.Pool) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	entries, err := migrations.Files.ReadDir(".")
	if err != nil {
		logger.Errorf("read migrations: %v", err)
		os.Exit(1)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, name := range names {
		data, err := migrations.Files.ReadFile(name)
		if err != nil {
			logger.Errorf("read migration %s: %v", name, err)
			os.Exit(1)
		}
		if _, err := pool.Exec(ctx, string(data)); err != nil {
			logger.Errorf("run migration %s: %v", name, err)
			os.Exit(1)
		}
	}
	logger.Info("migrations applied")
}

func startEmbeddedPostgres(cfg *config.Config) (*embeddedpostgres.EmbeddedPostgres, error) {
	const (
		port     = 5432
		user     = "chitchat"
		password = "chitchat_secret"
		database = "chitchat"
	)

	dataDir := filepath.Join(".", ".pgdata")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create pgdata dir: %w", err)
	}

	db := embeddedpostgres.NewDatabase(
		embeddedpostgres.DefaultConfig().
			Port(port).
			Username(user).
			Password(password).
			Database(database).
			DataPath(dataDir).
			RuntimePath(filepath.Join(os.TempDir(), "embedded-pg-runtime")),
	)

	logger.Info("starting embedded PostgreSQL...")
	if err := db.Start(); err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}

	cfg.Database.URL = fmt.Sprintf(
		"postgres://%s:%s@localhost:%d/%s?sslmode=disable",
		user, password, port, database,
	)
	logger.Infof("embedded PostgreSQL running on port %d", port)
	return db, nil
}
