//	@title			Filegate API
//	@version		1.0
//	@description	Object storage gateway — uploads, signed retrieval URLs, and metadata-backed access control over a private bucket.
//
//	@host		localhost:8080
//	@BasePath	/api/v1
//
//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
//	@description				JWT Bearer token. Format: **Bearer {token}**

package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	httpSwagger "github.com/swaggo/http-swagger/v2"

	"github.com/filegate/service/internal/config"
	"github.com/filegate/service/internal/db"
	"github.com/filegate/service/internal/file"
	appMiddleware "github.com/filegate/service/internal/middleware"
	"github.com/filegate/service/internal/storage"
	"github.com/filegate/service/internal/user"

	_ "github.com/filegate/service/docs/swagger"
)

const sweepInterval = time.Hour

func main() {
	cfg := config.Load()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if !cfg.IsProduction() {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	pool, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("database connection failed")
	}
	defer pool.Close()

	if err := db.Migrate(cfg.DatabaseURL); err != nil {
		log.Fatal().Err(err).Msg("database migration failed")
	}

	store, err := storage.NewMinioStore(
		cfg.StorageEndpoint,
		cfg.StorageAccessKey,
		cfg.StorageSecretKey,
		cfg.StorageBucket,
		cfg.StorageRegion,
		cfg.StorageUseSSL,
	)
	if err != nil {
		log.Fatal().Err(err).Msg("object storage init failed")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		log.Fatal().Err(err).Msg("redis connection failed")
	}
	defer rdb.Close()
	limiter := appMiddleware.NewRateLimiter(rdb)

	// Wire dependencies: repository → service → handler
	userRepo := user.NewRepository(pool)
	userSvc := user.NewService(userRepo, store)
	userHandler := user.NewHandler(userSvc)

	fileRepo := file.NewRepository(pool)
	fileSvc := file.NewService(fileRepo, store, file.NewSigner(store), userSvc)
	fileHandler := file.NewHandler(fileSvc)

	sweeper := file.NewSweeper(fileSvc, sweepInterval)
	sweepCtx, stopSweep := context.WithCancel(context.Background())
	sweeper.Start(sweepCtx)

	// Router
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(appMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Swagger UI — available at http://localhost:8080/swagger/
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/upload", func(r chi.Router) {
			r.Use(appMiddleware.RequireAuth(cfg.JWTSecret))

			r.Group(func(r chi.Router) {
				r.Use(limiter.Limit("upload", 50, 15*time.Minute))
				r.Post("/single", fileHandler.UploadSingle)
				r.Post("/multiple", fileHandler.UploadMultiple)
				r.Post("/avatar", fileHandler.UploadAvatar)
			})

			r.Group(func(r chi.Router) {
				r.Use(limiter.Limit("download", 100, 15*time.Minute))
				r.Get("/files", fileHandler.ListFiles)
				r.Get("/download/{id}", fileHandler.Download)
				r.Get("/thumbnail/{id}", fileHandler.Thumbnail)
			})

			r.Group(func(r chi.Router) {
				r.Use(limiter.Limit("delete", 10, 15*time.Minute))
				r.Delete("/{id}", fileHandler.Delete)
			})

			r.Patch("/{id}", fileHandler.Update)

			r.Group(func(r chi.Router) {
				r.Use(appMiddleware.RequireRole(file.RoleAdmin, file.RoleStaff))
				r.Get("/stats", fileHandler.StatsHandler)
			})
		})

		r.Route("/users", func(r chi.Router) {
			r.Use(appMiddleware.RequireAuth(cfg.JWTSecret))
			r.Get("/me", userHandler.GetMe)
		})
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine; wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Info().Str("port", cfg.Port).Str("env", cfg.AppEnv).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	<-quit
	log.Info().Msg("shutting down gracefully...")

	stopSweep()
	sweeper.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("forced shutdown")
	}

	log.Info().Msg("server stopped")
}
