package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/Mazaadak/mazadak-cart-service/internal/cache"
	"github.com/Mazaadak/mazadak-cart-service/internal/client"
	carthttp "github.com/Mazaadak/mazadak-cart-service/internal/http"
	"github.com/Mazaadak/mazadak-cart-service/internal/repository"
	"github.com/Mazaadak/mazadak-cart-service/internal/service"
	"github.com/Mazaadak/mazadak-cart-service/pkg/logger"
)

type Config struct {
	HTTPPort            string
	AppEnv              string
	LogLevel            string
	DBHost              string
	DBPort              int
	DBUser              string
	DBPassword          string
	DBName              string
	MigrationsDirPath   string
	RedisAddr           string
	RedisPassword       string
	CatalogBaseURL      string
	CatalogTimeout      time.Duration
	RequestTimeout      time.Duration
	ShutdownTimeout     time.Duration
	ClearRequiresActive bool
}

func loadConfig() *Config {
	return &Config{
		HTTPPort:            getEnv("HTTP_PORT", "8080"),
		AppEnv:              getEnv("APP_ENV", "dev"),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		DBHost:              getEnv("DB_HOST", "localhost"),
		DBPort:              getEnvInt("DB_PORT", 5432),
		DBUser:              getEnv("DB_USER", "cart"),
		DBPassword:          getEnv("DB_PASSWORD", "cart"),
		DBName:              getEnv("DB_NAME", "cartdb"),
		MigrationsDirPath:   getEnv("MIGRATIONS_DIR", "internal/repository/migrations"),
		RedisAddr:           getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:       getEnv("REDIS_PASSWORD", ""),
		CatalogBaseURL:      getEnv("PRODUCT_CATALOG_URL", "http://localhost:8081"),
		CatalogTimeout:      5 * time.Second,
		RequestTimeout:      30 * time.Second,
		ShutdownTimeout:     10 * time.Second,
		ClearRequiresActive: getEnvBool("CLEAR_REQUIRES_ACTIVE", false),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return n
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return b
}

func main() {
	cfg := loadConfig()

	logg := logger.New(logger.Options{
		Service: "cart-service",
		Env:     cfg.AppEnv,
		Level:   cfg.LogLevel,
	})

	creds := &repository.Credentials{
		Host:              cfg.DBHost,
		Port:              cfg.DBPort,
		User:              cfg.DBUser,
		Password:          cfg.DBPassword,
		DBName:            cfg.DBName,
		MigrationsDirPath: cfg.MigrationsDirPath,
	}
	repo, err := repository.NewRepository(creds)
	if err != nil {
		log.Fatalf("Failed to connect to postgres: %v", err)
	}
	defer repo.Close()

	if err := repo.RunMigrations(creds); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	logg.Info("connected to postgres", "host", cfg.DBHost, "db", cfg.DBName)

	ctx := context.Background()
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       0,
	})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatalf("Redis connection failed: %v", err)
	}
	logg.Info("connected to redis", "addr", cfg.RedisAddr)

	cartCache := cache.NewRedisCache(redisClient)
	catalog := client.NewProductClient(cfg.CatalogBaseURL, cfg.CatalogTimeout)

	svc := service.NewCartService(repo, repo, catalog, cartCache, logg, service.Config{
		ClearRequiresActive: cfg.ClearRequiresActive,
	})
	handler := carthttp.NewCartHandler(svc, logg)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.RequestTimeout))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Mount("/carts", handler.Routes())

	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.HTTPPort),
		Handler: r,
	}

	go func() {
		logg.Info("cart service listening", "port", cfg.HTTPPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to serve: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logg.Info("shutting down cart service")
	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logg.Error("server shutdown failed", "error", err)
	}
	logg.Info("cart service stopped")
}
