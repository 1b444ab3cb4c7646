package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/playvault/backend/docs"
	"github.com/playvault/backend/internal/config"
	"github.com/playvault/backend/internal/database"
	"github.com/playvault/backend/internal/handlers"
	mW "github.com/playvault/backend/internal/middleware"
	"github.com/playvault/backend/internal/services"
	"github.com/spf13/viper"
	httpSwagger "github.com/swaggo/http-swagger"
)

// @title PlayVault Economy API
// @version 1.0
// @description Virtual-currency ledger and weighted-reward engine
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https

func main() {
	// Initialize config
	viper.SetConfigFile(".env") // explicitly point to .env file
	viper.AutomaticEnv()        // allow environment variables to override .env

	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.name", "DATABASE_NAME")
	viper.BindEnv("database.ssl_mode", "DATABASE_SSL_MODE")

	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")

	viper.BindEnv("jwt.secret_key", "JWT_SECRET_KEY")
	viper.BindEnv("admin.key_hash", "ADMIN_KEY_HASH")
	viper.BindEnv("admin.key_salt", "ADMIN_KEY_SALT")
	viper.BindEnv("argon2.time", "ARGON2_TIME")
	viper.BindEnv("argon2.memory", "ARGON2_MEMORY")
	viper.BindEnv("argon2.threads", "ARGON2_THREADS")

	viper.SetDefault("argon2.time", 1)
	viper.SetDefault("argon2.memory", 64*1024)
	viper.SetDefault("argon2.threads", 4)

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}

	if viper.GetString("jwt.secret_key") == "" && viper.GetString("admin.key_hash") == "" {
		log.Fatal("Either JWT_SECRET_KEY or ADMIN_KEY_HASH must be configured for the config surface")
	}

	// Initialize Swagger docs
	docs.SwaggerInfo.Title = "PlayVault Economy API"
	docs.SwaggerInfo.Description = "Virtual-currency ledger and weighted-reward engine"
	docs.SwaggerInfo.Version = "1.0"
	docs.SwaggerInfo.Host = "localhost:8080"
	docs.SwaggerInfo.BasePath = "/api/v1"
	docs.SwaggerInfo.Schemes = []string{"http", "https"}

	// Initialize stores
	db := database.InitDatabase()
	defer db.Close()

	redisClient := database.InitRedis()
	if redisClient != nil {
		defer redisClient.Close()
	}

	economyCfg := config.Load()

	// Initialize services
	ledgerService := services.NewLedgerService(db)
	quotaService := services.NewQuotaService(db, economyCfg)
	settingsService := services.NewSettingsService(db)
	rewardEngine := services.NewRewardEngine(db, economyCfg, settingsService)
	economyService := services.NewEconomyService(db, redisClient, ledgerService,
		quotaService, rewardEngine, settingsService, economyCfg)
	walletService := services.NewWalletService(db, ledgerService, quotaService)
	storeService := services.NewStoreService(ledgerService, settingsService)
	configHandler := handlers.NewConfigHandler(settingsService, rewardEngine)

	// The engine refuses wagers until a valid table is loaded; a missing or
	// invalid table at startup is visible but not fatal.
	if err := rewardEngine.LoadPrizeTable(context.Background()); err != nil {
		log.Printf("Warning: no active prize table loaded: %v", err)
	}

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Admin-Key"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	// Swagger documentation
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("http://localhost:8080/swagger/doc.json"),
	))

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/economy/earn", economyService.Earn)
		r.Post("/economy/wager", economyService.Wager)

		r.Get("/accounts/{accountId}/balance", economyService.Balance)
		r.Get("/accounts/{accountId}/transactions", economyService.History)
		r.Get("/wallet/{accountId}", walletService.Summary)

		r.Post("/store/purchase", storeService.Purchase)
		r.Post("/store/topup", storeService.TopUp)

		// Privileged surface
		r.Group(func(r chi.Router) {
			r.Use(mW.AdminAuthMiddleware)

			r.Get("/config/prizes", configHandler.ListPrizes)
			r.Put("/config/prizes", configHandler.ReplacePrizes)
			r.Get("/config/{key}", configHandler.GetSetting)
			r.Put("/config/{key}", configHandler.PutSetting)
			r.Get("/config/{key}/history", configHandler.SettingHistory)

			r.Post("/admin/adjustments", economyService.Adjust)
		})
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// Start server
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.Printf("Server starting on :%s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server stopped")
}
