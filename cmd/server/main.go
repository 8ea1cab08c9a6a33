package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gigsync-server/internal/config"
	"gigsync-server/internal/domain"
	"gigsync-server/internal/handler"
	"gigsync-server/internal/middleware"
	"gigsync-server/internal/repository"
	"gigsync-server/internal/service"

	_ "github.com/go-kivik/kivik/v4/couchdb"

	"github.com/go-kivik/kivik/v4"
	"github.com/gorilla/mux"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	var (
		recordRepo repository.RecordRepository
		changeRepo repository.ChangesetRepository
		userRepo   repository.UserRepository
		deviceRepo repository.DeviceRepository
	)

	switch cfg.Database.Driver {
	case "couch":
		couchURL := fmt.Sprintf("http://%s:%s@%s:%s",
			cfg.Database.User,
			cfg.Database.Password,
			cfg.Database.Host,
			cfg.Database.Port,
		)

		client, err := kivik.New("couch", couchURL)
		if err != nil {
			log.Fatalf("Failed to connect to CouchDB: %v", err)
		}

		exists, err := client.DBExists(context.Background(), cfg.Database.Name)
		if err != nil {
			log.Fatalf("Failed to check database existence: %v", err)
		}
		if !exists {
			if err := client.CreateDB(context.Background(), cfg.Database.Name); err != nil {
				log.Fatalf("Failed to create database: %v", err)
			}
			log.Printf("Created database: %s", cfg.Database.Name)
		}

		recordRepo = repository.NewRecordRepository(client, cfg.Database.Name)
		changeRepo = repository.NewChangesetRepository(client, cfg.Database.Name, recordRepo)
		userRepo = repository.NewUserRepository(client, cfg.Database.Name)
		deviceRepo = repository.NewDeviceRepository(client, cfg.Database.Name)

		log.Printf("Using CouchDB backend at %s:%s", cfg.Database.Host, cfg.Database.Port)

	default:
		store, err := repository.NewSQLiteStore(cfg.Database.SQLitePath, cfg.Database.BusyTimeoutMs)
		if err != nil {
			log.Fatalf("Failed to open SQLite store: %v", err)
		}
		defer store.Close()

		recordRepo = store
		changeRepo = store
		userRepo = store
		deviceRepo = store.Devices()

		log.Printf("Using SQLite backend at %s", cfg.Database.SQLitePath)
	}

	resolver := service.NewResolver(domain.ConflictPolicy(cfg.Sync.ConflictPolicy))

	authService := service.NewAuthService(userRepo, cfg.JWT.Secret, cfg.JWT.Expiration, cfg.JWT.RefreshTokenExpiration)
	deviceService := service.NewDeviceService(deviceRepo)
	pushService := service.NewPushService(recordRepo, changeRepo, resolver, cfg.Sync.Tables)
	pullService := service.NewPullService(recordRepo, cfg.Sync.PageSize, cfg.Sync.MaxPageSize)
	changelogService := service.NewChangelogService(recordRepo, changeRepo)

	authHandler := handler.NewAuthHandler(authService)
	deviceHandler := handler.NewDeviceHandler(deviceService)
	syncHandler := handler.NewSyncHandler(pushService, pullService, changelogService, deviceService)

	r := mux.NewRouter()

	r.Use(middleware.LoggerMiddleware())
	r.Use(middleware.CORSMiddleware(
		cfg.CORS.AllowedOrigins,
		cfg.CORS.AllowedMethods,
		cfg.CORS.AllowedHeaders,
	))

	api := r.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/auth/register", authHandler.Register).Methods("POST", "OPTIONS")
	api.HandleFunc("/auth/login", authHandler.Login).Methods("POST", "OPTIONS")
	api.HandleFunc("/auth/refresh", authHandler.Refresh).Methods("POST", "OPTIONS")
	api.HandleFunc("/auth/logout", authHandler.Logout).Methods("POST", "OPTIONS")

	protected := api.PathPrefix("").Subrouter()
	protected.Use(middleware.AuthMiddleware(cfg.JWT.Secret))

	protected.HandleFunc("/users/me", authHandler.Me).Methods("GET", "OPTIONS")

	protected.HandleFunc("/devices", deviceHandler.List).Methods("GET", "OPTIONS")
	protected.HandleFunc("/devices/register", deviceHandler.Register).Methods("POST", "OPTIONS")
	protected.HandleFunc("/devices/{id}", deviceHandler.Revoke).Methods("DELETE", "OPTIONS")

	protected.HandleFunc("/sync/push", syncHandler.Push).Methods("POST", "OPTIONS")
	protected.HandleFunc("/sync/pull", syncHandler.Pull).Methods("POST", "OPTIONS")
	protected.HandleFunc("/sync/changes/{table}/{id}", syncHandler.History).Methods("GET", "OPTIONS")
	protected.HandleFunc("/sync/rebuild/{table}/{id}", syncHandler.Rebuild).Methods("POST", "OPTIONS")

	r.HandleFunc("/health", healthHandler).Methods("GET")
	r.HandleFunc("/", rootHandler).Methods("GET")

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)

	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting GigSync Server on %s (env: %s)", addr, cfg.Server.Env)
		log.Printf("Conflict policy: %s, tables: %v", resolver.Policy(), cfg.Sync.Tables)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped gracefully")
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy","service":"gigsync-server"}`))
}

func rootHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"service":"gigsync-server","docs":"/api/v1"}`))
}
