package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"straxauth.org/internal/httpapi"
	"straxauth.org/internal/identity"
	"straxauth.org/internal/obs"
)

var (
	version = "1.2.0"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	dsn := os.Getenv("STRAX_PG_DSN")
	if dsn == "" {
		log.Fatal("missing STRAX_PG_DSN")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	store := identity.NewPGStore(db)
	svc, err := identity.NewService(store,
		identity.WithLockoutPolicy(lockoutPolicyFromEnv()),
	)
	if err != nil {
		log.Fatalf("identity service: %v", err)
	}

	ctx := context.Background()
	if cfg, ok := seedConfigFromEnv(); ok {
		if err := identity.Seed(ctx, store, identity.NewBcryptCredentials(), cfg, nil); err != nil {
			log.Fatalf("seed: %v", err)
		}
		log.Println("Bootstrap seed applied")
	}

	api := httpapi.New(svc, httpapi.ReadyProbe{DB: db}, version)
	handler := httpapi.RateLimit(api.Handler(), 100, 50)

	srv := &http.Server{
		Addr:              ":8080",
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting strax-auth %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()
	obs.SetReady(true)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")
	obs.SetReady(false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(shutdownCtx)
	_ = db.Close()
	log.Println("Stopped")
}

func lockoutPolicyFromEnv() identity.LockoutPolicy {
	policy := identity.DefaultLockoutPolicy()
	if v := os.Getenv("STRAX_LOCKOUT_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			policy.MaxFailedAttempts = n
		}
	}
	if v := os.Getenv("STRAX_LOCKOUT_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			policy.LockoutDuration = time.Duration(n) * time.Minute
		}
	}
	return policy
}

// seedConfigFromEnv reports whether bootstrap seeding is configured. The
// service seeds on every start; all writes are idempotent upserts.
func seedConfigFromEnv() (identity.SeedConfig, bool) {
	cfg := identity.SeedConfig{
		OrganisationID:      os.Getenv("STRAX_SEED_ORG_ID"),
		OrganisationName:    os.Getenv("STRAX_SEED_ORG_NAME"),
		Region:              os.Getenv("STRAX_SEED_ORG_REGION"),
		SuperAdminID:        os.Getenv("STRAX_SEED_ADMIN_ID"),
		SuperAdminEmail:     os.Getenv("STRAX_SEED_ADMIN_EMAIL"),
		SuperAdminPassword:  os.Getenv("STRAX_SEED_ADMIN_PASSWORD"),
		ServiceUserID:       os.Getenv("STRAX_SEED_SERVICE_ID"),
		ServiceUserEmail:    os.Getenv("STRAX_SEED_SERVICE_EMAIL"),
		ServiceUserPassword: os.Getenv("STRAX_SEED_SERVICE_PASSWORD"),
	}
	if cfg.OrganisationID == "" && cfg.SuperAdminID == "" {
		return identity.SeedConfig{}, false
	}
	return cfg, true
}
