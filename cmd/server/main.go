package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"fledge/internal/approval"
	"fledge/internal/clock"
	"fledge/internal/config"
	"fledge/internal/credentials"
	"fledge/internal/database"
	"fledge/internal/models"
	"fledge/internal/notify"
	"fledge/internal/obs"
	"fledge/internal/repository"
	"fledge/internal/scoring"
	"fledge/internal/transition"
)

func main() {
	if err := godotenv.Load(); err == nil {
		log.Println("Loaded environment from .env")
	}

	// Load configuration
	cfg := config.Load()

	// Initialize database (supports sqlite, postgres, mysql)
	db, err := database.Initialize(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	log.Printf("Database connection established (type: %s)", cfg.DatabaseType)

	// Run migrations
	if err := db.RunMigrations(cfg.MigrationsPath); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	log.Println("Migrations completed successfully")

	obs.Init()

	// Initialize repositories
	kidRepo := repository.NewKidAccountRepository(db)
	scoreRepo := repository.NewScoreRepository(db)
	eventRepo := repository.NewEventRepository(db)
	approvalRepo := repository.NewApprovalRepository(db)
	transitionRepo := repository.NewTransitionRepository(db)
	codeRepo := repository.NewCodeRepository(db)
	passwordRepo := repository.NewPasswordRepository(db)

	clk := clock.Real{}

	// Parent alerts go out via SES. The parent directory is provided by the
	// surrounding identity platform; without one the notifier stays disabled
	// and alerts are logged only.
	notifier, err := notify.NewEmailNotifier(cfg.AWSRegion, cfg.SESFromEmail,
		cfg.SESFromName, cfg.AppBaseURL, nil, cfg.Debug)
	if err != nil {
		log.Fatalf("Failed to initialize email notifier: %v", err)
	}
	if !notifier.IsEnabled() {
		log.Println("Email notifications disabled, parent alerts will be logged only")
	}

	// Initialize services
	engine := scoring.NewEngine(scoring.DefaultConfig(), kidRepo, scoreRepo, eventRepo, clk)
	engine.SetDebug(cfg.Debug)

	approvalCfg := approval.Config{
		AutoApproveThresholds: map[models.RequestType]int{
			models.RequestFollow:        cfg.AutoApproveFollowScore,
			models.RequestContentAccess: cfg.AutoApproveContentScore,
		},
		PendingWindow: cfg.ApprovalExpiry,
	}
	workflow := approval.NewWorkflow(approvalCfg, approvalRepo, kidRepo, engine, eventRepo, notifier, clk)
	workflow.SetDebug(cfg.Debug)

	credsCfg := credentials.Config{
		CodeTTL:           cfg.PairingCodeTTL,
		SigningSecret:     []byte(cfg.QRSigningSecret),
		MaxFailedAttempts: cfg.MaxFailedAttempts,
		LockoutDuration:   cfg.LockoutDuration,
	}
	creds := credentials.NewManager(credsCfg, codeRepo, passwordRepo, kidRepo, clk)

	machine := transition.NewMachine(transition.DefaultConfig(), transitionRepo,
		kidRepo, scoreRepo, eventRepo, creds, notifier, clk)
	machine.SetDebug(cfg.Debug)

	// Background sweeps: approval expiry, the phase clock, and scheduled
	// score reassessment
	sweepCtx, stopSweeps := context.WithCancel(context.Background())
	go runSweeps(sweepCtx, cfg.SweepInterval, workflow, machine, engine)

	// Health and metrics endpoints
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := db.Ping(); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("GET /metrics", obs.Handler())

	addr := ":" + cfg.ServerPort
	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.Printf("Server starting on http://localhost%s", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Server shutting down...")
	stopSweeps()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Shutdown error: %v", err)
	}
}

// runSweeps periodically expires stale approvals, advances the phase clock
// on open transitions, and recomputes overdue scores.
func runSweeps(ctx context.Context, interval time.Duration, workflow *approval.Workflow, machine *transition.Machine, engine *scoring.Engine) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := workflow.ExpireStale(); err != nil {
				log.Printf("Approval expiry sweep failed: %v", err)
			}
			if err := machine.AdvanceAll(ctx); err != nil {
				log.Printf("Transition sweep failed: %v", err)
			}
			if _, err := engine.RecomputeDue(); err != nil {
				log.Printf("Score reassessment sweep failed: %v", err)
			}
		}
	}
}
