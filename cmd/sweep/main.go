package main

import (
	"context"
	"flag"
	"log"

	"github.com/joho/godotenv"

	"fledge/internal/approval"
	"fledge/internal/clock"
	"fledge/internal/config"
	"fledge/internal/credentials"
	"fledge/internal/database"
	"fledge/internal/models"
	"fledge/internal/obs"
	"fledge/internal/repository"
	"fledge/internal/scoring"
	"fledge/internal/transition"
)

// One-shot sweep runner, for deployments that drive the approval expiry and
// phase clock from cron rather than the server's background tickers.
func main() {
	skipApprovals := flag.Bool("skip-approvals", false, "Skip the approval expiry sweep")
	skipTransitions := flag.Bool("skip-transitions", false, "Skip the transition phase-clock sweep")
	skipScores := flag.Bool("skip-scores", false, "Skip the scheduled score reassessment sweep")
	flag.Parse()

	_ = godotenv.Load()

	cfg := config.Load()

	db, err := database.Initialize(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	if err := db.RunMigrations(cfg.MigrationsPath); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	obs.Init()

	kidRepo := repository.NewKidAccountRepository(db)
	scoreRepo := repository.NewScoreRepository(db)
	eventRepo := repository.NewEventRepository(db)
	approvalRepo := repository.NewApprovalRepository(db)
	transitionRepo := repository.NewTransitionRepository(db)
	codeRepo := repository.NewCodeRepository(db)
	passwordRepo := repository.NewPasswordRepository(db)

	clk := clock.Real{}

	engine := scoring.NewEngine(scoring.DefaultConfig(), kidRepo, scoreRepo, eventRepo, clk)
	engine.SetDebug(cfg.Debug)

	if !*skipApprovals {
		approvalCfg := approval.Config{
			AutoApproveThresholds: map[models.RequestType]int{
				models.RequestFollow:        cfg.AutoApproveFollowScore,
				models.RequestContentAccess: cfg.AutoApproveContentScore,
			},
			PendingWindow: cfg.ApprovalExpiry,
		}
		workflow := approval.NewWorkflow(approvalCfg, approvalRepo, kidRepo, engine, eventRepo, nil, clk)
		n, err := workflow.ExpireStale()
		if err != nil {
			log.Fatalf("Approval expiry sweep failed: %v", err)
		}
		log.Printf("Approval sweep complete: %d expired", n)
	}

	if !*skipTransitions {
		credsCfg := credentials.Config{
			CodeTTL:           cfg.PairingCodeTTL,
			SigningSecret:     []byte(cfg.QRSigningSecret),
			MaxFailedAttempts: cfg.MaxFailedAttempts,
			LockoutDuration:   cfg.LockoutDuration,
		}
		creds := credentials.NewManager(credsCfg, codeRepo, passwordRepo, kidRepo, clk)

		machine := transition.NewMachine(transition.DefaultConfig(), transitionRepo,
			kidRepo, scoreRepo, eventRepo, creds, nil, clk)
		machine.SetDebug(cfg.Debug)

		if err := machine.AdvanceAll(context.Background()); err != nil {
			log.Fatalf("Transition sweep failed: %v", err)
		}
		log.Println("Transition sweep complete")
	}

	if !*skipScores {
		n, err := engine.RecomputeDue()
		if err != nil {
			log.Fatalf("Score reassessment sweep failed: %v", err)
		}
		log.Printf("Score sweep complete: %d recomputed", n)
	}
}
