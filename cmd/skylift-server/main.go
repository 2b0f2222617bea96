package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	wfsqlite "github.com/cschleiden/go-workflows/backend/sqlite"
	"github.com/cschleiden/go-workflows/client"
	"github.com/cschleiden/go-workflows/worker"
	"github.com/dbos-inc/dbos-transact-golang/dbos"

	"github.com/skylift/skylift-server/internal/application"
	"github.com/skylift/skylift-server/internal/config"
	"github.com/skylift/skylift-server/internal/domain"
	"github.com/skylift/skylift-server/internal/httpapi"
	"github.com/skylift/skylift-server/internal/infrastructure/awscfn"
	"github.com/skylift/skylift-server/internal/infrastructure/awsparams"
	"github.com/skylift/skylift-server/internal/infrastructure/dbosworkflows"
	"github.com/skylift/skylift-server/internal/infrastructure/goworkflows"
	"github.com/skylift/skylift-server/internal/infrastructure/redislock"
	"github.com/skylift/skylift-server/internal/infrastructure/sqlite"
	"github.com/skylift/skylift-server/internal/infrastructure/syncworkflow"
)

func main() {
	// Use a minimal logger until configuration is loaded.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("skylift-server", flag.ContinueOnError)
	configPath := fs.String("config", "config.yaml", "path to configuration file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := sqlite.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	buildRepo := &sqlite.BuildRepo{DB: db}
	targetRepo := &sqlite.TargetRepo{DB: db}
	attemptRepo := &sqlite.AttemptRepo{DB: db}
	promotionRepo := &sqlite.PromotionRepo{DB: db}

	var lockRepo domain.LockRepository
	switch cfg.Lock.Backend {
	case "redis":
		repo, err := redislock.New(ctx, cfg.Lock.RedisAddr)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		lockRepo = repo
	default:
		lockRepo = &sqlite.LockRepo{DB: db}
	}
	locks := &domain.LockManager{Locks: lockRepo}

	var params domain.ParameterSource
	var stackSets domain.StackSetClient
	if cfg.Params.Offline {
		params = &awsparams.StaticSource{
			BaseParams: cfg.Params.Base,
			EnvParams:  cfg.Params.Environments,
		}
		stackSets = nopStackSetClient{}
		slog.Warn("running offline, StackSet operations are no-ops")
	} else {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return fmt.Errorf("load AWS config: %w", err)
		}
		params = &awsparams.SSMSource{
			SSM:      ssm.NewFromConfig(awsCfg),
			BasePath: cfg.Params.SSMBasePath,
		}
		stackSets = awscfn.New(cloudformation.NewFromConfig(awsCfg), cfg.StackSet.Name)
	}

	fanOut := &domain.FanOutController{
		Client:            stackSets,
		Attempts:          attemptRepo,
		Locks:             locks,
		PollInterval:      cfg.FanOut.PollInterval(),
		MaxPollInterval:   cfg.FanOut.MaxPollInterval(),
		Timeout:           cfg.FanOut.Timeout(),
		HeartbeatInterval: cfg.FanOut.HeartbeatInterval(),
		LockTTL:           cfg.Lock.TTL(),
	}

	orchestration := &application.OrchestrationService{
		AttemptDeadline: cfg.Workflow.AttemptDeadline(),
	}
	ingest := &application.IngestService{
		Builds:        buildRepo,
		Targets:       targetRepo,
		Attempts:      attemptRepo,
		Orchestration: orchestration,
	}
	promoter := &domain.PromotionScheduler{
		Targets:    targetRepo,
		Builds:     buildRepo,
		Promotions: promotionRepo,
		Ingest:     ingest,
	}

	wf := &domain.OrchestrationWorkflow{
		Builds:            buildRepo,
		Targets:           targetRepo,
		Attempts:          attemptRepo,
		Locks:             locks,
		FanOut:            fanOut,
		Params:            params,
		Promoter:          promoter,
		LockTTL:           cfg.Lock.TTL(),
		LockRetryInterval: cfg.Lock.RetryInterval(),
		LockMaxAttempts:   cfg.Lock.MaxAttempts,
		ArtifactBucket:    cfg.Artifacts.Bucket,
		ArtifactPrefix:    cfg.Artifacts.Prefix,
	}

	runner, cleanup, err := buildRunner(ctx, cfg, wf)
	if err != nil {
		return err
	}
	if cleanup != nil {
		defer cleanup()
	}
	orchestration.Workflow = runner

	server := &httpapi.Server{
		Ingest:   ingest,
		Registry: &application.RegistryService{Targets: targetRepo},
		Attempts: attemptRepo,
	}

	httpServer := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: server.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", cfg.Server.Addr,
			"engine", cfg.Workflow.Engine, "lock_backend", cfg.Lock.Backend)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// buildRunner creates the orchestration runner for the configured engine.
// The returned cleanup stops the engine's background machinery, if any.
func buildRunner(ctx context.Context, cfg *config.Config, wf *domain.OrchestrationWorkflow) (domain.OrchestrationRunner, func(), error) {
	switch cfg.Workflow.Engine {
	case "goworkflows":
		backend := wfsqlite.NewInMemoryBackend()
		w := worker.New(backend, nil)
		workerCtx, cancel := context.WithCancel(ctx)
		engine := &goworkflows.Engine{
			Worker:  w,
			Client:  client.New(backend),
			Timeout: cfg.Workflow.AttemptDeadline(),
		}
		runner, err := engine.OrchestrationRunner(wf)
		if err != nil {
			cancel()
			return nil, nil, fmt.Errorf("register workflow: %w", err)
		}
		if err := w.Start(workerCtx); err != nil {
			cancel()
			return nil, nil, fmt.Errorf("start workflow worker: %w", err)
		}
		cleanup := func() {
			cancel()
			_ = w.WaitForCompletion()
		}
		return runner, cleanup, nil

	case "dbos":
		dbosCtx, err := dbos.NewDBOSContext(ctx, dbos.Config{
			AppName:     "skylift-server",
			DatabaseURL: cfg.Workflow.DBOSDatabaseURL,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("create DBOS context: %w", err)
		}
		engine := &dbosworkflows.Engine{DBOSCtx: dbosCtx}
		runner, err := engine.OrchestrationRunner(wf)
		if err != nil {
			return nil, nil, fmt.Errorf("register workflow: %w", err)
		}
		if err := dbos.Launch(dbosCtx); err != nil {
			return nil, nil, fmt.Errorf("launch DBOS: %w", err)
		}
		cleanup := func() { dbos.Shutdown(dbosCtx, 10*time.Second) }
		return runner, cleanup, nil

	default:
		engine := &syncworkflow.Engine{}
		runner, err := engine.OrchestrationRunner(wf)
		if err != nil {
			return nil, nil, fmt.Errorf("create sync runner: %w", err)
		}
		return runner, nil, nil
	}
}

// nopStackSetClient is used in offline mode so attempts complete without
// reaching AWS. Every operation reports immediate success.
type nopStackSetClient struct{}

func (nopStackSetClient) CreateOrUpdate(_ context.Context, in domain.StackSetInput) (string, error) {
	return "offline-" + in.Account + "-" + in.Region, nil
}

func (nopStackSetClient) OperationStatus(context.Context, domain.StackSetOpRef) (domain.OperationStatus, string, error) {
	return domain.OperationSucceeded, "", nil
}
