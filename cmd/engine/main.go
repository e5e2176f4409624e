// Package main is the entry point for the multi-account perpetual-futures
// trading engine. It wires the five module managers (PM, DE, TA, ST, TR)
// onto a shared event bus, starts the read-only introspection server, and
// schedules periodic maintenance (event-store cleanup, off-site backups).
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/stfutures/engine/internal/backup"
	"github.com/stfutures/engine/internal/config"
	"github.com/stfutures/engine/internal/de"
	"github.com/stfutures/engine/internal/eventbus"
	"github.com/stfutures/engine/internal/eventstore"
	"github.com/stfutures/engine/internal/introspect"
	"github.com/stfutures/engine/internal/pm"
	"github.com/stfutures/engine/internal/scheduler"
	"github.com/stfutures/engine/internal/st"
	"github.com/stfutures/engine/internal/ta"
	"github.com/stfutures/engine/internal/tr"
	"github.com/stfutures/engine/pkg/logger"
)

// eventStoreCleanupJob evicts rows past the event store's retention cap on a
// schedule, rather than relying solely on eviction-on-insert.
type eventStoreCleanupJob struct {
	store eventstore.Store
}

func (j *eventStoreCleanupJob) Run() error  { return j.store.Cleanup() }
func (j *eventStoreCleanupJob) Name() string { return "eventstore-cleanup" }

// backupJob archives and uploads the event store, then rotates old archives.
type backupJob struct {
	svc           *backup.Service
	retentionDays int
}

func (j *backupJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	if err := j.svc.CreateAndUpload(ctx); err != nil {
		return err
	}
	return j.svc.Rotate(ctx, j.retentionDays)
}
func (j *backupJob) Name() string { return "event-store-backup" }

func main() {
	configDir := flag.String("config", "", "config directory override (defaults to ./config)")
	flag.Parse()

	cfg, err := config.Load(*configDir)
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("failed to load configuration")
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: true})
	log.Info().Msg("starting trading engine")

	store, err := eventstore.New(eventstore.Config{Path: cfg.EventStorePath(), MaxEvents: cfg.EventStoreMax}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open event store")
	}
	defer store.Close()

	bus := eventbus.NewBus(store, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pmManager := pm.New(bus, log)
	if err := pmManager.LoadAccounts(cfg.AccountsConfigPath()); err != nil {
		log.Fatal().Err(err).Msg("failed to load account registry")
	}

	deManager := de.New(ctx, bus, log)
	// ta.Manager has no shutdown hook of its own: it holds no background
	// goroutines or connections, only bus subscriptions that stop mattering
	// once ctx is cancelled and upstream publishers go quiet.
	_ = ta.New(bus, ta.DefaultRegistry, log)
	stManager := st.New(bus, st.DefaultRegistry, cfg.ConfigDir, log)
	trManager := tr.New(bus, cfg.ConfigDir, log)

	introspectSrv := introspect.New(cfg.IntrospectPort, pmManager, trManager, store, log)
	if cfg.IntrospectPort > 0 {
		go func() {
			if err := introspectSrv.Start(); err != nil {
				log.Error().Err(err).Msg("introspection server stopped")
			}
		}()
		log.Info().Int("port", cfg.IntrospectPort).Msg("introspection server started")
	}

	sched := scheduler.New(log)
	if err := sched.AddJob("0 */15 * * * *", &eventStoreCleanupJob{store: store}); err != nil {
		log.Fatal().Err(err).Msg("failed to register event store cleanup job")
	}

	var backupSvc *backup.Service
	if cfg.S3BackupBucket != "" {
		backupSvc, err = setupBackup(ctx, cfg, log)
		if err != nil {
			log.Error().Err(err).Msg("backup archival disabled: failed to initialize S3 client")
		} else {
			schedule := intervalCron(cfg.S3BackupInterval)
			if err := sched.AddJob(schedule, &backupJob{svc: backupSvc, retentionDays: cfg.S3BackupRetention}); err != nil {
				log.Error().Err(err).Msg("failed to register backup job")
			} else {
				log.Info().Int("interval_minutes", cfg.S3BackupInterval).Msg("periodic backups scheduled")
			}
		}
	}
	sched.Start()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutdown signal received, stopping engine")

	sched.Stop()
	cancel()

	trManager.Shutdown()
	stManager.Shutdown()
	deManager.Shutdown()
	pmManager.Shutdown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := introspectSrv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("introspection server forced to shutdown")
	}

	if err := store.Close(); err != nil {
		log.Error().Err(err).Msg("failed to close event store cleanly")
	}

	log.Info().Msg("engine stopped")
}

func setupBackup(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*backup.Service, error) {
	client, err := backup.NewClient(ctx, backup.ClientConfig{
		Endpoint:       cfg.S3BackupEndpoint,
		Region:         cfg.S3BackupRegion,
		Bucket:         cfg.S3BackupBucket,
		AccessKey:      cfg.S3AccessKey,
		SecretKey:      cfg.S3SecretKey,
		UseSSL:         true,
		ForcePathStyle: cfg.S3BackupEndpoint != "",
	})
	if err != nil {
		return nil, err
	}
	return backup.NewService(client, cfg.EventStorePath(), cfg.DataDir, log), nil
}

// intervalCron turns a minute interval into a 6-field cron expression. The
// scheduler runs with second-level precision, so minute-granularity jobs
// fire on the ":00" boundary of every Nth minute.
func intervalCron(minutes int) string {
	if minutes <= 0 {
		minutes = 360
	}
	if minutes >= 60 {
		hours := minutes / 60
		return "0 0 */" + strconv.Itoa(hours) + " * * *"
	}
	return "0 */" + strconv.Itoa(minutes) + " * * * *"
}
