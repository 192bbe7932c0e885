// Command worker is a reference process loop embedding flowengine: it
// opens a SQLite-backed store trio, deploys one process definition from
// disk and starts one instance of it when -process is given, and then
// claims and steps jobs until the process receives SIGINT/SIGTERM. The loop
// keeps polling after an instance completes.
//
// It is deliberately small; embedding applications are expected to wire
// their own deployment and instance-start entry points (an HTTP handler, a
// CLI subcommand, a gRPC service) around the same runtime.Engine calls
// shown here.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "modernc.org/sqlite"

	core "flowengine/data/db"
	"flowengine/data/db/basic"
	"flowengine/history"
	"flowengine/logging"
	"flowengine/notify"
	"flowengine/notify/natsnotify"
	"flowengine/notify/redisnotify"
	"flowengine/patterns/retry"
	"flowengine/process"
	flowrt "flowengine/runtime"
	"flowengine/store"
	storesql "flowengine/store/sql"
)

func newContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-ctx.Done():
		case <-sig:
			cancel()
		}
	}()
	return ctx, cancel
}

func main() {
	dbPath := flag.String("db", "flowengine.db", "sqlite database file")
	bpmnPath := flag.String("process", "", "path to a process definition xml file to deploy and start")
	pollInterval := flag.Duration("poll", 2*time.Second, "fallback poll interval when no job-available notifier is configured")
	leaseDuration := flag.Duration("lease", 30*time.Second, "job claim lease duration")
	notifyKind := flag.String("notify", "", "optional job-available notifier to wake the worker loop early: nats|redis")
	natsURL := flag.String("nats-url", "", "nats server url, used when -notify=nats (defaults to nats.DefaultURL)")
	redisAddr := flag.String("redis-addr", "localhost:6379", "redis server address, used when -notify=redis")
	flag.Parse()

	logger := logging.GetLogger()
	ctx, cancel := newContext()
	defer cancel()

	// SQLite briefly returns "database is locked" immediately after process
	// start if a prior worker instance is still shutting down; a few quick
	// retries smooth that over without needing an external readiness check.
	var database core.IDatabase
	err := retry.Do(ctx, func(ctx context.Context) error {
		db, openErr := basic.New(core.DBConfig{Driver: "sqlite", Database: *dbPath})
		if openErr != nil {
			return openErr
		}
		database = db
		return nil
	}, retry.Config{MaxAttempts: 3, InitialDelay: 50 * time.Millisecond, BackoffFactor: 2.0, MaxDelay: time.Second})
	if err != nil {
		logger.Error(ctx, "open database failed", logging.Error(err))
		os.Exit(1)
	}
	defer database.Close()

	if err := storesql.Migrate(ctx, database); err != nil {
		logger.Error(ctx, "migrate schema failed", logging.Error(err))
		os.Exit(1)
	}
	if _, err := database.Exec(ctx, history.StepExecutionsSchema); err != nil {
		logger.Error(ctx, "migrate step execution schema failed", logging.Error(err))
		os.Exit(1)
	}

	processes := storesql.NewProcessStore(database)
	instances := storesql.NewInstanceStore(database)
	jobs := storesql.NewJobStore(database)
	hist := history.NewSQLStore(database)

	engine := flowrt.NewEngine(processes, instances, jobs, hist, logger)

	if *bpmnPath != "" {
		source, err := os.ReadFile(*bpmnPath)
		if err != nil {
			logger.Error(ctx, "read process definition failed", logging.Error(err))
			os.Exit(1)
		}
		def, err := engine.Deploy(ctx, "cli-deploy-"+time.Now().UTC().Format("20060102T150405"), source)
		if err != nil {
			logger.Error(ctx, "deploy process definition failed", logging.Error(err))
			os.Exit(1)
		}
		instance, err := engine.StartById(ctx, def.Id, process.Variables{}, false)
		if err != nil {
			logger.Error(ctx, "start process instance failed", logging.Error(err))
			os.Exit(1)
		}
		logger.Info(ctx, "started process instance", logging.String("instanceId", instance.Id), logging.String("processKey", def.Key))
	}

	var wake <-chan struct{}
	if subscriber := newNotifier(ctx, *notifyKind, *natsURL, *redisAddr, logger); subscriber != nil {
		defer subscriber.Close()
		wakeCh := make(chan struct{}, 1)
		wake = wakeCh
		err := subscriber.Subscribe(ctx, flowrt.JobType, func(notify.JobSignal) {
			select {
			case wakeCh <- struct{}{}:
			default:
			}
		})
		if err != nil {
			logger.Error(ctx, "subscribe to job signals failed", logging.Error(err))
			os.Exit(1)
		}
	}

	runWorkerLoop(ctx, engine, jobs, logger, *pollInterval, *leaseDuration, wake)
}

// newNotifier constructs the notify.Subscriber named by kind, or returns nil
// when kind is empty so callers fall back to ticker-only polling.
func newNotifier(ctx context.Context, kind, natsURL, redisAddr string, logger logging.Logger) notify.Subscriber {
	switch kind {
	case "":
		return nil
	case "nats":
		n, err := natsnotify.New(natsnotify.Config{URL: natsURL, Logger: logger})
		if err != nil {
			logger.Error(ctx, "connect nats notifier failed", logging.Error(err))
			os.Exit(1)
		}
		return n
	case "redis":
		n, err := redisnotify.New(redisnotify.Config{Addr: redisAddr, Logger: logger})
		if err != nil {
			logger.Error(ctx, "connect redis notifier failed", logging.Error(err))
			os.Exit(1)
		}
		return n
	default:
		logger.Error(ctx, "unknown -notify value, want nats or redis", logging.String("notify", kind))
		os.Exit(1)
		return nil
	}
}

// runWorkerLoop claims and steps jobs until ctx is canceled. It wakes either
// on pollInterval or on wake, whichever comes first; wake is nil when no
// notifier was configured, in which case the loop polls exclusively.
func runWorkerLoop(ctx context.Context, engine *flowrt.Engine, jobs store.JobStore, logger logging.Logger, pollInterval, leaseDuration time.Duration, wake <-chan struct{}) {
	workerId := "worker-" + time.Now().UTC().Format("150405.000000000")
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-wake:
		}

		for {
			job, err := jobs.ClaimNext(ctx, workerId, leaseDuration)
			if err != nil {
				logger.Warn(ctx, "claim job failed", logging.Error(err))
				break
			}
			if job == nil {
				break
			}

			if err := engine.Step(ctx, job.ProcessInstanceId); err != nil {
				logger.Warn(ctx, "step instance failed", logging.String("instanceId", job.ProcessInstanceId), logging.Error(err))
			}
			if err := jobs.Complete(ctx, job.Id, workerId); err != nil {
				logger.Warn(ctx, "complete job failed", logging.String("jobId", job.Id), logging.Error(err))
			}
		}
	}
}
