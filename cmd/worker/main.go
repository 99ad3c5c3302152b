// Command worker runs the multitrack pipeline worker: it pulls recording
// manifests from the run queue, drives each MultitrackPipeline to
// completion, and serves the progress WebSocket and Prometheus metrics.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/semaphore"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/Monadical-SAS/reflector/config"
	"github.com/Monadical-SAS/reflector/logger"
	"github.com/Monadical-SAS/reflector/metrics"
	"github.com/Monadical-SAS/reflector/notify"
	"github.com/Monadical-SAS/reflector/objectstore"
	"github.com/Monadical-SAS/reflector/pipeline"
	"github.com/Monadical-SAS/reflector/progressbus"
	"github.com/Monadical-SAS/reflector/remoteasr"
	"github.com/Monadical-SAS/reflector/remotellm"
	"github.com/Monadical-SAS/reflector/taskgraph"
	"github.com/Monadical-SAS/reflector/transcriptstore"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Error("worker: load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logger.Error("worker: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	shutdownTracing, err := setupTracing(ctx)
	if err != nil {
		return err
	}
	defer shutdownTracing(context.Background())

	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{})
	if err != nil {
		return err
	}
	store := transcriptstore.NewGormStore(db)
	if err := store.AutoMigrate(); err != nil {
		return err
	}
	taskStore := taskgraph.NewGormTaskStore(db)
	if err := taskStore.AutoMigrate(); err != nil {
		return err
	}

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	bus := progressbus.NewRedisBus(redisClient)
	queue := taskgraph.NewRunQueue(redisClient, "")

	objects, err := objectstore.NewS3Store(ctx, objectstore.S3Config{
		Endpoint:        cfg.S3Endpoint,
		Region:          cfg.S3Region,
		AccessKeyID:     cfg.S3AccessKeyID,
		SecretAccessKey: cfg.S3SecretAccessKey,
		UsePathStyle:    true,
	})
	if err != nil {
		return err
	}

	engine := taskgraph.NewEngine(taskStore, taskgraph.NewTranscriptErrorHook(store, bus))

	if err := pipeline.PipelineDAG().Validate(); err != nil {
		return err
	}

	deps := &pipeline.Deps{
		Engine:  engine,
		Store:   store,
		Bus:     bus,
		Objects: objects,
		ASR:     remoteasr.NewHTTPService(cfg.ASRBaseURL, cfg.TimeoutHeavy),
		LLM: remotellm.NewHTTPService(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.TimeoutLong, 4, remotellm.RetryPolicy{
			NetworkAttempts: cfg.LLMRetryNetworkAttempts,
			ParseAttempts:   cfg.LLMRetryParseAttempts,
			WaitJitter:      cfg.LLMRetryWaitJitter,
		}),
		Roster:  pipeline.StaticRoster{},
		Consent: pipeline.NoConsentRecords{},
		Notifier: notify.NewZulipClient(notify.ZulipConfig{
			SiteURL: cfg.ZulipSiteURL,
			APIKey:  cfg.ZulipAPIKey,
			Stream:  "meetings",
			Topic:   "transcripts",
		}),
		Webhook:             notify.NewWebhookClient(cfg.WebhookURL),
		TranscriptBucket:    cfg.TranscriptBucket,
		DataDir:             cfg.DataDir,
		WebhookSecret:       cfg.WebhookSecret,
		PresignTTL:          time.Duration(cfg.PresignedURLTTLSeconds) * time.Second,
		WaveformSegments:    cfg.WaveformSegments,
		TopicChunkWordCount: cfg.TopicChunkWordCount,
	}

	reg := prometheus.NewRegistry()
	if err := metrics.Register(reg); err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/progress/", progressHandler(bus))
	server := &http.Server{Addr: ":8080", Handler: mux}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("worker: http server", "error", err)
		}
	}()
	defer server.Shutdown(context.Background())

	logger.Info("worker: started", "pool_size", cfg.WorkerPoolSize)

	// Pool-bounded pull loop: each dequeued manifest occupies one slot
	// for the life of its run.
	slots := semaphore.NewWeighted(int64(cfg.WorkerPoolSize))
	for {
		if ctx.Err() != nil {
			return nil
		}
		if depth, err := queue.Depth(ctx); err == nil {
			metrics.QueueDepth.Set(float64(depth))
		}

		payload, err := queue.Dequeue(ctx, 5*time.Second)
		if errors.Is(err, taskgraph.ErrQueueEmpty) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Error("worker: dequeue", "error", err)
			time.Sleep(time.Second)
			continue
		}

		var manifest pipeline.Manifest
		if err := json.Unmarshal(payload, &manifest); err != nil {
			logger.Error("worker: bad manifest payload, dropping", "error", err)
			continue
		}

		if err := slots.Acquire(ctx, 1); err != nil {
			return nil
		}
		go func(m pipeline.Manifest) {
			defer slots.Release(1)
			// Stable run id: re-enqueueing the same recording after a
			// crash replays completed tasks instead of redoing them.
			runID := "run-" + m.RecordingID
			if err := deps.Run(ctx, runID, m); err != nil {
				logger.Error("worker: run failed", "run_id", runID, "transcript_id", m.TranscriptID, "error", err)
			}
		}(manifest)
	}
}
