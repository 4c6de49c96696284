package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/your-org/indexflow/internal/indexer"
	"github.com/your-org/indexflow/internal/mapping"
	"github.com/your-org/indexflow/pkg/config"
	"github.com/your-org/indexflow/pkg/kafka"
	"github.com/your-org/indexflow/pkg/logger"
	"github.com/your-org/indexflow/pkg/procrun"
	"github.com/your-org/indexflow/pkg/repository"
	"github.com/your-org/indexflow/pkg/storage/objectstore"
	"github.com/your-org/indexflow/pkg/tracing"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logr, err := logger.New(cfg.App.LogLevel)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	traceShutdown, err := tracing.Init(ctx, tracing.Config{
		Endpoint:    cfg.Tracing.Endpoint,
		Insecure:    cfg.Tracing.Insecure,
		SampleRatio: cfg.Tracing.SampleRatio,
		Attributes:  tracing.ParseResourceAttributes(cfg.Tracing.ResourceAttr),
		ServiceName: cfg.App.Name,
		Version:     cfg.App.Version,
	})
	if err != nil {
		logr.Fatal("init tracing", zap.Error(err))
	}
	defer traceShutdown(context.Background()) //nolint:errcheck

	var (
		metrics  *indexer.Metrics
		gatherer prometheus.Gatherer
	)
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		metrics = indexer.NewMetrics(reg)
		gatherer = reg
	}

	runner := procrun.New(
		procrun.WithTimeout(cfg.Transformer.Timeout),
		procrun.WithLogger(logr.Named("procrun")),
	)
	params := indexer.Params{
		Settings: indexer.Settings{
			HandlerID: cfg.Handler.ID,
			BaseURL:   cfg.Repository.BaseURL,
			Runtime:   cfg.Transformer.Runtime,
			Script:    cfg.Transformer.Script,
			WorkDir:   cfg.Transformer.WorkDir,
		},
		Registry: mapping.NewRegistry(cfg.Transformer.MappingsDir, cfg.Transformer.Mappings),
		Runner:   runner,
		Repo: repository.New(repository.Config{
			BaseURL:      cfg.Repository.BaseURL,
			Timeout:      cfg.Repository.Timeout,
			MaxRetries:   cfg.Repository.MaxRetries,
			RetryBackoff: cfg.Repository.RetryBackoff,
			Logger:       logr.Named("repository"),
		}),
		Metrics: metrics,
		Logger:  logr.Named("indexer"),
	}

	if cfg.Storage.Enabled {
		store, err := objectstore.New(objectstore.Config{
			Provider:  cfg.Storage.Provider,
			Endpoint:  cfg.Storage.Endpoint,
			Region:    cfg.Storage.Region,
			Bucket:    cfg.Storage.Bucket,
			AccessKey: cfg.Storage.AccessKey,
			SecretKey: cfg.Storage.SecretKey,
			UseSSL:    cfg.Storage.UseSSL,
			Prefix:    cfg.Storage.Prefix,
		})
		if err != nil {
			logr.Fatal("init object store", zap.Error(err))
		}
		if err := store.EnsureBucket(ctx); err != nil {
			logr.Fatal("prepare artifact bucket", zap.String("bucket", cfg.Storage.Bucket), zap.Error(err))
		}
		params.Store = store
	}

	if cfg.Kafka.ArtifactTopic != "" {
		params.Publisher = kafka.NewProducer(kafka.ProducerConfig{
			Brokers:      cfg.Kafka.Brokers,
			Topic:        cfg.Kafka.ArtifactTopic,
			BatchSize:    cfg.Kafka.BatchSize,
			BatchTimeout: cfg.Kafka.BatchTimeout,
			Compression:  kafka.CompressionFromString(cfg.Kafka.CompressionCodec),
			RequiredAcks: kafkago.RequireAll,
			MaxAttempts:  cfg.Kafka.Retries,
		})
	}

	service := indexer.NewService(params)
	if !service.Configure(ctx) {
		logr.Fatal("handler is not ready, refusing to consume events")
	}

	handler := indexer.NewHTTPHandler(service, service, gatherer, logr.Named("http"))
	server := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      handler.Router(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	dispatcher := indexer.NewDispatcher(service, logr.Named("dispatcher"))
	var consumers sync.WaitGroup
	for i := 0; i < cfg.Kafka.Consumers; i++ {
		consumer := kafka.NewConsumer(kafka.ConsumerConfig{
			Brokers:  cfg.Kafka.Brokers,
			Topic:    cfg.Kafka.EventsTopic,
			GroupID:  cfg.Kafka.ConsumerGroup,
			MinBytes: cfg.Kafka.MinBytes,
			MaxBytes: cfg.Kafka.MaxBytes,
		}, logr.Named("consumer"))

		consumers.Add(1)
		go func(id int) {
			defer consumers.Done()
			defer consumer.Close() //nolint:errcheck
			if err := consumer.Run(ctx, dispatcher.HandleMessage); err != nil {
				logr.Error("consumer stopped", zap.Int("consumer", id), zap.Error(err))
				stop()
			}
		}(i)
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logr.Error("http server shutdown failed", zap.Error(err))
		}
	}()

	logr.Info("indexer starting",
		zap.String("addr", cfg.HTTP.Addr),
		zap.String("handler_id", cfg.Handler.ID),
		zap.String("topic", cfg.Kafka.EventsTopic),
		zap.Int("consumers", cfg.Kafka.Consumers),
		zap.Duration("transformer_timeout", runner.Timeout()),
	)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logr.Error("http server failed", zap.Error(err))
		stop()
	}

	consumers.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := service.Close(shutdownCtx); err != nil {
		logr.Error("service shutdown failed", zap.Error(err))
	}
}
