package cmd

import (
	"context"
	"os"

	"github.com/Layr-Labs/unichain-indexer/internal/config"
	"github.com/Layr-Labs/unichain-indexer/internal/logger"
	"github.com/Layr-Labs/unichain-indexer/internal/metrics"
	"github.com/Layr-Labs/unichain-indexer/internal/metrics/metricsTypes"
	"github.com/Layr-Labs/unichain-indexer/internal/metrics/prometheus"
	"github.com/Layr-Labs/unichain-indexer/internal/queue/rabbitmq"
	"github.com/Layr-Labs/unichain-indexer/internal/shutdown"
	"github.com/Layr-Labs/unichain-indexer/pkg/clients/ethereum"
	"github.com/Layr-Labs/unichain-indexer/pkg/effects"
	"github.com/Layr-Labs/unichain-indexer/pkg/effects/postgresEffectStore"
	"github.com/Layr-Labs/unichain-indexer/pkg/effects/redisEffectStore"
	"github.com/Layr-Labs/unichain-indexer/pkg/effects/rpcEffects"
	"github.com/Layr-Labs/unichain-indexer/pkg/entityStore"
	"github.com/Layr-Labs/unichain-indexer/pkg/eventBus"
	"github.com/Layr-Labs/unichain-indexer/pkg/feed/jsonlFeed"
	"github.com/Layr-Labs/unichain-indexer/pkg/handlers"
	"github.com/Layr-Labs/unichain-indexer/pkg/handlers/poolManager"
	"github.com/Layr-Labs/unichain-indexer/pkg/pipeline"
	"github.com/Layr-Labs/unichain-indexer/pkg/postgres"
	"github.com/Layr-Labs/unichain-indexer/pkg/postgres/migrations"
	pgStorage "github.com/Layr-Labs/unichain-indexer/pkg/storage/postgres"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Index the events of the configured feed",
	Run: func(cmd *cobra.Command, args []string) {
		initCommandFlags(cmd)
		cfg := config.NewConfig()

		l, _ := logger.NewLogger(&logger.LoggerConfig{Debug: cfg.Debug})

		if err := cfg.Validate(); err != nil {
			l.Sugar().Fatalw("Invalid configuration", zap.Error(err))
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		if err := runIndexer(ctx, cancel, cfg, l); err != nil {
			l.Sugar().Fatalw("Indexer stopped with an error", zap.Error(err))
		}
	},
}

func runIndexer(ctx context.Context, cancel context.CancelFunc, cfg *config.Config, l *zap.Logger) error {
	metricsClients, err := metrics.InitMetricsSinksFromConfig(cfg, l)
	if err != nil {
		l.Sugar().Errorw("Failed to setup metrics sink", zap.Error(err))
		return err
	}
	sink, err := metrics.NewMetricsSink(&metrics.MetricsSinkConfig{
		DefaultLabels: []metricsTypes.MetricsLabel{{Name: "chain", Value: string(cfg.Chain)}},
	}, metricsClients)
	if err != nil {
		l.Sugar().Errorw("Failed to setup metrics sink", zap.Error(err))
		return err
	}
	if cfg.PrometheusConfig.Enabled {
		prometheus.NewPrometheusServer(&prometheus.PrometheusServerConfig{Port: cfg.PrometheusConfig.Port}, l).Start(ctx)
	}

	grm, err := connectDatabase(cfg, l)
	if err != nil {
		return err
	}

	effectStore, err := newEffectStore(cfg, grm, l)
	if err != nil {
		return err
	}
	cache := effects.NewEffectCache(effectStore, sink, l)

	client := ethereum.NewClient(ethereum.ConvertGlobalConfigToEthereumConfig(&cfg.EthereumRpcConfig), l)
	tokenMetadata := rpcEffects.NewTokenMetadataEffect(client, l)
	if err := cache.Register(tokenMetadata); err != nil {
		return err
	}
	if err := cache.Init(ctx); err != nil {
		return err
	}

	registry := handlers.NewRegistry()
	if err := poolManager.NewPoolManagerHandlers(cfg, tokenMetadata, l).Register(registry); err != nil {
		return err
	}

	store := entityStore.NewEntityStore(pgStorage.NewPostgresEntityHistoryStore(grm, l), l)
	if err := store.Register(registry.Schemas()...); err != nil {
		return err
	}
	if err := store.LoadFromHistory(ctx); err != nil {
		l.Sugar().Errorw("Failed to rebuild entity store from history", zap.Error(err))
		return err
	}
	if checkpoint, ok := store.LastCommitted(cfg.Chain.ChainId()); ok {
		l.Sugar().Infow("Resuming from checkpoint", zap.String("checkpoint", checkpoint.String()))
	}

	feed, err := openFeed(cfg, l)
	if err != nil {
		return err
	}
	defer feed.Close() //nolint:errcheck

	eb := eventBus.NewEventBus(l)
	if cfg.RabbitMQConfig.Enabled {
		mq := rabbitmq.NewRabbitMQ(&rabbitmq.RabbitMQConfig{
			Username:  cfg.RabbitMQConfig.Username,
			Password:  cfg.RabbitMQConfig.Password,
			Url:       cfg.RabbitMQConfig.Url,
			Secure:    cfg.RabbitMQConfig.Secure,
			Exchanges: rabbitmq.GetExchanges(cfg.RabbitMQConfig.Exchange),
		}, l)
		if _, err := mq.Connect(); err != nil {
			return err
		}
		defer mq.Close() //nolint:errcheck

		notifier := rabbitmq.NewNotifier(ctx, mq, cfg.RabbitMQConfig.Exchange, cfg.PipelineConfig.LookaheadWindow*4, l)
		eb.Subscribe(notifier.Consumer())
		go notifier.Run()
	}
	p := pipeline.NewPipeline(feed, registry, store, cache, eb, sink, cfg.PipelineConfig, l)

	var runErr error
	done := make(chan struct{})
	go func() {
		defer close(done)
		runErr = p.Run(ctx)
	}()
	l.Sugar().Infow("Started indexer", zap.String("chain", string(cfg.Chain)))

	shutdown.ListenForShutdown(ctx, shutdown.CreateGracefulShutdownChannel(), done, func() {
		l.Sugar().Info("Shutting down...")
		cancel()
	}, cfg.EffectsConfig.ShutdownTimeout, l)
	<-done

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.EffectsConfig.ShutdownTimeout)
	defer shutdownCancel()
	if err := cache.Shutdown(shutdownCtx); err != nil {
		l.Sugar().Errorw("Failed to flush effect cache", zap.Error(err))
	}

	if checkpoint, ok := p.Checkpoint(cfg.Chain.ChainId()); ok {
		l.Sugar().Infow("Stopped at checkpoint", zap.String("checkpoint", checkpoint.String()))
	}
	return runErr
}

func connectDatabase(cfg *config.Config, l *zap.Logger) (*gorm.DB, error) {
	pgConfig := postgres.PostgresConfigFromDbConfig(&cfg.DatabaseConfig)
	pgConfig.CreateDbIfNotExists = true

	pg, err := postgres.NewPostgres(pgConfig)
	if err != nil {
		l.Error("Failed to setup postgres connection", zap.Error(err))
		return nil, err
	}

	grm, err := postgres.NewGormFromPostgresConnection(pg.Db)
	if err != nil {
		l.Error("Failed to create gorm instance", zap.Error(err))
		return nil, err
	}

	migrator := migrations.NewMigrator(pg.Db, grm, l)
	if err = migrator.MigrateAll(); err != nil {
		l.Error("Failed to migrate", zap.Error(err))
		return nil, err
	}
	return grm, nil
}

func newEffectStore(cfg *config.Config, grm *gorm.DB, l *zap.Logger) (effects.EffectStore, error) {
	if !cfg.EffectsConfig.Persist {
		return nil, nil
	}
	switch cfg.EffectsConfig.Backend {
	case config.EffectsBackend_Postgres:
		return postgresEffectStore.NewPostgresEffectStore(grm, l), nil
	case config.EffectsBackend_Redis:
		store, err := redisEffectStore.NewRedisEffectStore(&redisEffectStore.RedisEffectStoreConfig{
			Url:     cfg.EffectsConfig.RedisUrl,
			Db:      cfg.EffectsConfig.RedisDb,
			ChainId: cfg.Chain.ChainId(),
		}, l)
		if err != nil {
			l.Sugar().Errorw("Failed to setup redis effect store", zap.Error(err))
			return nil, err
		}
		return store, nil
	default:
		return nil, nil
	}
}

func openFeed(cfg *config.Config, l *zap.Logger) (*jsonlFeed.JsonlFeed, error) {
	if cfg.FeedConfig.EventsFile == "" || cfg.FeedConfig.EventsFile == "-" {
		return jsonlFeed.NewJsonlFeed(os.Stdin, l), nil
	}
	if cfg.FeedConfig.ShowProgress {
		return jsonlFeed.OpenJsonlFeedWithProgress(cfg.FeedConfig.EventsFile, l)
	}
	return jsonlFeed.OpenJsonlFeed(cfg.FeedConfig.EventsFile, l)
}
