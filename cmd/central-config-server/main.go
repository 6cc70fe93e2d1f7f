/*
Copyright 2025 HZeroxium.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// central-config-server runs the heartbeat ingestion and drift-control
// pipeline: HTTP facade, partitioned heartbeat bus, batch processor,
// layered config-hash cache, and the resilient config-source client.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/HZeroxium/central-config-server/pkg/bus"
	"github.com/HZeroxium/central-config-server/pkg/cache"
	"github.com/HZeroxium/central-config-server/pkg/confighash"
	"github.com/HZeroxium/central-config-server/pkg/config"
	"github.com/HZeroxium/central-config-server/pkg/ingestion"
	"github.com/HZeroxium/central-config-server/pkg/log"
	"github.com/HZeroxium/central-config-server/pkg/metrics"
	"github.com/HZeroxium/central-config-server/pkg/processor"
	"github.com/HZeroxium/central-config-server/pkg/refresh"
	"github.com/HZeroxium/central-config-server/pkg/server"
	"github.com/HZeroxium/central-config-server/pkg/store"
)

const shutdownTimeout = 30 * time.Second

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logger := log.NewLogger(log.Options{
		Development: cfg.Log.Development,
		Level:       cfg.Log.Level,
		ServiceName: "central-config-server",
	})
	defer log.Sync(logger)

	if err := run(cfg, configPath, logger); err != nil {
		logger.Error("central-config-server exited with error", zap.Error(err))
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	var cfg *config.Config
	if path == "" {
		cfg = config.DefaultConfig()
	} else {
		loaded, err := config.LoadFromFile(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func run(cfg *config.Config, configPath string, logger *zap.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.NewMetrics("central_config")

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		DB:       cfg.Redis.DB,
		Password: cfg.Redis.Password,
	})
	defer redisClient.Close()
	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	err := redisClient.Ping(pingCtx).Err()
	pingCancel()
	if err != nil {
		return fmt.Errorf("redis unreachable at %s: %w", cfg.Redis.Addr, err)
	}

	pg, err := store.OpenPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		return err
	}
	defer pg.Close()

	manager, localTier, err := buildCacheTier(cfg, redisClient, m, logger)
	if err != nil {
		return err
	}
	subscriber := cache.NewInvalidationSubscriber(
		redisClient, cfg.Cache.InvalidationChannel, cfg.Instance.ID, localTier, logger)
	subscriber.Start(ctx)

	var resolver confighash.Resolver
	if len(cfg.ConfigSource.ServiceDiscovery.Endpoints) > 0 {
		resolver = confighash.NewStaticResolver(cfg.ConfigSource.ServiceDiscovery.Endpoints)
	}
	hashClient := confighash.NewClient(confighash.ClientConfig{
		BaseURL:         cfg.ConfigSource.URL,
		Discovery:       cfg.ConfigSource.ServiceDiscovery,
		Resolver:        resolver,
		MockMode:        cfg.ConfigProxy.MockMode,
		Policies:        cfg.Policy(config.PolicyConfigSource),
		OnBreakerChange: func(name string, _, to gobreaker.State) { m.ObserveBreakerState(name, to) },
	}, m, logger)

	dispatcher := refresh.NewDispatcher(cfg.ConfigSource.URL, m, logger)
	proc := processor.NewProcessor(pg, pg, pg, manager, hashClient, dispatcher, m, logger)

	producer := bus.NewProducer(redisClient, cfg.Heartbeat.Bus, cfg.Policy(config.PolicyBusProducer), m, logger)
	consumer := bus.NewConsumer(redisClient, cfg.Heartbeat.Bus, cfg.Heartbeat.Batch,
		cfg.Instance.ID, proc.HandleBatch, m, logger)
	if err := consumer.Start(ctx); err != nil {
		return fmt.Errorf("start heartbeat consumer: %w", err)
	}

	gateway := ingestion.NewGateway(producer, m, logger)
	srv := server.New(cfg.Server, server.Dependencies{
		Gateway:      gateway,
		Reader:       pg,
		DB:           pg,
		RedisPing:    func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
		ConfigSource: hashClient,
		Cache:        manager,
		Metrics:      m,
		Logger:       logger,
	})

	if configPath != "" {
		watchConfig(ctx, configPath, manager, logger)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http facade failed: %w", err)
		}
		return nil
	}

	// Shutdown sequence: flip readiness, wait for load balancers to notice,
	// drain HTTP, stop the consumer after its current batch, flush the
	// producer, then release resources via the deferred closes.
	srv.BeginShutdown()
	time.Sleep(2 * time.Second)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http drain incomplete", zap.Error(err))
	}

	cancel()
	consumer.Wait()
	producer.Close()
	logger.Info("central-config-server stopped")
	return nil
}

func buildCacheTier(cfg *config.Config, redisClient redis.UniversalClient, m *metrics.Metrics, logger *zap.Logger) (*cache.DelegatingManager, *cache.LocalProvider, error) {
	maxSize := func(cacheName string) int {
		if cc, ok := cfg.Cache.Caches[cacheName]; ok {
			return cc.MaximumSize
		}
		return 0
	}
	local := cache.NewLocalProvider(maxSize)

	var fallback *cache.LocalProvider
	if cfg.Cache.FallbackEnabled {
		fallback = local
	}
	publisher := cache.NewInvalidationPublisher(
		redisClient, cfg.Cache.InvalidationChannel, cfg.Instance.ID, logger)

	cachePolicy := cfg.Policy(config.PolicyDistributedCache)
	distributed := cache.NewDistributedProvider(redisClient, cache.DistributedConfig{
		KeyPrefix:            "central-config",
		OpTimeout:            cachePolicy.TimeLimiter.Timeout.Std(),
		FailureRateThreshold: cachePolicy.CircuitBreaker.FailureRateThreshold,
		SlidingWindowSize:    cachePolicy.CircuitBreaker.SlidingWindowSize,
		OpenTimeout:          cachePolicy.CircuitBreaker.OpenTimeout.Std(),
		HalfOpenMaxCalls:     cachePolicy.CircuitBreaker.HalfOpenMaxCalls,
		OnStateChange:        func(name string, _, to gobreaker.State) { m.ObserveBreakerState(name, to) },
	}, fallback, publisher, logger)

	providers := map[cache.ProviderKind]cache.Provider{
		cache.KindLocal:       local,
		cache.KindDistributed: distributed,
		cache.KindTwoLevel:    cache.NewTwoLevelProvider(local, distributed, cfg.Cache.WriteThrough),
		cache.KindNoop:        cache.NewNoopProvider(),
	}

	settings := make(map[string]cache.Settings, len(cfg.Cache.Caches))
	for name, cc := range cfg.Cache.Caches {
		settings[name] = cache.Settings{
			TTL:              cc.TTL.Std(),
			MaxSize:          cc.MaximumSize,
			AllowNullValues:  cc.AllowNullValues,
			ProviderOverride: cache.ProviderKind(cc.ProviderOverride),
		}
	}
	defaults := cache.Settings{TTL: 5 * time.Minute, MaxSize: 10000}

	manager, err := cache.NewDelegatingManager(
		providers, cache.ProviderKind(cfg.Cache.Provider), defaults, settings, m, logger)
	if err != nil {
		return nil, nil, err
	}
	return manager, local, nil
}

// watchConfig hot-reloads the cache provider selection when the config file
// changes. Everything else still requires a restart.
func watchConfig(ctx context.Context, path string, manager *cache.DelegatingManager, logger *zap.Logger) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warn("config watcher unavailable, provider switch requires restart", zap.Error(err))
		return
	}
	if err := watcher.Add(path); err != nil {
		logger.Warn("config watcher unavailable, provider switch requires restart",
			zap.String("path", path), zap.Error(err))
		_ = watcher.Close()
		return
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				reloaded, err := config.LoadFromFile(path)
				if err != nil {
					logger.Warn("config reload failed, keeping current settings", zap.Error(err))
					continue
				}
				kind := cache.ProviderKind(reloaded.Cache.Provider)
				if kind == manager.ActiveKind() {
					continue
				}
				if err := manager.SwitchProvider(kind); err != nil {
					logger.Warn("cache provider switch rejected", zap.Error(err))
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("config watcher error", zap.Error(err))
			}
		}
	}()
	logger.Info("config watcher started", zap.String("path", path))
}
