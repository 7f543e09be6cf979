// Package main provides the enrichworker binary entry point. Enrichworker
// is the asynchronous enrichment runtime for the sales-intelligence
// platform: it executes queued enrichment tasks against upstream data
// providers and reports results back to the primary application.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"github.com/spf13/cobra"

	"github.com/leadfoundry/enrichworker/cache"
	"github.com/leadfoundry/enrichworker/callback"
	"github.com/leadfoundry/enrichworker/config"
	"github.com/leadfoundry/enrichworker/enrichment"
	"github.com/leadfoundry/enrichworker/httppool"
	"github.com/leadfoundry/enrichworker/offload"
	"github.com/leadfoundry/enrichworker/orchestrator"
	"github.com/leadfoundry/enrichworker/provider"
	"github.com/leadfoundry/enrichworker/queue"
	"github.com/leadfoundry/enrichworker/server"
	"github.com/leadfoundry/enrichworker/sink"
	"github.com/leadfoundry/enrichworker/task"
	"github.com/leadfoundry/enrichworker/trace"
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "enrichworker"
)

const (
	qualificationModel = "gpt-4o-mini"
	summaryModel       = "gemini-2.0-flash"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		configPath string
		port       int
		logLevel   string
	)

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Asynchronous enrichment worker",
		Long: `Enrichworker executes queued enrichment tasks: account enrichment,
lead enrichment, and dependency-ordered column generation.

Results are delivered to the primary application through authenticated
callbacks and archived to the analytics warehouse.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, port, logLevel)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Config file path (YAML)")
	cmd.Flags().IntVar(&port, "port", 0, "Listen port (overrides config)")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s version %s (build: %s)\n", appName, Version, BuildTime)
		},
	})

	return cmd
}

func run(configPath string, port int, logLevel string) error {
	if configPath != "" {
		os.Setenv(config.ConfigFileEnv, configPath)
	}
	cfg, err := config.NewLoader(nil).Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if port != 0 {
		cfg.Server.Port = port
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}

	logger := buildLogger(cfg.Log)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Shared backends
	var redisClient redis.UniversalClient
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
	}

	pools := offload.New(cfg.Pools.IOWorkers, cfg.Pools.CPUWorkers)
	defer pools.Shutdown()

	// Caches
	var respCacheOpts []cache.ResponseOption
	var aiCacheOpts []cache.AIOption
	if redisClient != nil {
		respCacheOpts = append(respCacheOpts, cache.WithRedis(redisClient))
		aiCacheOpts = append(aiCacheOpts, cache.WithAIRedis(redisClient))
	}
	respCache := cache.NewResponseCache(respCacheOpts...)
	respCache.StartCleanup(ctx, time.Hour)
	aiCache := cache.NewAICache(aiCacheOpts...)

	// Provider adapters share one pool configuration
	adapter := func(name string) (*provider.Adapter, error) {
		pool, err := httppool.New(httppool.Config{
			MaxConnections: cfg.Providers.MaxConnections,
			RequestTimeout: cfg.Providers.RequestTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("create %s connection pool: %w", name, err)
		}
		return provider.NewAdapter(name, pool,
			provider.WithCache(respCache),
			provider.WithBreaker(gobreaker.Settings{
				Name:        name,
				MaxRequests: 3,
				Interval:    time.Minute,
				Timeout:     30 * time.Second,
			})), nil
	}
	adapters := make(map[string]*provider.Adapter)
	for _, name := range []string{"brightdata", "builtwith", "apollo", "pages", "openai", "gemini", "entities"} {
		a, err := adapter(name)
		if err != nil {
			return err
		}
		adapters[name] = a
	}

	brightdata := provider.NewBrightData(adapters["brightdata"], cfg.Providers.BrightDataAPIKey)
	builtwith := provider.NewBuiltWith(adapters["builtwith"], cfg.Providers.BuiltWithAPIKey)
	apollo := provider.NewApollo(adapters["apollo"], cfg.Providers.ApolloAPIKey)
	pageReaderOpts := []provider.PageReaderOption{}
	if cfg.Providers.JinaAPIKey != "" {
		pageReaderOpts = append(pageReaderOpts, provider.WithJinaToken(cfg.Providers.JinaAPIKey))
	}
	pages := provider.NewPageReader(adapters["pages"], pageReaderOpts...)
	openai := provider.NewOpenAI(adapters["openai"], cfg.Providers.OpenAIAPIKey, provider.WithOpenAICache(aiCache))
	gemini := provider.NewGemini(adapters["gemini"], cfg.Providers.GeminiAPIKey, provider.WithGeminiCache(aiCache))

	// Status store
	var store task.StatusStore
	if redisClient != nil {
		store = task.NewRedisStatusStore(redisClient)
	} else {
		store = task.NewMemoryStatusStore()
	}

	// Archival sink
	var archive sink.Sink
	if cfg.Warehouse.ProjectID != "" && cfg.Warehouse.Dataset != "" {
		bq, err := sink.NewBigQuery(ctx, cfg.Warehouse.ProjectID, cfg.Warehouse.Dataset, cfg.Warehouse.Table)
		if err != nil {
			return fmt.Errorf("create warehouse sink: %w", err)
		}
		archive = bq
	} else {
		archive = sink.NewMemory()
		logger.Warn("no warehouse configured, archiving in memory")
	}

	// Callback delivery
	var tokens callback.TokenSource
	if cfg.Local() {
		tokens = &callback.StaticTokenSource{Value: cfg.Server.AuthToken}
	} else {
		tokens = callback.NewGoogleTokenSource(cfg.Callback.CredentialsFile)
	}
	deliverer := callback.NewClient(cfg.Callback.BaseURL, tokens,
		callback.WithLeadsPerPage(cfg.Callback.LeadsPerPage),
		callback.WithLogger(logger))

	// Task registry
	registry := task.NewRegistry()
	registry.MustRegister(enrichment.NewAccountTask(builtwith, apollo, pages, openai, pools, qualificationModel, logger))
	registry.MustRegister(enrichment.NewLeadTask(brightdata, gemini, pools, summaryModel, logger))
	entities := enrichment.NewAPIEntities(adapters["entities"], cfg.Callback.BaseURL)
	registry.MustRegister(enrichment.NewColumnTask(entities, openai, pools, qualificationModel, logger))

	// The queue, orchestrator, runner, and sender form a cycle that is
	// broken by wiring the runner into the local queue after construction.
	var taskQueue queue.TaskQueue
	var localQueue *queue.Local
	if cfg.Local() {
		localQueue = queue.NewLocal(nil)
		taskQueue = localQueue
	} else {
		ct, err := queue.NewCloudTasks(ctx, queue.CloudTasksConfig{
			ProjectID:           cfg.Queue.ProjectID,
			LocationID:          cfg.Queue.LocationID,
			QueueID:             cfg.Queue.QueueID,
			WorkerBaseURL:       cfg.Server.BaseURL,
			ServiceAccountEmail: cfg.Queue.ServiceAccountEmail,
		})
		if err != nil {
			return fmt.Errorf("create task queue: %w", err)
		}
		defer ct.Close()
		taskQueue = ct
	}

	orch := orchestrator.New(taskQueue, orchestrator.StaticDependencies{}, logger)
	sender := orchestrator.NewSender(deliverer, orch)
	runner := task.NewRunner(registry, store, sender,
		task.WithSink(archive),
		task.WithRunnerLogger(logger))
	if localQueue != nil {
		localQueue.SetRunner(runner)
	}

	srv := server.New(registry, runner, store, taskQueue,
		server.WithAuthToken(cfg.Server.AuthToken),
		server.WithOrchestrator(orch),
		server.WithHealthDetail(func() map[string]string {
			states := make(map[string]string, len(adapters))
			for name, a := range adapters {
				states[name] = a.Health()
			}
			return states
		}),
		server.WithServerLogger(logger))

	logger.Info("starting enrichment worker",
		"version", Version, "environment", cfg.Server.Environment,
		"port", cfg.Server.Port, "tasks", registry.List())

	err = srv.Start(ctx, cfg.Server.Port)
	if localQueue != nil {
		localQueue.Wait()
	}
	return err
}

// buildLogger configures the process logger with trace-field stamping.
func buildLogger(cfg config.LogConfig) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}
	return slog.New(trace.NewHandler(handler))
}
