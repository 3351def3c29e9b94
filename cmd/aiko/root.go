package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/aikogroup/aiko-gpt-sub001/graph"
	"github.com/aikogroup/aiko-gpt-sub001/graph/emit"
	"github.com/aikogroup/aiko-gpt-sub001/graph/model"
	"github.com/aikogroup/aiko-gpt-sub001/graph/store"
	"github.com/aikogroup/aiko-gpt-sub001/internal/config"
	"github.com/aikogroup/aiko-gpt-sub001/internal/pipeline"
	"github.com/aikogroup/aiko-gpt-sub001/internal/telemetry"
)

// app holds everything a command needs. Commands that touch threads call
// open first; close runs after every command, failed or not.
type app struct {
	configPath string

	cfg      *config.Config
	logger   *zap.Logger
	registry *pipeline.Registry

	store   store.Store
	locker  store.Locker
	model   model.ChatModel
	costs   *model.CostTracker
	metrics *graph.PrometheusMetrics
	emitter emit.Emitter

	promRegistry *prometheus.Registry
	metricsSrv   *http.Server
	tracing      *telemetry.Provider
	closers      []func() error
}

func newRootCmd() *cobra.Command {
	a := &app{registry: pipeline.DefaultRegistry()}

	root := &cobra.Command{
		Use:   "aiko",
		Short: "Run resumable consulting pipelines with human review gates",
		Long: `aiko drives the need analysis, executive summary and value chain pipelines.
Each run is a thread persisted after every step; it pauses at review gates
until a decision is submitted with "aiko resume".`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "aiko.yaml", "configuration file")

	root.AddCommand(
		newStartCmd(a),
		newResumeCmd(a),
		newInspectCmd(a),
		newListCmd(a),
		newDeleteCmd(a),
		newRecoverCmd(a),
		newPipelinesCmd(a),
	)

	// Post-run hooks are skipped when RunE fails, so close is chained here.
	for _, c := range root.Commands() {
		if c.RunE == nil {
			continue
		}
		run := c.RunE
		c.RunE = func(cmd *cobra.Command, args []string) error {
			err := run(cmd, args)
			return errors.Join(err, a.close(cmd.Context()))
		}
	}
	return root
}

// setup loads configuration and the logger. It opens no connection.
func (a *app) setup() error {
	cfg, err := config.NewLoader().WithConfigPath(a.configPath).Load()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = logger
	return nil
}

// open connects the store, model, metrics and tracing.
func (a *app) open(ctx context.Context) error {
	if a.store != nil {
		return nil
	}

	st, locker, closeStore, err := openStore(ctx, a.cfg.Store)
	if err != nil {
		return err
	}
	a.store, a.locker = st, locker
	a.closers = append(a.closers, closeStore)

	chat, closeModel, err := newChatModel(ctx, a.cfg.LLM)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, closeModel)
	a.costs = model.NewCostTracker()
	if a.cfg.LLM.RateLimit > 0 {
		chat = model.NewRateLimited(chat, a.cfg.LLM.RateLimit, a.cfg.LLM.Burst)
	}
	a.model = model.NewTracked(chat, a.costs, a.cfg.LLM.Model)

	a.promRegistry = prometheus.NewRegistry()
	a.metrics = graph.NewPrometheusMetrics(a.promRegistry)
	if a.cfg.Metrics.Addr != "" {
		a.serveMetrics(a.cfg.Metrics.Addr)
	}

	a.tracing, err = telemetry.Init(ctx, a.cfg.Telemetry, a.logger)
	if err != nil {
		return err
	}

	var emitters []emit.Emitter
	if a.cfg.Log.Events {
		emitters = append(emitters, emit.NewZapEmitter(a.logger))
	}
	if a.tracing.Enabled() {
		emitters = append(emitters, emit.NewOTelEmitter(a.tracing.Tracer()))
	}
	a.emitter = emit.NewNullEmitter()
	if len(emitters) > 0 {
		a.emitter = emit.Multi(emitters...)
	}
	return nil
}

func (a *app) serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.promRegistry, promhttp.HandlerOpts{}))
	a.metricsSrv = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	logger := a.logger.With(zap.String("component", "metrics"))
	go func() {
		if err := a.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server stopped", zap.Error(err))
		}
	}()
	logger.Info("serving metrics", zap.String("addr", addr))
}

func (a *app) close(ctx context.Context) error {
	if a.logger == nil {
		return nil
	}
	defer func() { _ = a.logger.Sync() }()

	if a.costs != nil {
		in, out := a.costs.TokenUsage()
		if in+out > 0 {
			a.logger.Info("llm usage",
				zap.Int64("input_tokens", in),
				zap.Int64("output_tokens", out),
				zap.Float64("cost_usd", a.costs.TotalCost()))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	var errs []error
	if a.metricsSrv != nil {
		errs = append(errs, a.metricsSrv.Shutdown(shutdownCtx))
	}
	if a.tracing != nil {
		errs = append(errs, a.tracing.Shutdown(shutdownCtx))
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	return errors.Join(errs...)
}

// engine builds an engine running p against the opened store.
func (a *app) engine(p pipeline.Pipeline) (*graph.Engine, error) {
	policy := graph.RetryPolicy{
		MaxAttempts: a.cfg.LLM.MaxAttempts,
		BaseDelay:   a.cfg.LLM.RetryDelay,
	}
	g := p.Build(pipeline.Deps{
		Model:   a.model,
		Logger:  a.logger,
		Metrics: a.metrics,
		Policy:  &policy,
	})

	opts := []graph.Option{
		graph.WithMaxConcurrent(a.cfg.Engine.MaxConcurrent),
		graph.WithMaxSteps(a.cfg.Engine.MaxSteps),
		graph.WithMetrics(a.metrics),
	}
	if a.cfg.Engine.NodeTimeout > 0 {
		opts = append(opts, graph.WithNodeTimeout(a.cfg.Engine.NodeTimeout))
	}
	if a.locker != nil {
		opts = append(opts, graph.WithLocker(a.locker, a.cfg.Store.LockTTL))
	}
	return graph.New(g, a.store, a.emitter, opts...)
}

// threadEngine loads a thread and builds the engine for the pipeline it was
// started with.
func (a *app) threadEngine(ctx context.Context, threadID string) (*graph.Engine, pipeline.Pipeline, store.Checkpoint, error) {
	cp, err := a.store.Get(ctx, threadID)
	if err != nil {
		return nil, pipeline.Pipeline{}, cp, fmt.Errorf("thread %s: %w", threadID, err)
	}
	name := cp.Config[pipeline.ConfigPipeline]
	if name == "" {
		return nil, pipeline.Pipeline{}, cp, fmt.Errorf("thread %s records no pipeline", threadID)
	}
	p, err := a.registry.Get(name)
	if err != nil {
		return nil, p, cp, err
	}
	e, err := a.engine(p)
	return e, p, cp, err
}

// runConfig is the immutable configuration a new thread starts with.
func (a *app) runConfig(name string, overrides map[string]string) graph.Config {
	cfg := graph.Config{
		pipeline.ConfigPipeline:           name,
		pipeline.ConfigValidatedThreshold: fmt.Sprint(a.cfg.Pipeline.ValidatedThreshold),
		pipeline.ConfigItemsPerCategory:   fmt.Sprint(a.cfg.Pipeline.ItemsPerCategory),
		pipeline.ConfigNeedsPerRound:      fmt.Sprint(a.cfg.Pipeline.NeedsPerRound),
	}
	for k, v := range overrides {
		if k == pipeline.ConfigPipeline {
			continue
		}
		cfg[k] = v
	}
	return cfg
}
