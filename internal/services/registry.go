package services

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/while-basic/celaya-parachain-sub000/internal/agents"
	"github.com/while-basic/celaya-parachain-sub000/internal/bus"
	"github.com/while-basic/celaya-parachain-sub000/internal/cognition"
	"github.com/while-basic/celaya-parachain-sub000/internal/config"
	"github.com/while-basic/celaya-parachain-sub000/internal/engine"
	"github.com/while-basic/celaya-parachain-sub000/internal/logging"
	"github.com/while-basic/celaya-parachain-sub000/internal/memory"
	"github.com/while-basic/celaya-parachain-sub000/internal/orchestrator"
	"github.com/while-basic/celaya-parachain-sub000/internal/sealer"
	"github.com/while-basic/celaya-parachain-sub000/internal/telemetry"
)

const scopePrefix = "github.com/while-basic/celaya-parachain-sub000/internal/"

// Options overrides parts of the runtime normally derived from config.
type Options struct {
	// Version is reported as the telemetry service version.
	Version string
	// Logger replaces the logger built from the logging section.
	Logger *logging.Logger
	// LogToStderr sends console logs to stderr, keeping stdout free for
	// a protocol stream.
	LogToStderr bool
	// Telemetry replaces the providers built from the telemetry section.
	Telemetry *telemetry.Telemetry
	// Invoker replaces the backend selected by agents.backend.
	Invoker agents.Invoker
	// Signer replaces the key loaded from sealing.key_path.
	Signer sealer.Signer
}

// Registry owns the assembled runtime.
type Registry struct {
	cfg       *config.Config
	logger    *logging.Logger
	telemetry *telemetry.Telemetry
	conn      *bus.Conn
	bridge    *bus.Bridge
	sealer    *sealer.Sealer
	catalog   *cognition.Catalog
	memory    *memory.Store
	engine    *engine.Engine

	ownLogger    bool
	ownTelemetry bool
	stopWatch    context.CancelFunc
}

// New builds the runtime described by cfg. On error every component built
// so far is released.
func New(ctx context.Context, cfg *config.Config, opts Options) (reg *Registry, err error) {
	if cfg == nil {
		cfg = config.Default()
	}
	r := &Registry{cfg: cfg, stopWatch: func() {}}
	defer func() {
		if err != nil {
			_ = r.Close(context.Background())
		}
	}()

	if err := r.initTelemetry(ctx, opts); err != nil {
		return nil, err
	}
	if err := r.initLogger(opts); err != nil {
		return nil, err
	}
	zl := r.logger.Underlying()

	content, ledger, err := r.initSealingBackends(zl)
	if err != nil {
		return nil, err
	}

	signer := opts.Signer
	if signer == nil {
		if signer, err = newSigner(cfg.Sealing.KeyPath); err != nil {
			return nil, err
		}
	}
	r.sealer = sealer.New(content, ledger, signer, sealer.Config{
		MaxAttempts: cfg.Sealing.MaxAttempts,
		Backoff:     cfg.Sealing.Backoff.Duration(),
	}, zl.Named("sealer"))

	invoker := opts.Invoker
	if invoker == nil {
		if invoker, err = agents.New(cfg.Agents, zl.Named("agents")); err != nil {
			return nil, fmt.Errorf("creating agent backend: %w", err)
		}
	}
	orch := orchestrator.New(invoker, orchestrator.Config{
		DefaultTimeout: cfg.Engine.DefaultTimeout.Duration(),
		AgentTimeout:   cfg.Engine.AgentTimeout.Duration(),
		DefaultModel:   cfg.Agents.DefaultModel,
	}, zl.Named("orchestrator"),
		orchestrator.WithTracer(r.telemetry.Tracer(scopePrefix+"orchestrator")),
		orchestrator.WithMetrics(orchestrator.NewMetricsWithMeter(r.telemetry.Meter(scopePrefix+"orchestrator"), zl)),
	)

	if err := r.initCatalog(ctx, zl); err != nil {
		return nil, err
	}

	if cfg.Memory.Enabled {
		if r.memory, err = memory.New(cfg.Memory, cfg.Agents, zl.Named("memory")); err != nil {
			return nil, fmt.Errorf("opening insight memory: %w", err)
		}
	}

	engineOpts := []engine.Option{engine.WithCatalog(r.catalog)}
	if r.memory != nil {
		engineOpts = append(engineOpts, engine.WithMemory(r.memory))
	}
	if r.bridge != nil {
		engineOpts = append(engineOpts, engine.WithSink(r.bridge))
	}
	r.engine = engine.New(*cfg, orch, r.sealer, r.logger, engineOpts...)

	r.logger.Info(ctx, "runtime assembled",
		zap.Bool("nats", r.conn != nil),
		zap.Bool("memory", r.memory != nil),
		zap.Bool("telemetry", r.telemetry.IsEnabled()),
		zap.String("agents_backend", cfg.Agents.Backend),
		zap.Int("definitions", len(r.catalog.List())))
	return r, nil
}

func (r *Registry) initTelemetry(ctx context.Context, opts Options) error {
	if opts.Telemetry != nil {
		r.telemetry = opts.Telemetry
		return nil
	}
	tel, err := telemetry.New(ctx, telemetry.FromConfig(r.cfg.Telemetry, opts.Version))
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	r.telemetry = tel
	r.ownTelemetry = true
	return nil
}

func (r *Registry) initLogger(opts Options) error {
	if opts.Logger != nil {
		r.logger = opts.Logger
		return nil
	}
	lcfg, err := logging.FromAppConfig(r.cfg.Logging)
	if err != nil {
		return fmt.Errorf("invalid logging config: %w", err)
	}
	if opts.LogToStderr {
		lcfg.Output.Stdout = false
		lcfg.Output.Stderr = true
	}
	logger, err := logging.NewLogger(lcfg, r.telemetry.LoggerProvider())
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	r.logger = logger
	r.ownLogger = true
	if h := r.telemetry.Health(); h.Degraded {
		logger.Underlying().Warn("telemetry degraded", zap.Strings("reasons", h.Reasons))
	}
	return nil
}

// initSealingBackends connects to NATS when configured and returns the
// JetStream ledger and object store, or in-process stand-ins otherwise.
func (r *Registry) initSealingBackends(zl *zap.Logger) (sealer.ContentStore, sealer.Ledger, error) {
	nc := r.cfg.NATS
	if nc.URL == "" && !nc.Embedded {
		zl.Warn("no NATS configured; ledger and content store are in-process only")
		return sealer.NewMemoryContentStore(), sealer.NewMemoryLedger(), nil
	}

	conn, err := bus.Connect(nc, zl.Named("bus"))
	if err != nil {
		return nil, nil, err
	}
	r.conn = conn

	ledger, err := sealer.NewJetStreamLedger(conn.NC, nc.LedgerStream)
	if err != nil {
		return nil, nil, fmt.Errorf("creating ledger: %w", err)
	}
	content, err := sealer.NewObjectContentStore(conn.NC, nc.ContentBucket)
	if err != nil {
		return nil, nil, fmt.Errorf("creating content store: %w", err)
	}
	r.bridge = bus.NewBridge(conn.NC, nc.SubjectPrefix, zl.Named("bridge"))
	return content, ledger, nil
}

func (r *Registry) initCatalog(ctx context.Context, zl *zap.Logger) error {
	r.catalog = cognition.NewCatalog(r.cfg.Catalog.Dir, zl.Named("catalog"))
	if r.cfg.Catalog.Dir == "" {
		return nil
	}
	if _, err := r.catalog.Load(); err != nil {
		return err
	}
	if !r.cfg.Catalog.Watch {
		return nil
	}
	watchCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	if err := r.catalog.Watch(watchCtx); err != nil {
		cancel()
		return err
	}
	r.stopWatch = cancel
	return nil
}

func newSigner(path string) (sealer.Signer, error) {
	if path == "" {
		return sealer.GenerateSigner()
	}
	s, err := sealer.LoadOrGenerateSigner(path)
	if err != nil {
		return nil, fmt.Errorf("loading signing key: %w", err)
	}
	return s, nil
}

// Close stops running executions and releases every component. It is safe
// to call on a partially built registry.
func (r *Registry) Close(ctx context.Context) error {
	var errs []error
	if r.engine != nil {
		if err := r.engine.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("engine shutdown: %w", err))
		}
	}
	r.stopWatch()
	if r.conn != nil {
		r.conn.Close()
	}
	if r.ownTelemetry {
		if err := r.telemetry.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if r.ownLogger {
		_ = r.logger.Sync()
	}
	return errors.Join(errs...)
}

// Config returns the configuration the registry was built from.
func (r *Registry) Config() *config.Config { return r.cfg }

// Engine returns the execution engine.
func (r *Registry) Engine() *engine.Engine { return r.engine }

// Logger returns the process logger.
func (r *Registry) Logger() *logging.Logger { return r.logger }

// Telemetry returns the tracer and meter providers.
func (r *Registry) Telemetry() *telemetry.Telemetry { return r.telemetry }

// Bridge returns the NATS event bridge, or nil without NATS.
func (r *Registry) Bridge() *bus.Bridge { return r.bridge }

// Sealer returns the report sealer.
func (r *Registry) Sealer() *sealer.Sealer { return r.sealer }

// Catalog returns the definition catalog.
func (r *Registry) Catalog() *cognition.Catalog { return r.catalog }

// Memory returns the insight memory, or nil when disabled.
func (r *Registry) Memory() *memory.Store { return r.memory }
