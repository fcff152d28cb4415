package gateway

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/taskbridgeco/taskbridge/internal/bus"
	"github.com/taskbridgeco/taskbridge/internal/channel"
	"github.com/taskbridgeco/taskbridge/internal/classify"
	"github.com/taskbridgeco/taskbridge/internal/config"
	"github.com/taskbridgeco/taskbridge/internal/cron"
	"github.com/taskbridgeco/taskbridge/internal/enrich"
	"github.com/taskbridgeco/taskbridge/internal/mediaqueue"
	"github.com/taskbridgeco/taskbridge/internal/provider"
	"github.com/taskbridgeco/taskbridge/internal/reconcile"
	"github.com/taskbridgeco/taskbridge/internal/resilience"
	"github.com/taskbridgeco/taskbridge/internal/tracker"
)

// OutcomeStatus tags what the pipeline did with one event.
type OutcomeStatus string

const (
	OutcomeCreated      OutcomeStatus = "created"
	OutcomeUpdated      OutcomeStatus = "updated"
	OutcomeSubtaskAdded OutcomeStatus = "subtask_added"
	OutcomeRejected     OutcomeStatus = "rejected"
	OutcomeDegraded     OutcomeStatus = "degraded"
	OutcomeFailed       OutcomeStatus = "failed"
)

// TaskOutcome is the structured result of handling one event. Callers never
// see a panic or raw error; failures become a tagged outcome.
type TaskOutcome struct {
	Status  OutcomeStatus
	TaskID  string
	Summary string
	Err     error // set for failed/degraded, informational only
}

// ProviderFactory builds an AI provider from config (allows mocking in tests).
type ProviderFactory func(cfg config.ProviderConfig) (provider.Provider, error)

// TrackerFactory builds the task-tracker client (allows mocking in tests).
type TrackerFactory func(cfg config.TrackerConfig) (tracker.API, error)

// Options for creating a Gateway.
type Options struct {
	ProviderFactory ProviderFactory
	TrackerFactory  TrackerFactory
	SignalChan      chan os.Signal // for testing signal handling
}

type Gateway struct {
	cfg        *config.Config
	bus        *bus.MessageBus
	store      *classify.Store
	classifier *classify.Classifier
	orch       *enrich.Orchestrator
	engine     *reconcile.Engine
	guard      *resilience.Guard
	comments   *resilience.Batcher
	api        tracker.API
	channels   *channel.ChannelManager
	cron       *cron.Service
	subscriber *mediaqueue.Subscriber
	logger     *zap.Logger
	signalChan chan os.Signal // for testing
}

// New creates a Gateway with default options.
func New(cfg *config.Config, logger *zap.Logger) (*Gateway, error) {
	return NewWithOptions(cfg, logger, Options{})
}

// NewWithOptions creates a Gateway with custom options for testing.
func NewWithOptions(cfg *config.Config, logger *zap.Logger, opts Options) (*Gateway, error) {
	g := &Gateway{
		cfg:        cfg,
		logger:     logger.Named("gateway"),
		signalChan: opts.SignalChan,
	}

	g.bus = bus.NewMessageBus(cfg.Gateway.BufSize)

	// Heuristic classifier with persisted learned patterns
	store, err := classify.NewStore(cfg.Classifier.DBPath, cfg.Classifier.TermsDir)
	if err != nil {
		return nil, fmt.Errorf("open pattern store: %w", err)
	}
	g.store = store
	g.classifier = classify.NewClassifier(store, cfg.Classifier, logger)

	// AI providers: primary is required, fallback optional
	providerFactory := opts.ProviderFactory
	if providerFactory == nil {
		providerFactory = provider.New
	}
	primary, err := providerFactory(cfg.Provider.Primary)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("init primary provider: %w", err)
	}
	var fallback provider.Provider
	if cfg.Provider.Fallback.APIKey != "" {
		fallback, err = providerFactory(cfg.Provider.Fallback)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("init fallback provider: %w", err)
		}
	}

	registry := enrich.NewRegistry()
	g.orch = enrich.NewOrchestrator(primary, fallback, registry, cfg, logger)

	if cfg.Media.Enabled {
		pub, err := mediaqueue.NewPublisher(cfg.Media)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("init media publisher: %w", err)
		}
		g.orch.SetMediaPublisher(pub)

		sub, err := mediaqueue.NewSubscriber(cfg.Media, registry, logger)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("init media subscriber: %w", err)
		}
		g.subscriber = sub
	}

	// Resilience guard in front of the tracker
	limiter := resilience.NewLimiter(cfg.RateLimit.RatePerSecond, cfg.RateLimit.Burst)
	breaker := resilience.NewBreaker(resilience.BreakerConfig{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		OpenTimeout:      time.Duration(cfg.Breaker.OpenTimeoutSec) * time.Second,
		SuccessThreshold: cfg.Breaker.SuccessThreshold,
		HalfOpenMaxCalls: cfg.Breaker.HalfOpenMaxCalls,
	})
	g.guard = resilience.NewGuard(limiter, breaker)

	trackerFactory := opts.TrackerFactory
	if trackerFactory == nil {
		trackerFactory = func(tc config.TrackerConfig) (tracker.API, error) {
			return tracker.NewClient(tc)
		}
	}
	api, err := trackerFactory(cfg.Tracker)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("init tracker client: %w", err)
	}
	g.api = api

	g.engine = reconcile.NewEngine(api, g.guard, reconcile.NewMatcher(cfg.Tracker), cfg.Tracker, logger)

	if cfg.Batch.Enabled {
		g.comments = resilience.NewBatcher(
			cfg.Batch.Size,
			time.Duration(cfg.Batch.WindowMs)*time.Millisecond,
			g.flushComments,
			logger,
		)
		g.engine.SetCommentBatcher(g.comments)
	}

	chMgr, err := channel.NewChannelManager(cfg.Channels, cfg.Gateway, g.bus, logger)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("create channel manager: %w", err)
	}
	g.channels = chMgr

	// Pattern store maintenance
	g.cron = cron.NewService(logger)
	g.cron.Register("pattern-flush", cfg.Classifier.FlushExpr, g.store.Flush)
	g.cron.Register("pattern-decay", cfg.Classifier.DecayExpr, func() error {
		dropped := g.store.Decay(30 * 24 * time.Hour)
		if dropped > 0 {
			g.logger.Info("stale patterns dropped", zap.Int("count", dropped))
		}
		return g.store.Flush()
	})

	return g, nil
}

// flushComments delivers one aggregated batch of history comments. Each
// item fails or succeeds on its own; one bad task ID never poisons the rest.
func (g *Gateway) flushComments(items []resilience.BatchItem) map[string]error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	errs := make(map[string]error, len(items))
	for _, item := range items {
		req, ok := item.Payload.(reconcile.CommentRequest)
		if !ok {
			errs[item.ID] = fmt.Errorf("unexpected batch payload %T", item.Payload)
			continue
		}
		errs[item.ID] = g.guard.Call(ctx, "comments", func(ctx context.Context) error {
			return g.api.AddComment(ctx, req.TaskID, req.Text)
		})
	}
	return errs
}

// HandleEvent runs one event through the full pipeline: heuristic
// classification, AI enrichment, and tracker reconciliation. It always
// returns a structured outcome, never panics, never returns an error.
func (g *Gateway) HandleEvent(ctx context.Context, event bus.InboundEvent) TaskOutcome {
	cls := g.classifier.Classify(event.Text)
	if cls.Verdict == classify.VerdictNonActivity {
		g.logger.Debug("event rejected",
			zap.String("sender", event.SenderID),
			zap.Float64("confidence", cls.Confidence))
		return TaskOutcome{Status: OutcomeRejected, Summary: "not an actionable request"}
	}

	enriched := g.orch.Enrich(ctx, event, cls)
	g.learnFromAnnotation(event.Text, enriched)

	outcome, err := g.dispatch(ctx, enriched)
	if err != nil {
		if errors.Is(err, resilience.ErrRateLimited) || errors.Is(err, resilience.ErrCircuitOpen) {
			g.logger.Warn("dispatch degraded",
				zap.String("sender", event.SenderID),
				zap.Error(err))
			return TaskOutcome{Status: OutcomeDegraded, Summary: "task dispatch deferred", Err: err}
		}
		g.logger.Error("dispatch failed",
			zap.String("sender", event.SenderID),
			zap.Error(err))
		return TaskOutcome{Status: OutcomeFailed, Summary: "task dispatch failed", Err: err}
	}

	result := TaskOutcome{
		Status: OutcomeStatus(outcome.Status),
		TaskID: outcome.Task.ID,
	}
	if enriched.Annotation != nil {
		result.Summary = enriched.Annotation.Summary
	}
	if enriched.Degraded {
		result.Status = OutcomeDegraded
		result.Summary = "task recorded without enrichment"
	}
	return result
}

// dispatch reconciles with retry. Rate-limit and circuit-open responses are
// transient: back off and retry until the budget runs out, then surface the
// last error to the caller.
func (g *Gateway) dispatch(ctx context.Context, enriched *enrich.Enriched) (*reconcile.Outcome, error) {
	op := func() (*reconcile.Outcome, error) {
		outcome, err := g.engine.Reconcile(ctx, enriched)
		if err != nil {
			if errors.Is(err, resilience.ErrRateLimited) || errors.Is(err, resilience.ErrCircuitOpen) {
				return nil, err // transient, retried
			}
			return nil, backoff.Permanent(err)
		}
		return outcome, nil
	}

	maxElapsed := time.Duration(g.cfg.Tracker.RetryMaxElapsed) * time.Second
	return backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(maxElapsed),
	)
}

// learnFromAnnotation feeds AI agreement back into the heuristic layer so
// repeated phrasings resolve locally without a provider call.
func (g *Gateway) learnFromAnnotation(text string, enriched *enrich.Enriched) {
	if enriched.Annotation == nil {
		return
	}
	verdict := classify.VerdictNonActivity
	if enriched.Annotation.IsActivity {
		verdict = classify.VerdictActivity
	}
	g.classifier.Learn(text, verdict, enriched.Annotation.Confidence)
}

func (g *Gateway) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go g.bus.DispatchOutcomes(ctx)

	if err := g.channels.StartAll(ctx); err != nil {
		return fmt.Errorf("start channels: %w", err)
	}
	g.logger.Info("channels started", zap.Strings("channels", g.channels.EnabledChannels()))

	if g.subscriber != nil {
		go g.subscriber.Run(ctx)
	}

	if err := g.cron.Start(); err != nil {
		g.logger.Warn("cron start", zap.Error(err))
	}

	for i := 0; i < g.cfg.Gateway.Workers; i++ {
		go g.processLoop(ctx)
	}

	g.logger.Info("running",
		zap.String("host", g.cfg.Gateway.Host),
		zap.Int("port", g.cfg.Gateway.Port),
		zap.Int("workers", g.cfg.Gateway.Workers))

	sigCh := g.signalChan
	if sigCh == nil {
		sigCh = make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	}
	<-sigCh

	g.logger.Info("shutting down")
	return g.Shutdown()
}

// processLoop drains inbound events. Each event gets its own deadline; a
// stuck provider bounds one event, not the worker.
func (g *Gateway) processLoop(ctx context.Context) {
	eventTimeout := time.Duration(g.cfg.Gateway.EventTimeoutSec) * time.Second
	for {
		select {
		case event := <-g.bus.Inbound:
			evCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), eventTimeout)
			outcome := g.HandleEvent(evCtx, event)
			cancel()

			g.bus.Outcomes <- bus.OutcomeNotice{
				Channel: event.Channel,
				ChatID:  event.ChatID,
				Status:  string(outcome.Status),
				TaskID:  outcome.TaskID,
				Summary: outcome.Summary,
			}
		case <-ctx.Done():
			return
		}
	}
}

func (g *Gateway) Shutdown() error {
	g.cron.Stop()
	if g.comments != nil {
		g.comments.FlushAll()
	}
	if err := g.store.Flush(); err != nil {
		g.logger.Warn("pattern flush on shutdown", zap.Error(err))
	}
	if err := g.store.Close(); err != nil {
		g.logger.Warn("close pattern store", zap.Error(err))
	}
	_ = g.channels.StopAll()
	g.logger.Info("shutdown complete")
	return nil
}
