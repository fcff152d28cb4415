// Package enrich races the configured AI providers over inbound activities
// and correlates asynchronous media results back to their events.
package enrich

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/taskbridgeco/taskbridge/internal/bus"
	"github.com/taskbridgeco/taskbridge/internal/classify"
	"github.com/taskbridgeco/taskbridge/internal/config"
	"github.com/taskbridgeco/taskbridge/internal/provider"
)

// MediaPublisher hands a media job to the external asynchronous worker.
// The worker replies through the result channel, not through this call.
type MediaPublisher interface {
	Publish(ctx context.Context, job *Job) error
}

// Orchestrator drives the primary/fallback provider pair. Which concrete
// provider sits in which role is decided by configuration at wiring time.
type Orchestrator struct {
	primary  provider.Provider
	fallback provider.Provider
	registry *Registry
	publish  MediaPublisher // nil when async media is disabled

	primaryTimeout  time.Duration
	fallbackTimeout time.Duration
	mediaTimeout    time.Duration
	logger          *zap.Logger
}

func NewOrchestrator(primary, fallback provider.Provider, registry *Registry, cfg *config.Config, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		primary:         primary,
		fallback:        fallback,
		registry:        registry,
		primaryTimeout:  time.Duration(cfg.Provider.Primary.TimeoutSec) * time.Second,
		fallbackTimeout: time.Duration(cfg.Provider.Fallback.TimeoutSec) * time.Second,
		mediaTimeout:    time.Duration(cfg.Media.TimeoutSec) * time.Second,
		logger:          logger.Named("enrich"),
	}
}

// SetMediaPublisher enables the asynchronous media path.
func (o *Orchestrator) SetMediaPublisher(p MediaPublisher) {
	o.publish = p
}

// Registry exposes the correlation registry to the result subscriber.
func (o *Orchestrator) Registry() *Registry {
	return o.registry
}

// Enrich annotates the event with provider output. Provider failures are
// absorbed here: the worst case is a degraded result carrying the raw
// event, never an error and never an unbounded wait.
func (o *Orchestrator) Enrich(ctx context.Context, event bus.InboundEvent, cls classify.Result) *Enriched {
	enr := &Enriched{Event: event, Classification: cls}

	ann, used, fellBack, err := o.classifyText(ctx, event.Text)
	if err != nil {
		o.logger.Warn("both providers failed, continuing degraded",
			zap.String("session", event.SessionKey()),
			zap.Error(err))
		enr.Degraded = true
	} else {
		enr.Annotation = ann
		enr.ProviderUsed = used
		enr.FallbackUsed = fellBack
	}

	if len(event.Media) > 0 {
		enr.MediaSummary = o.describeMedia(ctx, event.Media[0])
	}
	return enr
}

// classifyText tries primary then fallback, each under its own timeout.
func (o *Orchestrator) classifyText(ctx context.Context, text string) (*provider.Annotation, string, bool, error) {
	ann, err := o.callClassify(ctx, o.primary, o.primaryTimeout, text)
	if err == nil {
		return ann, o.primary.Name(), false, nil
	}
	if o.fallback == nil {
		return nil, "", false, fmt.Errorf("primary: %w; no fallback configured", err)
	}
	o.logger.Warn("primary provider failed, trying fallback",
		zap.String("primary", o.primary.Name()),
		zap.Error(err))

	ann, ferr := o.callClassify(ctx, o.fallback, o.fallbackTimeout, text)
	if ferr == nil {
		return ann, o.fallback.Name(), true, nil
	}
	return nil, "", true, fmt.Errorf("primary: %w; fallback: %w", err, ferr)
}

func (o *Orchestrator) callClassify(ctx context.Context, p provider.Provider, timeout time.Duration, text string) (*provider.Annotation, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return p.ClassifyText(callCtx, text)
}

// describeMedia publishes an async job and waits on its completion slot.
// On timeout it falls back to the synchronous provider; if that also fails
// the event proceeds without media enrichment.
func (o *Orchestrator) describeMedia(ctx context.Context, ref bus.MediaRef) string {
	if o.publish != nil {
		if summary, ok := o.describeAsync(ctx, ref); ok {
			return summary
		}
	}

	if o.fallback == nil {
		return ""
	}
	callCtx, cancel := context.WithTimeout(ctx, o.fallbackTimeout)
	defer cancel()
	summary, err := o.fallback.DescribeMedia(callCtx, ref.URL, ref.MimeType)
	if err != nil {
		o.logger.Warn("media fallback failed, proceeding without enrichment",
			zap.String("provider", o.fallback.Name()),
			zap.Error(err))
		return ""
	}
	return summary
}

func (o *Orchestrator) describeAsync(ctx context.Context, ref bus.MediaRef) (string, bool) {
	job := o.registry.NewJob(ref.URL, ref.MimeType)

	if err := o.publish.Publish(ctx, job); err != nil {
		o.registry.drop(job.CorrelationID)
		o.logger.Warn("media publish failed", zap.Error(err))
		return "", false
	}

	res, err := o.registry.Wait(ctx, job, o.mediaTimeout)
	if err != nil {
		if errors.Is(err, ErrMediaTimeout) {
			o.logger.Warn("media job timed out, falling back",
				zap.String("correlation", job.CorrelationID))
		}
		return "", false
	}
	if res.Error != "" {
		o.logger.Warn("media worker reported error",
			zap.String("correlation", job.CorrelationID),
			zap.String("error", res.Error))
		return "", false
	}
	return res.Description, true
}
