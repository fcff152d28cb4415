package enrich

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/taskbridgeco/taskbridge/internal/bus"
	"github.com/taskbridgeco/taskbridge/internal/classify"
	"github.com/taskbridgeco/taskbridge/internal/config"
	"github.com/taskbridgeco/taskbridge/internal/logging"
	"github.com/taskbridgeco/taskbridge/internal/provider"
)

// fakeProvider scripts provider behavior per test.
type fakeProvider struct {
	name         string
	classifyErr  error
	annotation   *provider.Annotation
	describeErr  error
	description  string
	classifyHits atomic.Int64
	describeHits atomic.Int64
	delay        time.Duration
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) ClassifyText(ctx context.Context, text string) (*provider.Annotation, error) {
	f.classifyHits.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, provider.ErrTimeout
		}
	}
	if f.classifyErr != nil {
		return nil, f.classifyErr
	}
	return f.annotation, nil
}

func (f *fakeProvider) DescribeMedia(ctx context.Context, ref, mimeType string) (string, error) {
	f.describeHits.Add(1)
	if f.describeErr != nil {
		return "", f.describeErr
	}
	return f.description, nil
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Provider.Primary.TimeoutSec = 1
	cfg.Provider.Fallback.TimeoutSec = 1
	cfg.Media.TimeoutSec = 1
	return cfg
}

func testEvent(text string) bus.InboundEvent {
	return bus.InboundEvent{
		Channel:  "webhook",
		SenderID: "sender-1",
		ChatID:   "chat-1",
		Text:     text,
	}
}

func TestEnrich_PrimarySucceeds(t *testing.T) {
	primary := &fakeProvider{name: "openai", annotation: &provider.Annotation{Summary: "buy screws", IsActivity: true}}
	fallback := &fakeProvider{name: "gemini"}
	o := NewOrchestrator(primary, fallback, NewRegistry(), testConfig(), logging.NewNop())

	enr := o.Enrich(context.Background(), testEvent("need screws"), classify.Result{Verdict: classify.VerdictActivity})
	if enr.Degraded {
		t.Fatal("should not be degraded")
	}
	if enr.ProviderUsed != "openai" || enr.FallbackUsed {
		t.Errorf("used %q fallback=%v, want primary only", enr.ProviderUsed, enr.FallbackUsed)
	}
	if fallback.classifyHits.Load() != 0 {
		t.Error("fallback should not be called when primary succeeds")
	}
}

func TestEnrich_FallbackOnPrimaryError(t *testing.T) {
	primary := &fakeProvider{name: "openai", classifyErr: provider.ErrProvider}
	fallback := &fakeProvider{name: "gemini", annotation: &provider.Annotation{Summary: "ok", IsActivity: true}}
	o := NewOrchestrator(primary, fallback, NewRegistry(), testConfig(), logging.NewNop())

	enr := o.Enrich(context.Background(), testEvent("need screws"), classify.Result{})
	if enr.Degraded {
		t.Fatal("fallback succeeded, result must not be degraded")
	}
	if enr.ProviderUsed != "gemini" || !enr.FallbackUsed {
		t.Errorf("used %q fallback=%v, want fallback path", enr.ProviderUsed, enr.FallbackUsed)
	}
}

func TestEnrich_BothFailDegraded(t *testing.T) {
	primary := &fakeProvider{name: "openai", classifyErr: provider.ErrTimeout}
	fallback := &fakeProvider{name: "gemini", classifyErr: provider.ErrProvider}
	o := NewOrchestrator(primary, fallback, NewRegistry(), testConfig(), logging.NewNop())

	enr := o.Enrich(context.Background(), testEvent("need screws"), classify.Result{})
	if !enr.Degraded {
		t.Fatal("both providers failed: result must be degraded, not an error")
	}
	if enr.Annotation != nil {
		t.Error("degraded result should carry no annotation")
	}
}

func TestEnrich_NoFallbackConfigured(t *testing.T) {
	primary := &fakeProvider{name: "openai", classifyErr: provider.ErrProvider}
	o := NewOrchestrator(primary, nil, NewRegistry(), testConfig(), logging.NewNop())

	enr := o.Enrich(context.Background(), testEvent("need screws"), classify.Result{})
	if !enr.Degraded {
		t.Fatal("primary failed with no fallback: result must be degraded")
	}
}

// publishOK accepts the job and never produces a result.
type publishOK struct{}

func (publishOK) Publish(ctx context.Context, job *Job) error { return nil }

// publishAndResolve delivers a scripted result through the registry.
type publishAndResolve struct {
	registry    *Registry
	description string
}

func (p *publishAndResolve) Publish(ctx context.Context, job *Job) error {
	go p.registry.Resolve(bus.MediaResult{
		CorrelationID: job.CorrelationID,
		Description:   p.description,
	})
	return nil
}

func TestEnrich_MediaAsyncResult(t *testing.T) {
	primary := &fakeProvider{name: "openai", annotation: &provider.Annotation{IsActivity: true}}
	fallback := &fakeProvider{name: "gemini", description: "fallback description"}
	registry := NewRegistry()
	o := NewOrchestrator(primary, fallback, registry, testConfig(), logging.NewNop())
	o.SetMediaPublisher(&publishAndResolve{registry: registry, description: "pipe fitting photo"})

	event := testEvent("need this part")
	event.Media = []bus.MediaRef{{URL: "https://files.example/part.jpg", MimeType: "image/jpeg"}}

	enr := o.Enrich(context.Background(), event, classify.Result{})
	if enr.MediaSummary != "pipe fitting photo" {
		t.Errorf("media summary = %q, want async worker result", enr.MediaSummary)
	}
	if fallback.describeHits.Load() != 0 {
		t.Error("fallback media path should not run when the worker responds")
	}
}

func TestEnrich_MediaTimeoutFallsBack(t *testing.T) {
	cfg := testConfig()
	cfg.Media.TimeoutSec = 1 // floor; Wait sees 1s, worker never answers

	primary := &fakeProvider{name: "openai", annotation: &provider.Annotation{IsActivity: true}}
	fallback := &fakeProvider{name: "gemini", description: "described synchronously"}
	registry := NewRegistry()
	o := NewOrchestrator(primary, fallback, registry, cfg, logging.NewNop())
	o.SetMediaPublisher(publishOK{})

	event := testEvent("look at this")
	event.Media = []bus.MediaRef{{URL: "https://files.example/x.png", MimeType: "image/png"}}

	enr := o.Enrich(context.Background(), event, classify.Result{})
	if enr.MediaSummary != "described synchronously" {
		t.Errorf("media summary = %q, want fallback provider output", enr.MediaSummary)
	}
	if fallback.describeHits.Load() != 1 {
		t.Errorf("fallback describe calls = %d, want 1", fallback.describeHits.Load())
	}
	if registry.Pending() != 0 {
		t.Errorf("pending jobs = %d, want 0 after timeout", registry.Pending())
	}
}

func TestEnrich_MediaBothPathsFail(t *testing.T) {
	primary := &fakeProvider{name: "openai", annotation: &provider.Annotation{IsActivity: true}}
	fallback := &fakeProvider{name: "gemini", describeErr: errors.New("no vision quota")}
	registry := NewRegistry()
	o := NewOrchestrator(primary, fallback, registry, testConfig(), logging.NewNop())
	o.SetMediaPublisher(publishOK{})

	event := testEvent("see attachment")
	event.Media = []bus.MediaRef{{URL: "ref", MimeType: "image/png"}}

	enr := o.Enrich(context.Background(), event, classify.Result{})
	if enr.MediaSummary != "" {
		t.Errorf("media summary = %q, want empty: event proceeds without enrichment", enr.MediaSummary)
	}
	if enr.Degraded {
		t.Error("media failure alone should not mark the event degraded")
	}
}
