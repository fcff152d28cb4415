package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/taskbridgeco/taskbridge/internal/bus"
	"github.com/taskbridgeco/taskbridge/internal/config"
	"github.com/taskbridgeco/taskbridge/internal/enrich"
	"github.com/taskbridgeco/taskbridge/internal/logging"
	"github.com/taskbridgeco/taskbridge/internal/provider"
	"github.com/taskbridgeco/taskbridge/internal/resilience"
	"github.com/taskbridgeco/taskbridge/internal/tracker"
)

// fakeTracker is an in-memory tracker.API double.
type fakeTracker struct {
	tasks    []tracker.Task
	nextID   int
	comments map[string][]string
	findErr  error
}

func newFakeTracker() *fakeTracker {
	return &fakeTracker{comments: make(map[string][]string)}
}

func (f *fakeTracker) FindTasks(ctx context.Context, listID string) ([]tracker.Task, error) {
	if f.findErr != nil {
		return nil, f.findErr
	}
	out := make([]tracker.Task, len(f.tasks))
	copy(out, f.tasks)
	return out, nil
}

func (f *fakeTracker) CreateTask(ctx context.Context, listID string, fields tracker.TaskFields) (*tracker.Task, error) {
	f.nextID++
	task := tracker.Task{
		ID:          fmt.Sprintf("task-%d", f.nextID),
		Name:        fields.Name,
		Description: fields.Description,
		Status:      fields.Status,
		DateUpdated: time.Now(),
	}
	f.tasks = append(f.tasks, task)
	return &task, nil
}

func (f *fakeTracker) UpdateTask(ctx context.Context, taskID string, fields tracker.TaskFields) (*tracker.Task, error) {
	for i := range f.tasks {
		if f.tasks[i].ID == taskID {
			f.tasks[i].Description = fields.Description
			f.tasks[i].DateUpdated = time.Now()
			return &f.tasks[i], nil
		}
	}
	return nil, tracker.ErrAPI
}

func (f *fakeTracker) AddSubtask(ctx context.Context, parentID string, fields tracker.TaskFields) (*tracker.Task, error) {
	f.nextID++
	task := tracker.Task{
		ID:          fmt.Sprintf("task-%d", f.nextID),
		Name:        fields.Name,
		ParentID:    parentID,
		DateUpdated: time.Now(),
	}
	f.tasks = append(f.tasks, task)
	return &task, nil
}

func (f *fakeTracker) AddComment(ctx context.Context, taskID, text string) error {
	f.comments[taskID] = append(f.comments[taskID], text)
	return nil
}

func testTrackerConfig() config.TrackerConfig {
	return config.TrackerConfig{
		ListID:           "list-1",
		DefaultStatus:    "pendente",
		RecencyWindowMin: 60,
		MatchPolicy:      "fuzzy",
		MatchThreshold:   0.87,
	}
}

func openGuard() *resilience.Guard {
	return resilience.NewGuard(
		resilience.NewLimiter(1000, 1000),
		resilience.NewBreaker(resilience.BreakerConfig{
			FailureThreshold: 5,
			OpenTimeout:      time.Minute,
			SuccessThreshold: 2,
			HalfOpenMaxCalls: 3,
		}),
	)
}

func newTestEngine(api tracker.API) *Engine {
	cfg := testTrackerConfig()
	return NewEngine(api, openGuard(), NewMatcher(cfg), cfg, logging.NewNop())
}

func enrichedEvent(sender, text, summary string) *enrich.Enriched {
	return &enrich.Enriched{
		Event: bus.InboundEvent{
			Channel:    "webhook",
			SenderID:   strings.ToLower(sender),
			SenderName: sender,
			ChatID:     "chat-1",
			Text:       text,
		},
		Annotation: &provider.Annotation{Summary: summary, IsActivity: true, Confidence: 0.9},
	}
}

func TestReconcile_CreatesWhenNoMatch(t *testing.T) {
	api := newFakeTracker()
	e := newTestEngine(api)

	out, err := e.Reconcile(context.Background(), enrichedEvent("Maria", "preciso de parafusos", "pedido de parafusos"))
	if err != nil {
		t.Fatalf("Reconcile error: %v", err)
	}
	if out.Status != StatusCreated {
		t.Fatalf("status = %q, want created", out.Status)
	}
	if len(api.tasks) != 1 {
		t.Fatalf("tasks = %d, want 1", len(api.tasks))
	}
	if !strings.Contains(api.tasks[0].Name, "Maria") {
		t.Errorf("title %q should carry the sender", api.tasks[0].Name)
	}
}

func TestReconcile_UpdatesWithinRecencyWindow(t *testing.T) {
	api := newFakeTracker()
	e := newTestEngine(api)
	ctx := context.Background()

	ev := enrichedEvent("Maria", "preciso de parafusos", "pedido de parafusos")
	first, err := e.Reconcile(ctx, ev)
	if err != nil {
		t.Fatalf("first Reconcile error: %v", err)
	}

	// Identical logical request resubmitted: idempotent update, no duplicate.
	second, err := e.Reconcile(ctx, ev)
	if err != nil {
		t.Fatalf("second Reconcile error: %v", err)
	}
	if second.Status != StatusUpdated {
		t.Fatalf("status = %q, want updated", second.Status)
	}
	if second.Task.ID != first.Task.ID {
		t.Errorf("updated task %q, want the original %q", second.Task.ID, first.Task.ID)
	}
	if len(api.tasks) != 1 {
		t.Errorf("tasks = %d, want 1: resubmission must not duplicate", len(api.tasks))
	}
	if len(api.comments[first.Task.ID]) != 1 {
		t.Errorf("history comments = %d, want 1 before the in-place update", len(api.comments[first.Task.ID]))
	}
}

func TestReconcile_SubtaskOutsideWindow(t *testing.T) {
	api := newFakeTracker()
	e := newTestEngine(api)
	e.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	ctx := context.Background()

	ev := enrichedEvent("Maria", "preciso de parafusos", "pedido de parafusos")
	first, err := e.Reconcile(ctx, ev)
	if err != nil {
		t.Fatalf("first Reconcile error: %v", err)
	}
	// The fake stamps DateUpdated with real time.Now, so from the engine's
	// shifted clock the match is stale.
	out, err := e.Reconcile(ctx, ev)
	if err != nil {
		t.Fatalf("second Reconcile error: %v", err)
	}
	if out.Status != StatusSubtaskAdded {
		t.Fatalf("status = %q, want subtask_added", out.Status)
	}
	if out.Task.ParentID != first.Task.ID {
		t.Errorf("subtask parent = %q, want %q", out.Task.ParentID, first.Task.ID)
	}
}

func TestReconcile_TieBreakMostRecent(t *testing.T) {
	api := newFakeTracker()
	api.tasks = []tracker.Task{
		{ID: "old", Name: "Maria - pedido de parafusos", DateUpdated: time.Now().Add(-40 * time.Minute)},
		{ID: "new", Name: "Maria - pedido de parafusos", DateUpdated: time.Now().Add(-5 * time.Minute)},
	}
	e := newTestEngine(api)

	out, err := e.Reconcile(context.Background(), enrichedEvent("Maria", "parafusos de novo", "pedido de parafusos"))
	if err != nil {
		t.Fatalf("Reconcile error: %v", err)
	}
	if out.Status != StatusUpdated {
		t.Fatalf("status = %q, want updated", out.Status)
	}
	if out.Task.ID != "new" {
		t.Errorf("matched %q, want the most recently updated candidate", out.Task.ID)
	}
}

func TestReconcile_SubtasksNotMatchCandidates(t *testing.T) {
	api := newFakeTracker()
	api.tasks = []tracker.Task{
		{ID: "sub", Name: "Maria - pedido de parafusos", ParentID: "root", DateUpdated: time.Now()},
	}
	e := newTestEngine(api)

	out, err := e.Reconcile(context.Background(), enrichedEvent("Maria", "parafusos", "pedido de parafusos"))
	if err != nil {
		t.Fatalf("Reconcile error: %v", err)
	}
	if out.Status != StatusCreated {
		t.Fatalf("status = %q, want created: subtasks are not match candidates", out.Status)
	}
}

func TestBuildTitle_TruncatesOnRuneBoundary(t *testing.T) {
	e := newTestEngine(newFakeTracker())

	// The 80-rune cut lands in the middle of a multi-byte word.
	summary := strings.Repeat("a", 79) + "ção urgente"
	title := e.buildTitle(enrichedEvent("Maria", "pedido", summary))

	if !utf8.ValidString(title) {
		t.Fatalf("title is not valid UTF-8: %q", title)
	}
	if !strings.HasSuffix(title, "aç") {
		t.Errorf("title = %q, want truncation after the full rune %q", title, "ç")
	}
	rest := strings.TrimPrefix(title, "Maria - ")
	if n := len([]rune(rest)); n != 80 {
		t.Errorf("summary part = %d runes, want 80", n)
	}
}

func TestReconcile_RateLimitPropagates(t *testing.T) {
	api := newFakeTracker()
	cfg := testTrackerConfig()
	guard := resilience.NewGuard(
		resilience.NewLimiter(0.001, 0), // empty bucket
		resilience.NewBreaker(resilience.BreakerConfig{FailureThreshold: 5, OpenTimeout: time.Minute, SuccessThreshold: 2, HalfOpenMaxCalls: 3}),
	)
	e := NewEngine(api, guard, NewMatcher(cfg), cfg, logging.NewNop())

	_, err := e.Reconcile(context.Background(), enrichedEvent("Maria", "parafusos", "pedido"))
	if !errors.Is(err, resilience.ErrRateLimited) {
		t.Fatalf("Reconcile error = %v, want ErrRateLimited", err)
	}
}

func TestReconcile_DegradedEventStillDispatches(t *testing.T) {
	api := newFakeTracker()
	e := newTestEngine(api)

	enr := &enrich.Enriched{
		Event: bus.InboundEvent{
			Channel:    "webhook",
			SenderID:   "maria",
			SenderName: "Maria",
			ChatID:     "chat-1",
			Text:       "preciso de parafusos",
		},
		Degraded: true,
	}
	out, err := e.Reconcile(context.Background(), enr)
	if err != nil {
		t.Fatalf("Reconcile error: %v", err)
	}
	if out.Status != StatusCreated {
		t.Fatalf("status = %q, want created", out.Status)
	}
	if !strings.Contains(api.tasks[0].Description, "enrichment unavailable") {
		t.Errorf("degraded task description should note missing enrichment: %q", api.tasks[0].Description)
	}
}
