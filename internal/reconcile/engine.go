// Package reconcile decides create/update/subtask against the external
// task tracker. Lookup-then-act is not atomic against the remote store; a
// rare concurrent duplicate is accepted and narrowed by the recency window.
package reconcile

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/taskbridgeco/taskbridge/internal/config"
	"github.com/taskbridgeco/taskbridge/internal/enrich"
	"github.com/taskbridgeco/taskbridge/internal/resilience"
	"github.com/taskbridgeco/taskbridge/internal/tracker"
)

// Status is the reconciliation verdict for one event.
type Status string

const (
	StatusCreated      Status = "created"
	StatusUpdated      Status = "updated"
	StatusSubtaskAdded Status = "subtask_added"
)

// Outcome reports what the engine did and to which task.
type Outcome struct {
	Status Status
	Task   *tracker.Task
}

// CommentRequest is the batched payload for history comments.
type CommentRequest struct {
	TaskID string
	Text   string
}

// Engine matches enriched events against existing tracker records. All
// tracker calls pass through the resilience guard.
type Engine struct {
	api      tracker.API
	guard    *resilience.Guard
	comments *resilience.Batcher // nil when batching is disabled
	matcher  Matcher
	cfg      config.TrackerConfig
	logger   *zap.Logger
	now      func() time.Time // test seam
}

func NewEngine(api tracker.API, guard *resilience.Guard, matcher Matcher, cfg config.TrackerConfig, logger *zap.Logger) *Engine {
	return &Engine{
		api:     api,
		guard:   guard,
		matcher: matcher,
		cfg:     cfg,
		logger:  logger.Named("reconcile"),
		now:     time.Now,
	}
}

// SetCommentBatcher routes history comments through a batch aggregator.
func (e *Engine) SetCommentBatcher(b *resilience.Batcher) {
	e.comments = b
}

// NewMatcher builds the configured matching policy.
func NewMatcher(cfg config.TrackerConfig) Matcher {
	if cfg.MatchPolicy == "exact" {
		return ExactMatcher{}
	}
	return FuzzyMatcher{Threshold: cfg.MatchThreshold}
}

// Reconcile finds the best existing match for the event and creates,
// updates, or appends a subtask. Rate-limit and circuit errors propagate to
// the caller, which owns retry policy.
func (e *Engine) Reconcile(ctx context.Context, enr *enrich.Enriched) (*Outcome, error) {
	title := e.buildTitle(enr)
	dispatchKey := enr.Event.DispatchKey()

	var tasks []tracker.Task
	err := e.guard.Call(ctx, dispatchKey, func(ctx context.Context) error {
		var err error
		tasks, err = e.api.FindTasks(ctx, e.cfg.ListID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("find tasks: %w", err)
	}

	match := e.bestMatch(title, tasks)
	fields := e.buildFields(title, enr)

	if match == nil {
		var created *tracker.Task
		err := e.guard.Call(ctx, dispatchKey, func(ctx context.Context) error {
			var err error
			created, err = e.api.CreateTask(ctx, e.cfg.ListID, fields)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("create task: %w", err)
		}
		e.logger.Info("task created", zap.String("task", created.ID), zap.String("title", title))
		return &Outcome{Status: StatusCreated, Task: created}, nil
	}

	window := time.Duration(e.cfg.RecencyWindowMin) * time.Minute
	if e.now().Sub(match.DateUpdated) <= window {
		// Same logical request: preserve history, then update in place.
		if err := e.addComment(ctx, dispatchKey, match.ID, e.buildHistoryComment(match, enr)); err != nil {
			e.logger.Warn("history comment failed", zap.String("task", match.ID), zap.Error(err))
		}

		var updated *tracker.Task
		err := e.guard.Call(ctx, dispatchKey, func(ctx context.Context) error {
			var err error
			updated, err = e.api.UpdateTask(ctx, match.ID, fields)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("update task: %w", err)
		}
		e.logger.Info("task updated", zap.String("task", match.ID), zap.String("title", title))
		return &Outcome{Status: StatusUpdated, Task: updated}, nil
	}

	// Related but distinct unit of work: keep the thread, add a subtask.
	var sub *tracker.Task
	err = e.guard.Call(ctx, dispatchKey, func(ctx context.Context) error {
		var err error
		sub, err = e.api.AddSubtask(ctx, match.ID, fields)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("add subtask: %w", err)
	}
	e.logger.Info("subtask added", zap.String("parent", match.ID), zap.String("task", sub.ID))
	return &Outcome{Status: StatusSubtaskAdded, Task: sub}, nil
}

// bestMatch applies the matching policy over top-level tasks. When several
// candidates qualify, the most recently updated one wins; that ambiguity is
// logged, never surfaced.
func (e *Engine) bestMatch(title string, tasks []tracker.Task) *tracker.Task {
	var candidates []tracker.Task
	for _, t := range tasks {
		if t.ParentID != "" {
			continue
		}
		if _, ok := e.matcher.Match(title, t.Name); ok {
			candidates = append(candidates, t)
		}
	}
	if len(candidates) == 0 {
		return nil
	}

	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.DateUpdated.After(best.DateUpdated) {
			best = c
		}
	}
	if len(candidates) > 1 {
		e.logger.Info("ambiguous match resolved by recency",
			zap.String("title", title),
			zap.Int("candidates", len(candidates)),
			zap.String("chosen", best.ID))
	}
	return &best
}

func (e *Engine) addComment(ctx context.Context, dispatchKey, taskID, text string) error {
	if e.comments != nil {
		done := e.comments.Add("add_comment", CommentRequest{TaskID: taskID, Text: text})
		select {
		case err := <-done:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return e.guard.Call(ctx, dispatchKey, func(ctx context.Context) error {
		return e.api.AddComment(ctx, taskID, text)
	})
}

func (e *Engine) buildTitle(enr *enrich.Enriched) string {
	summary := ""
	if enr.Annotation != nil {
		summary = strings.TrimSpace(enr.Annotation.Summary)
	}
	if summary == "" {
		summary = strings.TrimSpace(enr.Event.Text)
	}
	if r := []rune(summary); len(r) > 80 {
		summary = string(r[:80])
	}
	if enr.Event.SenderName != "" {
		return fmt.Sprintf("%s - %s", enr.Event.SenderName, summary)
	}
	return summary
}

func (e *Engine) buildFields(title string, enr *enrich.Enriched) tracker.TaskFields {
	var desc strings.Builder
	desc.WriteString(enr.Event.Text)

	if enr.Annotation != nil {
		if enr.Annotation.Category != "" {
			fmt.Fprintf(&desc, "\n\nCategory: %s", enr.Annotation.Category)
		}
		if len(enr.Annotation.Subtasks) > 0 {
			desc.WriteString("\n\nSuggested steps:")
			for _, s := range enr.Annotation.Subtasks {
				fmt.Fprintf(&desc, "\n- %s", s)
			}
		}
	}
	if enr.MediaSummary != "" {
		fmt.Fprintf(&desc, "\n\nMedia: %s", enr.MediaSummary)
	}
	if enr.Degraded {
		desc.WriteString("\n\n(enrichment unavailable for this event)")
	}

	fields := tracker.TaskFields{
		Name:        title,
		Description: desc.String(),
		Status:      e.cfg.DefaultStatus,
	}
	if enr.Annotation != nil && enr.Annotation.Priority != "" {
		fields.Priority = enr.Annotation.Priority
	}
	return fields
}

// buildHistoryComment snapshots the task before an in-place update.
func (e *Engine) buildHistoryComment(prev *tracker.Task, enr *enrich.Enriched) string {
	var sb strings.Builder
	sb.WriteString("Automatic update from chat event\n\n")
	fmt.Fprintf(&sb, "Timestamp: %s\n", e.now().UTC().Format(time.RFC3339))
	fmt.Fprintf(&sb, "Channel: %s\n\n", enr.Event.Channel)
	sb.WriteString("Previous version:\n")
	fmt.Fprintf(&sb, "- Title: %s\n", prev.Name)
	fmt.Fprintf(&sb, "- Last updated: %s\n", prev.DateUpdated.UTC().Format(time.RFC3339))
	if prev.Description != "" {
		fmt.Fprintf(&sb, "\nPrevious description:\n%s\n", prev.Description)
	}
	return sb.String()
}
