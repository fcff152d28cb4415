// Package tracker is the HTTP client for the external task-tracking API.
// The pipeline only needs five calls; everything else in the tracker's API
// surface stays out of this module.
package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/taskbridgeco/taskbridge/internal/config"
)

// ErrAPI marks a non-2xx reply from the tracker.
var ErrAPI = errors.New("tracker api error")

// Task is the tracker-side record the Reconciliation Engine matches against.
type Task struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Status      string    `json:"status,omitempty"`
	Priority    string    `json:"priority,omitempty"`
	ParentID    string    `json:"parent,omitempty"`
	DateUpdated time.Time `json:"-"`
}

// TaskFields is the writable subset used on create/update.
type TaskFields struct {
	Name        string   `json:"name,omitempty"`
	Description string   `json:"description,omitempty"`
	Status      string   `json:"status,omitempty"`
	Priority    string   `json:"priority,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// API is the capability surface the Reconciliation Engine consumes. The
// HTTP client below implements it; tests substitute fakes.
type API interface {
	FindTasks(ctx context.Context, listID string) ([]Task, error)
	CreateTask(ctx context.Context, listID string, fields TaskFields) (*Task, error)
	UpdateTask(ctx context.Context, taskID string, fields TaskFields) (*Task, error)
	AddSubtask(ctx context.Context, parentID string, fields TaskFields) (*Task, error)
	AddComment(ctx context.Context, taskID, text string) error
}

// Client talks to a ClickUp-style JSON API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewClient(cfg config.TrackerConfig) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("tracker base url is required")
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("tracker token is required")
	}
	return &Client{
		baseURL: cfg.BaseURL,
		token:   cfg.Token,
		http:    &http.Client{Timeout: 20 * time.Second},
	}, nil
}

type taskListResponse struct {
	Tasks []taskJSON `json:"tasks"`
}

// taskJSON carries the wire shape; date_updated is epoch millis as string.
type taskJSON struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Parent      string `json:"parent"`
	DateUpdated string `json:"date_updated"`
	Status      struct {
		Status string `json:"status"`
	} `json:"status"`
	Priority struct {
		Priority string `json:"priority"`
	} `json:"priority"`
}

func (t taskJSON) toTask() Task {
	task := Task{
		ID:          t.ID,
		Name:        t.Name,
		Description: t.Description,
		Status:      t.Status.Status,
		Priority:    t.Priority.Priority,
		ParentID:    t.Parent,
	}
	if t.DateUpdated != "" {
		var ms int64
		if _, err := fmt.Sscanf(t.DateUpdated, "%d", &ms); err == nil {
			task.DateUpdated = time.UnixMilli(ms)
		}
	}
	return task
}

func (c *Client) FindTasks(ctx context.Context, listID string) ([]Task, error) {
	var resp taskListResponse
	url := fmt.Sprintf("%s/list/%s/task?archived=false", c.baseURL, listID)
	if err := c.do(ctx, http.MethodGet, url, nil, &resp); err != nil {
		return nil, err
	}

	tasks := make([]Task, 0, len(resp.Tasks))
	for _, t := range resp.Tasks {
		tasks = append(tasks, t.toTask())
	}
	return tasks, nil
}

func (c *Client) CreateTask(ctx context.Context, listID string, fields TaskFields) (*Task, error) {
	var created taskJSON
	url := fmt.Sprintf("%s/list/%s/task", c.baseURL, listID)
	if err := c.do(ctx, http.MethodPost, url, fields, &created); err != nil {
		return nil, err
	}
	task := created.toTask()
	return &task, nil
}

func (c *Client) UpdateTask(ctx context.Context, taskID string, fields TaskFields) (*Task, error) {
	var updated taskJSON
	url := fmt.Sprintf("%s/task/%s", c.baseURL, taskID)
	if err := c.do(ctx, http.MethodPut, url, fields, &updated); err != nil {
		return nil, err
	}
	task := updated.toTask()
	return &task, nil
}

func (c *Client) AddSubtask(ctx context.Context, parentID string, fields TaskFields) (*Task, error) {
	body := struct {
		TaskFields
		Parent string `json:"parent"`
	}{TaskFields: fields, Parent: parentID}

	var created taskJSON
	url := fmt.Sprintf("%s/task/%s/subtask", c.baseURL, parentID)
	if err := c.do(ctx, http.MethodPost, url, body, &created); err != nil {
		return nil, err
	}
	task := created.toTask()
	return &task, nil
}

func (c *Client) AddComment(ctx context.Context, taskID, text string) error {
	body := map[string]string{"comment_text": text}
	url := fmt.Sprintf("%s/task/%s/comment", c.baseURL, taskID)
	return c.do(ctx, http.MethodPost, url, body, nil)
}

func (c *Client) do(ctx context.Context, method, url string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("tracker request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errText, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%w: %s %s: status %d: %s", ErrAPI, method, url, resp.StatusCode, string(errText))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
