package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/taskbridgeco/taskbridge/internal/config"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewClient(config.TrackerConfig{BaseURL: srv.URL, Token: "test-token"})
	if err != nil {
		t.Fatalf("NewClient error: %v", err)
	}
	return c
}

func TestNewClient_Validation(t *testing.T) {
	if _, err := NewClient(config.TrackerConfig{Token: "t"}); err == nil {
		t.Error("missing base url should fail")
	}
	if _, err := NewClient(config.TrackerConfig{BaseURL: "http://x"}); err == nil {
		t.Error("missing token should fail")
	}
}

func TestFindTasks(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-token" {
			t.Errorf("authorization = %q", r.Header.Get("Authorization"))
		}
		if r.URL.Path != "/list/list-1/task" {
			t.Errorf("path = %q", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"tasks": []map[string]any{
				{
					"id":           "abc",
					"name":         "Maria - pedido",
					"date_updated": "1756600000000",
					"status":       map[string]string{"status": "pendente"},
					"priority":     map[string]string{"priority": "high"},
				},
			},
		})
	})

	tasks, err := c.FindTasks(context.Background(), "list-1")
	if err != nil {
		t.Fatalf("FindTasks error: %v", err)
	}
	if len(tasks) != 1 {
		t.Fatalf("tasks = %d, want 1", len(tasks))
	}
	got := tasks[0]
	if got.ID != "abc" || got.Status != "pendente" || got.Priority != "high" {
		t.Errorf("task = %+v", got)
	}
	if got.DateUpdated != time.UnixMilli(1756600000000) {
		t.Errorf("dateUpdated = %v, want epoch-millis parse", got.DateUpdated)
	}
}

func TestCreateTask(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %q", r.Method)
		}
		var fields TaskFields
		if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if fields.Name != "new task" {
			t.Errorf("name = %q", fields.Name)
		}
		json.NewEncoder(w).Encode(map[string]any{"id": "created-1", "name": fields.Name})
	})

	task, err := c.CreateTask(context.Background(), "list-1", TaskFields{Name: "new task"})
	if err != nil {
		t.Fatalf("CreateTask error: %v", err)
	}
	if task.ID != "created-1" {
		t.Errorf("id = %q", task.ID)
	}
}

func TestAddSubtask_CarriesParent(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if body["parent"] != "parent-1" {
			t.Errorf("parent = %v", body["parent"])
		}
		json.NewEncoder(w).Encode(map[string]any{"id": "sub-1", "parent": "parent-1"})
	})

	task, err := c.AddSubtask(context.Background(), "parent-1", TaskFields{Name: "follow-up"})
	if err != nil {
		t.Fatalf("AddSubtask error: %v", err)
	}
	if task.ParentID != "parent-1" {
		t.Errorf("parentID = %q", task.ParentID)
	}
}

func TestAddComment(t *testing.T) {
	var got map[string]string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	})

	if err := c.AddComment(context.Background(), "task-1", "history snapshot"); err != nil {
		t.Fatalf("AddComment error: %v", err)
	}
	if got["comment_text"] != "history snapshot" {
		t.Errorf("comment body = %v", got)
	}
}

func TestDo_NonOKIsErrAPI(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limit", http.StatusTooManyRequests)
	})

	_, err := c.FindTasks(context.Background(), "list-1")
	if !errors.Is(err, ErrAPI) {
		t.Fatalf("error = %v, want ErrAPI", err)
	}
}
