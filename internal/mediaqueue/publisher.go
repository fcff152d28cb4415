package mediaqueue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/taskbridgeco/taskbridge/internal/config"
	"github.com/taskbridgeco/taskbridge/internal/enrich"
)

// Publisher posts media jobs to the worker's intake endpoint.
type Publisher struct {
	url  string
	http *http.Client
}

func NewPublisher(cfg config.MediaConfig) (*Publisher, error) {
	if cfg.PublishURL == "" {
		return nil, fmt.Errorf("media publish url is required")
	}
	return &Publisher{
		url:  cfg.PublishURL,
		http: &http.Client{Timeout: 10 * time.Second},
	}, nil
}

type jobPayload struct {
	CorrelationID string `json:"correlation_id"`
	Ref           string `json:"ref"`
	MimeType      string `json:"mime_type"`
}

func (p *Publisher) Publish(ctx context.Context, job *enrich.Job) error {
	data, err := json.Marshal(jobPayload{
		CorrelationID: job.CorrelationID,
		Ref:           job.Ref,
		MimeType:      job.MimeType,
	})
	if err != nil {
		return fmt.Errorf("marshal media job: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build publish request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.http.Do(req)
	if err != nil {
		return fmt.Errorf("publish media job: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("publish media job: status %d", resp.StatusCode)
	}
	return nil
}
