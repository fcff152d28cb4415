package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"github.com/taskbridgeco/taskbridge/internal/config"
)

// GeminiProvider classifies text and describes media via the GenAI API.
type GeminiProvider struct {
	client *genai.Client
	model  string
}

func NewGemini(cfg config.ProviderConfig) (*GeminiProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:   cfg.APIKey,
		Project:  cfg.Project,
		Location: cfg.Location,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	model := cfg.Model
	if model == "" {
		model = config.DefaultGeminiModel
	}

	return &GeminiProvider{client: client, model: model}, nil
}

func (p *GeminiProvider) Name() string { return "gemini" }

func (p *GeminiProvider) ClassifyText(ctx context.Context, text string) (*Annotation, error) {
	contents := []*genai.Content{
		genai.NewContentFromText(classifyPrompt+"\n\nMessage:\n"+text, genai.RoleUser),
	}
	resp, err := p.client.Models.GenerateContent(ctx, p.model, contents, &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	})
	if err != nil {
		return nil, wrapCallErr(p.Name(), err)
	}

	var ann Annotation
	if err := json.Unmarshal([]byte(stripFence(resp.Text())), &ann); err != nil {
		return nil, fmt.Errorf("%s: %w: parse annotation: %v", p.Name(), ErrProvider, err)
	}
	return &ann, nil
}

func (p *GeminiProvider) DescribeMedia(ctx context.Context, ref, mimeType string) (string, error) {
	data, err := fetchMediaBytes(ctx, ref)
	if err != nil {
		return "", wrapCallErr(p.Name(), err)
	}

	contents := []*genai.Content{
		{
			Role: genai.RoleUser,
			Parts: []*genai.Part{
				genai.NewPartFromText(describePrompt),
				genai.NewPartFromBytes(data, mimeType),
			},
		},
	}
	resp, err := p.client.Models.GenerateContent(ctx, p.model, contents, nil)
	if err != nil {
		return "", wrapCallErr(p.Name(), err)
	}
	return strings.TrimSpace(resp.Text()), nil
}

func fetchMediaBytes(ctx context.Context, ref string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch media: status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 8*1024*1024))
}

// stripFence removes a markdown code fence if the model wrapped its JSON.
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(s, "```")
	}
	return strings.TrimSpace(s)
}
