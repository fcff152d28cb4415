package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/taskbridgeco/taskbridge/internal/config"
)

// OpenAIProvider classifies text and describes media via chat completions.
type OpenAIProvider struct {
	client *openai.Client
	model  string
}

func NewOpenAI(cfg config.ProviderConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	model := cfg.Model
	if model == "" {
		model = config.DefaultOpenAIModel
	}

	return &OpenAIProvider{
		client: openai.NewClientWithConfig(clientCfg),
		model:  model,
	}, nil
}

func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) ClassifyText(ctx context.Context, text string) (*Annotation, error) {
	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: classifyPrompt},
			{Role: openai.ChatMessageRoleUser, Content: text},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0.1,
	})
	if err != nil {
		return nil, wrapCallErr(p.Name(), err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%s: %w: empty choices", p.Name(), ErrProvider)
	}

	var ann Annotation
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if err := json.Unmarshal([]byte(content), &ann); err != nil {
		return nil, fmt.Errorf("%s: %w: parse annotation: %v", p.Name(), ErrProvider, err)
	}
	return &ann, nil
}

func (p *OpenAIProvider) DescribeMedia(ctx context.Context, ref, mimeType string) (string, error) {
	var parts []openai.ChatMessagePart
	if strings.HasPrefix(mimeType, "image/") {
		parts = []openai.ChatMessagePart{
			{Type: openai.ChatMessagePartTypeText, Text: describePrompt},
			{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{URL: ref}},
		}
	} else {
		// Non-image media goes in as fetched text; audio/video stay with
		// the async worker and only fall back here for transcribable kinds.
		body, err := fetchMedia(ctx, ref)
		if err != nil {
			return "", wrapCallErr(p.Name(), err)
		}
		parts = []openai.ChatMessagePart{
			{Type: openai.ChatMessagePartTypeText, Text: describePrompt + "\n\n" + body},
		}
	}

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, MultiContent: parts},
		},
		Temperature: 0.2,
	})
	if err != nil {
		return "", wrapCallErr(p.Name(), err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%s: %w: empty choices", p.Name(), ErrProvider)
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// fetchMedia pulls media bytes so they can be inlined in a prompt. Capped at
// 512 KiB; fallback description does not need full fidelity.
func fetchMedia(ctx context.Context, ref string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch media: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 512*1024))
	if err != nil {
		return "", err
	}
	return string(data), nil
}
