// Package openai implements caption.Captioner using the OpenAI
// chat-completions vision API. Pointing it at an OpenAI-compatible local
// endpoint (e.g., Ollama's /v1) keeps the kiosk fully offline.
package openai

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/beakylabs/beaky/pkg/provider/caption"
)

const defaultPrompt = "Describe this scene in one short sentence. " +
	"Mention people, notable objects, and what is happening. Be literal, no speculation."

var _ caption.Captioner = (*Captioner)(nil)

// Captioner implements caption.Captioner using a vision-capable chat model.
type Captioner struct {
	client oai.Client
	model  string
	prompt string
}

// config holds optional configuration for the captioner.
type config struct {
	apiKey  string
	baseURL string
	timeout time.Duration
	prompt  string
}

// Option is a functional option for Captioner.
type Option func(*config)

// WithAPIKey sets the API key. Local OpenAI-compatible servers typically
// accept any non-empty value.
func WithAPIKey(key string) Option {
	return func(c *config) { c.apiKey = key }
}

// WithBaseURL overrides the default OpenAI API base URL
// (e.g., "http://localhost:11434/v1" for Ollama).
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithPrompt overrides the captioning instruction sent with each image.
func WithPrompt(prompt string) Option {
	return func(c *config) { c.prompt = prompt }
}

// New constructs a Captioner for the given vision model.
func New(model string, opts ...Option) (*Captioner, error) {
	if model == "" {
		return nil, fmt.Errorf("openai: model must not be empty")
	}

	cfg := &config{prompt: defaultPrompt}
	for _, o := range opts {
		o(cfg)
	}

	var reqOpts []option.RequestOption
	if cfg.apiKey != "" {
		reqOpts = append(reqOpts, option.WithAPIKey(cfg.apiKey))
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	client := oai.NewClient(reqOpts...)
	return &Captioner{client: client, model: model, prompt: cfg.prompt}, nil
}

// Caption implements caption.Captioner.
func (c *Captioner) Caption(ctx context.Context, jpeg []byte) (string, error) {
	if len(jpeg) == 0 {
		return "", errors.New("openai: empty image")
	}

	dataURL := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(jpeg)

	params := oai.ChatCompletionNewParams{
		Model: c.model,
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.UserMessage([]oai.ChatCompletionContentPartUnionParam{
				oai.TextContentPart(c.prompt),
				oai.ImageContentPart(oai.ChatCompletionContentPartImageImageURLParam{
					URL: dataURL,
				}),
			}),
		},
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai: caption request: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai: empty choices in caption response")
	}

	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
