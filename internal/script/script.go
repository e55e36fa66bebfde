// Package script turns a topic into scene prompts through an
// OpenAI-compatible chat completions endpoint.
package script

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/shehryarbajwa/flowreel/internal/logger"
	"github.com/shehryarbajwa/flowreel/pkg/models"
)

// ClipSeconds is the length of one generated clip
const ClipSeconds = 8

// ErrNoAPIKey is returned when the client has no credentials
var ErrNoAPIKey = errors.New("LLM_API_KEY not set")

// Generator produces a scene script for a topic
type Generator interface {
	Generate(ctx context.Context, topic string, durationSeconds int) (*models.Script, error)
}

const systemPrompt = `You write shot lists for short AI-generated videos.
Reply with JSON only, no prose, in this shape:
{"title": string, "scenes": [{"description": string, "prompt": string, "duration": number}]}
Each prompt is a self-contained English video generation prompt describing subject, action, setting, camera and lighting.`

// Config points the client at an endpoint
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Client calls POST {BaseURL}/chat/completions
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a script client
func NewClient(cfg Config, log *slog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger.OrDefault(log),
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// SceneCount is the number of clips needed to cover durationSeconds
func SceneCount(durationSeconds int) int {
	if durationSeconds <= 0 {
		return 1
	}
	return (durationSeconds + ClipSeconds - 1) / ClipSeconds
}

// Generate asks the model for SceneCount(durationSeconds) scenes
func (c *Client) Generate(ctx context.Context, topic string, durationSeconds int) (*models.Script, error) {
	if c.cfg.APIKey == "" {
		return nil, ErrNoAPIKey
	}
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, fmt.Errorf("topic is required")
	}
	log := logger.FromContext(ctx, c.logger)
	n := SceneCount(durationSeconds)

	body, err := json.Marshal(chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: fmt.Sprintf("Topic: %s\nWrite exactly %d scenes of %d seconds each.", topic, n, ClipSeconds)},
		},
		Temperature: 0.7,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	log.Info("generating script", "topic", topic, "scenes", n, "model", c.cfg.Model)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("script request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var cr chatResponse
	if err := json.Unmarshal(data, &cr); err != nil {
		return nil, fmt.Errorf("parse response (status %d): %w", resp.StatusCode, err)
	}
	if cr.Error != nil {
		return nil, fmt.Errorf("script service error: %s", cr.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("script service returned status %d", resp.StatusCode)
	}
	if len(cr.Choices) == 0 {
		return nil, fmt.Errorf("script service returned no choices")
	}

	sc, err := Parse(cr.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}
	log.Info("script ready", "title", sc.Title, "scenes", len(sc.Scenes))
	return sc, nil
}

// Parse decodes a model reply, tolerating markdown code fences
func Parse(content string) (*models.Script, error) {
	content = cleanJSON(content)
	var sc models.Script
	if err := json.Unmarshal([]byte(content), &sc); err != nil {
		return nil, fmt.Errorf("parse script JSON: %w (raw: %.200s)", err, content)
	}

	kept := sc.Scenes[:0]
	for _, s := range sc.Scenes {
		s.Prompt = strings.TrimSpace(s.Prompt)
		if s.Prompt == "" {
			continue
		}
		if s.Duration <= 0 {
			s.Duration = ClipSeconds
		}
		kept = append(kept, s)
	}
	sc.Scenes = kept
	if len(sc.Scenes) == 0 {
		return nil, fmt.Errorf("script has no usable scenes")
	}
	return &sc, nil
}

func cleanJSON(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
