// Package safety classifies prompts and reference images against
// content policy before any generation work is admitted. The contract
// is fail-closed: whenever a definitive SAFE verdict cannot be
// obtained, the content is treated as unsafe.
package safety

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// systemPrompt is the fixed classifier instruction. The user prompt is
// carried as its own content part and never interpolated into this
// text, so a hostile prompt cannot rewrite the instruction.
const systemPrompt = `You are a strict content safety classifier for an image generation service. ` +
	`Review the user's prompt and any attached reference images. ` +
	`If the request involves sexual content with minors, non-consensual imagery, graphic violence, ` +
	`self-harm, hate, or clearly illegal activity, it is unsafe. ` +
	`Respond with exactly one word: SAFE or UNSAFE.`

// Result is the classifier's decision. Ephemeral; computed per call.
type Result struct {
	Safe   bool   `json:"safe"`
	Reason string `json:"reason,omitempty"`
}

type Config struct {
	BaseURL string
	APIKey  string
	Model   string

	RequestTimeout time.Duration // end-to-end classification call (default: 10s)
	ImageTimeout   time.Duration // per reference image fetch (default: 5s)
	MaxImageBytes  int64         // per-image download cap (default: 8 MiB)
	MaxImageDim    int           // bounding box for downscaling (default: 512)

	// Custom HTTP client (for testing or special configs)
	HTTPClient *http.Client
}

// WithDefaults returns a copy of Config with sane defaults applied.
func (c *Config) WithDefaults() Config {
	cfg := *c

	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if cfg.ImageTimeout <= 0 {
		cfg.ImageTimeout = 5 * time.Second
	}
	if cfg.MaxImageBytes <= 0 {
		cfg.MaxImageBytes = 8 << 20
	}
	if cfg.MaxImageDim <= 0 {
		cfg.MaxImageDim = 512
	}

	return cfg
}

// Classifier calls an external classification model. Its Check method
// never returns an error; every failure mode folds into an unsafe
// verdict.
type Classifier struct {
	cfg        Config
	httpClient *http.Client
	logger     *zap.Logger
}

func NewClassifier(cfg Config, logger *zap.Logger) *Classifier {
	cfg = cfg.WithDefaults()

	if logger == nil {
		logger = zap.NewNop()
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 100,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}

	return &Classifier{
		cfg:        cfg,
		httpClient: httpClient,
		logger:     logger.Named("safety"),
	}
}

// Wire shapes for the classification service (OpenAI-style).
type classifyRequest struct {
	Model       string            `json:"model"`
	Messages    []classifyMessage `json:"messages"`
	MaxTokens   int               `json:"max_tokens"`
	Temperature float64           `json:"temperature"`
}

type classifyMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"` // string or []contentPart
}

type contentPart struct {
	Type     string        `json:"type"`
	Text     string        `json:"text,omitempty"`
	ImageURL *partImageURL `json:"image_url,omitempty"`
}

type partImageURL struct {
	URL string `json:"url"`
}

type classifyResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Check classifies prompt plus zero or more reference images.
// It always resolves to a definitive Result; it never returns an error.
// Unreachable or undecodable images are dropped from the message rather
// than failing the whole check.
func (c *Classifier) Check(ctx context.Context, prompt string, imageURLs []string) Result {
	start := time.Now()

	if c.cfg.APIKey == "" {
		c.logger.Warn("classifier credential missing, failing closed")
		return Result{Safe: false, Reason: "classifier not configured"}
	}

	parts := []contentPart{{Type: "text", Text: prompt}}
	for _, dataURL := range c.fetchImages(ctx, imageURLs) {
		parts = append(parts, contentPart{
			Type:     "image_url",
			ImageURL: &partImageURL{URL: dataURL},
		})
	}

	verdict, err := c.classify(ctx, parts)
	if err != nil {
		c.logger.Warn("classification failed, failing closed",
			zap.Error(err),
			zap.Duration("duration", time.Since(start)),
		)
		return Result{Safe: false, Reason: "classification unavailable"}
	}

	res := parseVerdict(verdict)

	c.logger.Info("content safety check",
		zap.Bool("safe", res.Safe),
		zap.Int("image_count", len(parts)-1),
		zap.Duration("duration", time.Since(start)),
	)
	return res
}

func (c *Classifier) classify(parentCtx context.Context, parts []contentPart) (string, error) {
	ctx, cancel := context.WithTimeout(parentCtx, c.cfg.RequestTimeout)
	defer cancel()

	body, err := json.Marshal(classifyRequest{
		Model: c.cfg.Model,
		Messages: []classifyMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: parts},
		},
		MaxTokens:   5,
		Temperature: 0, // deterministic decoding
	})
	if err != nil {
		return "", fmt.Errorf("safety: marshal request: %w", err)
	}

	url := c.cfg.BaseURL + "/v1/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("safety: build HTTP request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("safety: classification call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("safety: upstream %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var parsed classifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("safety: decode upstream response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("safety: upstream returned no choices")
	}

	return parsed.Choices[0].Message.Content, nil
}

// parseVerdict maps the model's reply onto a decision. Only a reply
// whose first token starts with SAFE passes; everything else, including
// an empty or free-form reply, fails closed. UNSAFE is tested first
// since SAFE is its suffix.
func parseVerdict(reply string) Result {
	token := strings.ToUpper(strings.TrimSpace(reply))
	if fields := strings.Fields(token); len(fields) > 0 {
		token = fields[0]
	}

	switch {
	case token == "":
		return Result{Safe: false, Reason: "empty classifier reply"}
	case strings.HasPrefix(token, "UNSAFE"):
		return Result{Safe: false, Reason: "content flagged by classifier"}
	case strings.HasPrefix(token, "SAFE"):
		return Result{Safe: true}
	default:
		return Result{Safe: false, Reason: "unrecognized classifier verdict"}
	}
}
