package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const (
	maxRequestSize = 256 * 1024 // generation requests are prompt-sized
	maxPromptSize  = 32 * 1024
)

// Provider wire shapes (OpenAI images API style).
type providerImageRequest struct {
	Model  string `json:"model,omitempty"`
	Prompt string `json:"prompt"`
	N      int    `json:"n,omitempty"`
	Size   string `json:"size,omitempty"`
}

type providerImageResponse struct {
	Created int64 `json:"created"`
	Data    []struct {
		URL           string `json:"url"`
		RevisedPrompt string `json:"revised_prompt,omitempty"`
	} `json:"data"`
}

type providerErrorResponse struct {
	Error struct {
		Message string      `json:"message"`
		Type    string      `json:"type"`
		Code    interface{} `json:"code"`
	} `json:"error"`
}

func (c *client) Generate(parentCtx context.Context, req *Request) (*Response, error) {
	start := time.Now()

	if req == nil {
		return nil, fmt.Errorf("generation: request is nil")
	}

	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("generation: invalid request: %w", err)
	}
	if len(req.Prompt) > maxPromptSize {
		return nil, fmt.Errorf(
			"generation: prompt too large (%d bytes, max %d)",
			len(req.Prompt), maxPromptSize,
		)
	}

	c.logger.Debug("generation request starting",
		zap.String("model", req.Model),
		zap.String("size", req.Size),
	)

	// Per-request timeout (0 = only use parentCtx)
	var ctx context.Context
	var cancel context.CancelFunc
	if c.cfg.UpstreamTimeout > 0 {
		ctx, cancel = context.WithTimeout(parentCtx, c.cfg.UpstreamTimeout)
	} else {
		ctx, cancel = context.WithCancel(parentCtx)
	}
	defer cancel()

	n := req.N
	if n == 0 {
		n = 1
	}
	bodyBytes, err := json.Marshal(providerImageRequest{
		Model:  req.Model,
		Prompt: req.Prompt,
		N:      n,
		Size:   req.Size,
	})
	if err != nil {
		return nil, fmt.Errorf("generation: marshal request: %w", err)
	}
	if len(bodyBytes) > maxRequestSize {
		return nil, fmt.Errorf(
			"generation: request too large (%d bytes, max %d)",
			len(bodyBytes), maxRequestSize,
		)
	}

	url := c.cfg.BaseURL + "/v1/images/generations"

	// doOnce builds a fresh *http.Request for each attempt
	doOnce := func(ctx context.Context, body []byte) (*http.Response, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("generation: build HTTP request: %w", err)
		}
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
		httpReq.Header.Set("Content-Type", "application/json")
		return c.httpClient.Do(httpReq)
	}

	resp, err := c.doWithRetry(ctx, bodyBytes, doOnce)
	if err != nil {
		c.logger.Error("generation request failed",
			zap.Error(err),
			zap.Duration("duration", time.Since(start)),
		)
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)

		var perr providerErrorResponse
		if err := json.Unmarshal(body, &perr); err == nil && perr.Error.Message != "" {
			c.logger.Error("generation provider error",
				zap.Int("status", resp.StatusCode),
				zap.String("error_type", perr.Error.Type),
				zap.String("error_message", perr.Error.Message),
			)
			return nil, fmt.Errorf("generation: upstream %d: %s (%s)",
				resp.StatusCode, perr.Error.Message, perr.Error.Type)
		}

		c.logger.Error("generation upstream error",
			zap.Int("status", resp.StatusCode),
			zap.String("body", truncate(string(body), 200)),
		)
		return nil, fmt.Errorf("generation: upstream %d: %s",
			resp.StatusCode, truncate(string(body), 200))
	}

	var pResp providerImageResponse
	if err := json.NewDecoder(resp.Body).Decode(&pResp); err != nil {
		return nil, fmt.Errorf("generation: decode upstream response: %w", err)
	}
	if len(pResp.Data) == 0 {
		c.logger.Error("generation provider returned no images",
			zap.String("model", req.Model),
		)
		return nil, fmt.Errorf("generation: provider returned no images")
	}

	out := &Response{
		Created: time.Unix(pResp.Created, 0),
		Model:   req.Model,
		Data:    make([]Image, 0, len(pResp.Data)),
	}
	for _, img := range pResp.Data {
		out.Data = append(out.Data, Image{
			URL:           img.URL,
			RevisedPrompt: img.RevisedPrompt,
		})
	}

	c.logger.Info("generation request completed",
		zap.String("model", req.Model),
		zap.Int("images", len(out.Data)),
		zap.Duration("duration", time.Since(start)),
	)

	return out, nil
}

// truncate limits string length for logging
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
