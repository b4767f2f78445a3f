package placeholder

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// HTTPUploader posts images to an imgbb-style hosting service:
// form-encoded key + base64 payload, JSON {success,data:{url}} reply.
type HTTPUploader struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *zap.Logger
}

type UploaderConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration // default: 30s

	// Custom HTTP client (for testing or special configs)
	HTTPClient *http.Client
}

func NewHTTPUploader(cfg UploaderConfig, logger *zap.Logger) *HTTPUploader {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &HTTPUploader{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: httpClient,
		logger:     logger.Named("uploader"),
	}
}

type uploadResponse struct {
	Success bool `json:"success"`
	Data    struct {
		URL string `json:"url"`
	} `json:"data"`
	Error struct {
		Message    string `json:"message"`
		StatusCode int    `json:"status_code"`
	} `json:"error"`
}

// Upload sends the encoded image and returns its hosted URL.
func (u *HTTPUploader) Upload(ctx context.Context, png []byte) (string, error) {
	start := time.Now()

	form := url.Values{}
	form.Set("key", u.apiKey)
	form.Set("image", base64.StdEncoding.EncodeToString(png))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.baseURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("uploader: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := u.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("uploader: post: %w", err)
	}
	defer resp.Body.Close()

	var parsed uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("uploader: decode response (status %d): %w", resp.StatusCode, err)
	}

	if !parsed.Success || parsed.Data.URL == "" {
		msg := parsed.Error.Message
		if msg == "" {
			msg = fmt.Sprintf("status %d", resp.StatusCode)
		}
		return "", fmt.Errorf("uploader: upload rejected: %s", msg)
	}

	u.logger.Debug("image uploaded",
		zap.Int("bytes", len(png)),
		zap.Duration("duration", time.Since(start)),
	)
	return parsed.Data.URL, nil
}
