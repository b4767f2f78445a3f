// Package referrer rewrites prompts arriving from denylisted traffic
// sources. A matching referrer triggers a randomized decision to
// replace the prompt with its semantic opposite via an external
// text-generation call, so abusive embedders cannot rely on receiving
// faithful output.
package referrer

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"mediagate/internal/coalesce"
)

// NoReferrer is recorded when a request carries no referrer at all.
const NoReferrer = "none"

const transformInstruction = "Rewrite the following prompt to mean its semantic opposite, exaggerated for comedic effect. Reply with the rewritten prompt only."

// Result is the outcome of processing one prompt. Cached per
// (prompt, referrer) for the life of the transformer.
type Result struct {
	Prompt         string `json:"prompt"`
	OriginalPrompt string `json:"originalPrompt"`
	WasTransformed bool   `json:"wasTransformed"`
	Referrer       string `json:"referrer"`
}

type Config struct {
	// Denylist is the comma-separated referrer substring list.
	// Matching is case-insensitive anywhere in the referrer string,
	// deliberately loose so subdomains and paths still match.
	Denylist string

	// Probability weights the transform coin flip (default: 0.6).
	Probability float64

	// BaseURL of the text-generation collaborator. Empty disables
	// transformation; the fallback rewrite is used instead.
	BaseURL string

	Timeout time.Duration // collaborator call timeout (default: 10s)

	// Rand is the random source for the transform decision. Injectable
	// so tests can force both branches. Defaults to math/rand.
	Rand func() float64

	// MemoSize bounds the per-process memoization cache (default: 256).
	MemoSize int

	// Custom HTTP client (for testing or special configs)
	HTTPClient *http.Client
}

type Transformer struct {
	cfg        Config
	denylist   []string
	memo       *coalesce.Group
	httpClient *http.Client
	logger     *zap.Logger
}

func NewTransformer(cfg Config, logger *zap.Logger) *Transformer {
	if cfg.Probability <= 0 {
		cfg.Probability = 0.6
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.Float64
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	if logger == nil {
		logger = zap.NewNop()
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	var denylist []string
	for _, domain := range strings.Split(cfg.Denylist, ",") {
		domain = strings.ToLower(strings.TrimSpace(domain))
		if domain != "" {
			denylist = append(denylist, domain)
		}
	}

	return &Transformer{
		cfg:        cfg,
		denylist:   denylist,
		memo:       coalesce.New(cfg.MemoSize),
		httpClient: httpClient,
		logger:     logger.Named("referrer"),
	}
}

// ResolveReferrer picks the referrer of record: the explicit override
// wins, then the first present of the referer/referrer/origin headers.
// Empty means no referrer.
func ResolveReferrer(headers http.Header, explicit string) string {
	if explicit != "" {
		return explicit
	}
	for _, name := range []string{"Referer", "Referrer", "Origin"} {
		if v := headers.Get(name); v != "" {
			return v
		}
	}
	return ""
}

// IsBadDomain reports whether ref matches any denylist entry.
// Case-insensitive substring match anywhere in the referrer string.
func (t *Transformer) IsBadDomain(ref string) bool {
	if ref == "" {
		return false
	}
	lower := strings.ToLower(ref)
	for _, domain := range t.denylist {
		if strings.Contains(lower, domain) {
			return true
		}
	}
	return false
}

// ProcessPrompt resolves the referrer and, for denylisted referrers
// that win the coin flip, rewrites the prompt. It never fails: a
// collaborator error degrades to a deterministic "not <prompt>"
// rewrite. Outcomes are memoized per (prompt, referrer).
func (t *Transformer) ProcessPrompt(ctx context.Context, prompt string, headers http.Header, explicitReferrer string) Result {
	ref := ResolveReferrer(headers, explicitReferrer)

	refLabel := ref
	if refLabel == "" {
		refLabel = NoReferrer
	}

	passthrough := Result{
		Prompt:         prompt,
		OriginalPrompt: prompt,
		Referrer:       refLabel,
	}

	if !t.IsBadDomain(ref) {
		return passthrough
	}

	key := prompt + "\x00" + strings.ToLower(ref)
	out, err := t.memo.GetOrCreate(ctx, key, func(ctx context.Context) (any, error) {
		// The coin flip is part of the memoized outcome, so one
		// (prompt, referrer) pair keeps its fate for the process.
		if t.cfg.Rand() >= t.cfg.Probability {
			t.logger.Debug("bad referrer passed the coin flip",
				zap.String("referrer", refLabel),
			)
			return passthrough, nil
		}

		transformed := t.transform(ctx, prompt)
		t.logger.Info("prompt transformed",
			zap.String("referrer", refLabel),
		)
		return Result{
			Prompt:         transformed,
			OriginalPrompt: prompt,
			WasTransformed: true,
			Referrer:       refLabel,
		}, nil
	})
	if err != nil {
		// The producer never returns an error; this is the waiter's
		// own ctx expiring.
		return passthrough
	}
	return out.(Result)
}

// transform asks the text-generation collaborator for the opposite
// prompt, degrading to the deterministic fallback on any failure.
func (t *Transformer) transform(ctx context.Context, prompt string) string {
	fallback := "not " + prompt

	if t.cfg.BaseURL == "" {
		return fallback
	}

	ctx, cancel := context.WithTimeout(ctx, t.cfg.Timeout)
	defer cancel()

	q := url.Values{}
	q.Set("prompt", prompt)
	q.Set("system", transformInstruction)
	reqURL := t.cfg.BaseURL + "/?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		t.logger.Warn("transform request build failed", zap.Error(err))
		return fallback
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		t.logger.Warn("transform call failed, using fallback", zap.Error(err))
		return fallback
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		t.logger.Warn("transform call failed, using fallback",
			zap.Int("status", resp.StatusCode),
		)
		return fallback
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		t.logger.Warn("transform body read failed, using fallback", zap.Error(err))
		return fallback
	}

	out := strings.TrimSpace(string(body))
	if out == "" {
		return fallback
	}
	return out
}

// String renders a result for logs.
func (r Result) String() string {
	return fmt.Sprintf("referrer=%s transformed=%v", r.Referrer, r.WasTransformed)
}
