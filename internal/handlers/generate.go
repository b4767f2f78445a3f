package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mediagate/internal/admission"
	"mediagate/internal/cache"
	"mediagate/internal/coalesce"
	"mediagate/internal/generation"
	"mediagate/internal/metrics"
	"mediagate/internal/referrer"
	"mediagate/internal/safety"
	"mediagate/internal/stats"
	"mediagate/pkg/logging/logging"
)

// Safety is the classifier surface the pipeline needs.
type Safety interface {
	Check(ctx context.Context, prompt string, imageURLs []string) safety.Result
}

// GenerateHandler runs the admission pipeline for
// POST /v1/images/generations: referrer transform, violation-ratio
// gate, content safety, then the coalesced downstream generation call.
type GenerateHandler struct {
	Transformer *referrer.Transformer
	Policy      *admission.Policy
	Classifier  Safety
	Generator   generation.Client
	Coalescer   *coalesce.Group
	Cache       cache.ResultCache
	CacheTTL    time.Duration
}

func NewGenerateHandler(
	transformer *referrer.Transformer,
	policy *admission.Policy,
	classifier Safety,
	generator generation.Client,
	coalescer *coalesce.Group,
	resultCache cache.ResultCache,
	cacheTTL time.Duration,
) *GenerateHandler {
	return &GenerateHandler{
		Transformer: transformer,
		Policy:      policy,
		Classifier:  classifier,
		Generator:   generator,
		Coalescer:   coalescer,
		Cache:       resultCache,
		CacheTTL:    cacheTTL,
	}
}

// GenerateRequest is the inbound request body.
type GenerateRequest struct {
	Prompt    string   `json:"prompt"`
	Model     string   `json:"model,omitempty"`
	Size      string   `json:"size,omitempty"`
	N         int      `json:"n,omitempty"`
	ImageURLs []string `json:"image_urls,omitempty"`
	Referrer  string   `json:"referrer,omitempty"`
}

// GenerateResponse is the outbound body for an admitted request.
type GenerateResponse struct {
	ID             string             `json:"id"`
	Created        time.Time          `json:"created"`
	Prompt         string             `json:"prompt"`
	WasTransformed bool               `json:"was_transformed,omitempty"`
	Data           []generation.Image `json:"data"`
	Cached         bool               `json:"cached,omitempty"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

// Generate handles POST /v1/images/generations.
func (h *GenerateHandler) Generate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.L(ctx)
	start := time.Now()

	var req GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("invalid request", zap.Error(err))
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.Prompt == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "prompt is required")
		return
	}

	user := r.Header.Get("X-User-ID")
	if user == "" {
		user = stats.AnonymousUser
	}

	// 1. Referrer-based prompt rewrite.
	proc := h.Transformer.ProcessPrompt(ctx, req.Prompt, r.Header, req.Referrer)
	if proc.WasTransformed {
		metrics.PromptsTransformedTotal.Inc()
		logger.Info("prompt rewritten for denylisted referrer",
			zap.String("referrer", proc.Referrer),
		)
	}

	// 2. Violation-ratio admission gate.
	decision := h.Policy.CheckViolationRatio(user)
	if decision.Blocked {
		metrics.AdmissionBlockedTotal.Inc()
		logger.Warn("user blocked by admission policy",
			zap.String("user_id", user),
			zap.Float64("ratio", decision.Ratio),
		)
		writeError(w, http.StatusForbidden, "user_blocked", decision.Reason)
		return
	}

	// 3. Content safety. A violation counts a request too, so the
	// ratio denominator keeps up with the numerator.
	verdict := h.Classifier.Check(ctx, proc.Prompt, req.ImageURLs)
	if verdict.Safe {
		metrics.SafetyVerdictsTotal.WithLabelValues("safe").Inc()
	} else {
		metrics.SafetyVerdictsTotal.WithLabelValues("unsafe").Inc()
		h.Policy.RecordImageRequest(user)
		h.Policy.RecordViolation(user)
		logger.Warn("content rejected",
			zap.String("user_id", user),
			zap.String("reason", verdict.Reason),
		)
		writeError(w, http.StatusBadRequest, "content_policy_violation", verdict.Reason)
		return
	}

	genReq := &generation.Request{
		Model:  req.Model,
		Prompt: proc.Prompt,
		N:      req.N,
		Size:   req.Size,
	}
	key := cache.BuildResultCacheKey(genReq, user)
	cacheKey := key.String()

	// 4. Settled-result cache.
	cached, hit, cacheErr := h.Cache.Get(ctx, cacheKey)
	if cacheErr != nil {
		// Cache is best-effort; log and treat as miss.
		logger.Warn("result_cache_get_error", zap.Error(cacheErr))
	}
	if hit {
		var genResp generation.Response
		if err := json.Unmarshal(cached, &genResp); err != nil {
			logger.Warn("result_cache_unmarshal_error", zap.Error(err))
		} else {
			h.Policy.RecordImageRequest(user)
			h.respond(w, logger, user, proc, &genResp, true, start)
			return
		}
	}

	// 5. Coalesced generation: identical concurrent requests share one
	// downstream call.
	out, err := h.Coalescer.GetOrCreate(ctx, cacheKey, func(ctx context.Context) (any, error) {
		return h.Generator.Generate(ctx, genReq)
	})
	if err != nil {
		logger.Error("generation failed",
			zap.String("user_id", user),
			zap.Error(err),
		)
		writeError(w, http.StatusBadGateway, "upstream_error", "image generation failed")
		return
	}
	genResp := out.(*generation.Response)

	// 6. Outcome bookkeeping.
	h.Policy.RecordImageRequest(user)

	if respBytes, err := json.Marshal(genResp); err != nil {
		logger.Warn("marshal_response_error", zap.Error(err))
	} else if err := h.Cache.Set(ctx, cacheKey, respBytes, h.CacheTTL); err != nil {
		logger.Warn("result_cache_set_error", zap.Error(err))
	}

	h.respond(w, logger, user, proc, genResp, false, start)
}

func (h *GenerateHandler) respond(
	w http.ResponseWriter,
	logger *zap.Logger,
	user string,
	proc referrer.Result,
	genResp *generation.Response,
	cached bool,
	start time.Time,
) {
	logger.Info("generation admitted",
		zap.String("user_id", user),
		zap.String("referrer", proc.Referrer),
		zap.Bool("transformed", proc.WasTransformed),
		zap.Bool("cache_hit", cached),
		zap.Int("images", len(genResp.Data)),
		zap.Duration("total_latency_ms", time.Since(start)),
	)

	writeJSON(w, http.StatusOK, GenerateResponse{
		ID:             "gen_" + uuid.NewString(),
		Created:        genResp.Created,
		Prompt:         proc.Prompt,
		WasTransformed: proc.WasTransformed,
		Data:           genResp.Data,
		Cached:         cached,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: errorBody{Code: code, Message: message}})
}
