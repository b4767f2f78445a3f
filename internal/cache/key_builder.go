package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"

	"mediagate/internal/generation"
)

// BuildResultCacheKey derives a ResultCacheKey from a generation
// request and the requesting user. The prompt is the post-transform
// prompt, so rewritten prompts never collide with the originals. Keys
// are normalized into a stable string and hashed with SHA-256.
func BuildResultCacheKey(req *generation.Request, userID string) ResultCacheKey {
	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = "default"
	}
	size := strings.TrimSpace(req.Size)
	if size == "" {
		size = "default"
	}

	normalized := "model:" + model + "|size:" + size + "|n:" + strconv.Itoa(req.N) + "|prompt:" + req.Prompt

	sum := sha256.Sum256([]byte(normalized))

	return ResultCacheKey{
		UserID: strings.TrimSpace(userID),
		Model:  model,
		Size:   size,
		Hash:   hex.EncodeToString(sum[:]),
	}
}
