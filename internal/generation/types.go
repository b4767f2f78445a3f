package generation

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"
)

var sizeRe = regexp.MustCompile(`^\d+x\d+$`)

// Request describes one image-generation call to the downstream
// provider.
type Request struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	N      int    `json:"n,omitempty"`
	Size   string `json:"size,omitempty"` // "<width>x<height>"
}

func (r *Request) Validate() error {
	if r.Prompt == "" {
		return errors.New("prompt is required")
	}
	if r.N < 0 || r.N > 10 {
		return fmt.Errorf("n must be between 0 and 10, got %d", r.N)
	}
	if r.Size != "" && !sizeRe.MatchString(r.Size) {
		return fmt.Errorf("size must look like 1024x1024, got %q", r.Size)
	}
	return nil
}

// Image is one generated asset.
type Image struct {
	URL           string `json:"url"`
	RevisedPrompt string `json:"revised_prompt,omitempty"`
}

type Response struct {
	Created time.Time `json:"created,omitempty"`
	Model   string    `json:"model,omitempty"`
	Data    []Image   `json:"data"`
}

// Client is the generation boundary. The admission pipeline treats the
// provider behind it as an external collaborator.
type Client interface {
	Generate(ctx context.Context, req *Request) (*Response, error)
}
