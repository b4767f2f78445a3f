package referrer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"
)

func always() float64 { return 0.0 } // below any probability: transform
func never() float64  { return 1.0 } // at/above probability: pass through

func TestIsBadDomain(t *testing.T) {
	tr := NewTransformer(Config{Denylist: "evil-example, scraper.net"}, zaptest.NewLogger(t))

	assert.True(t, tr.IsBadDomain("http://mirror.evil-example.com/x"))
	assert.True(t, tr.IsBadDomain("HTTPS://EVIL-EXAMPLE.COM"))
	assert.True(t, tr.IsBadDomain("http://a.scraper.net/page"))
	assert.False(t, tr.IsBadDomain("http://good.example.com"))
	assert.False(t, tr.IsBadDomain(""))
}

func TestResolveReferrerOrder(t *testing.T) {
	h := http.Header{}
	h.Set("Origin", "http://origin.example")
	assert.Equal(t, "http://origin.example", ResolveReferrer(h, ""))

	h.Set("Referer", "http://referer.example")
	assert.Equal(t, "http://referer.example", ResolveReferrer(h, ""))

	assert.Equal(t, "http://explicit.example", ResolveReferrer(h, "http://explicit.example"))
	assert.Equal(t, "", ResolveReferrer(http.Header{}, ""))
}

func TestCleanReferrerPassesThrough(t *testing.T) {
	tr := NewTransformer(Config{Denylist: "evil-example", Rand: always}, zaptest.NewLogger(t))

	h := http.Header{}
	h.Set("Referer", "http://trusted.example")
	res := tr.ProcessPrompt(context.Background(), "a red balloon", h, "")

	assert.Equal(t, "a red balloon", res.Prompt)
	assert.False(t, res.WasTransformed)
	assert.Equal(t, "http://trusted.example", res.Referrer)
}

func TestNoReferrerLabel(t *testing.T) {
	tr := NewTransformer(Config{Denylist: "evil-example"}, zaptest.NewLogger(t))
	res := tr.ProcessPrompt(context.Background(), "a red balloon", http.Header{}, "")
	assert.Equal(t, NoReferrer, res.Referrer)
	assert.False(t, res.WasTransformed)
}

func TestBadReferrerTransformsViaCollaborator(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "a red balloon", r.URL.Query().Get("prompt"))
		assert.NotEmpty(t, r.URL.Query().Get("system"))
		_, _ = w.Write([]byte("a blue void\n"))
	}))
	defer srv.Close()

	tr := NewTransformer(Config{
		Denylist: "evil-example",
		BaseURL:  srv.URL,
		Rand:     always,
	}, zaptest.NewLogger(t))

	res := tr.ProcessPrompt(context.Background(), "a red balloon", nil, "http://evil-example.com")
	assert.True(t, res.WasTransformed)
	assert.Equal(t, "a blue void", res.Prompt)
	assert.Equal(t, "a red balloon", res.OriginalPrompt)
}

func TestCoinFlipCanSkipTransform(t *testing.T) {
	tr := NewTransformer(Config{
		Denylist: "evil-example",
		Rand:     never,
	}, zaptest.NewLogger(t))

	res := tr.ProcessPrompt(context.Background(), "a red balloon", nil, "http://evil-example.com")
	assert.False(t, res.WasTransformed)
	assert.Equal(t, "a red balloon", res.Prompt)
}

func TestCollaboratorFailureFallsBack(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	tr := NewTransformer(Config{
		Denylist: "evil-example",
		BaseURL:  srv.URL,
		Rand:     always,
	}, zaptest.NewLogger(t))

	res := tr.ProcessPrompt(context.Background(), "a red balloon", nil, "http://evil-example.com")
	assert.True(t, res.WasTransformed)
	assert.Equal(t, "not a red balloon", res.Prompt)
}

func TestOutcomeIsMemoizedPerPromptAndReferrer(t *testing.T) {
	var calls int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
		_, _ = w.Write([]byte("opposite"))
	}))
	defer srv.Close()

	tr := NewTransformer(Config{
		Denylist: "evil-example",
		BaseURL:  srv.URL,
		Rand:     always,
	}, zaptest.NewLogger(t))

	for i := 0; i < 5; i++ {
		res := tr.ProcessPrompt(context.Background(), "a red balloon", nil, "http://evil-example.com")
		assert.Equal(t, "opposite", res.Prompt)
	}
	assert.Equal(t, int64(1), atomic.LoadInt64(&calls))

	// A different referrer is a different memo key.
	tr.ProcessPrompt(context.Background(), "a red balloon", nil, "http://other.evil-example.com")
	assert.Equal(t, int64(2), atomic.LoadInt64(&calls))
}
