// Package admission decides whether a user may submit generation
// requests, based on their historical violation ratio.
package admission

import (
	"fmt"

	"mediagate/internal/stats"
)

const (
	// DefaultMinRequests is the request floor below which a user is
	// never blocked, so a single early violation cannot lock out a
	// new account.
	DefaultMinRequests = 25

	// DefaultMaxRatio is the violation ratio above which a user with
	// enough history is blocked.
	DefaultMaxRatio = 0.25
)

// Decision is the result of one admission check. Ephemeral; computed
// per call.
type Decision struct {
	Blocked bool            `json:"blocked"`
	Reason  string          `json:"reason,omitempty"`
	Ratio   float64         `json:"ratio"`
	Stats   stats.UserStats `json:"stats"`
}

// Policy gates requests on the user's violation history. Zero-valued
// thresholds fall back to the defaults.
type Policy struct {
	Stats       *stats.Store
	MinRequests uint64
	MaxRatio    float64
}

func NewPolicy(store *stats.Store) *Policy {
	return &Policy{
		Stats:       store,
		MinRequests: DefaultMinRequests,
		MaxRatio:    DefaultMaxRatio,
	}
}

// CheckViolationRatio reports whether user is currently blocked.
// Blocking requires both enough history (requests >= MinRequests) and
// a ratio strictly above MaxRatio. Anonymous users are never blocked.
func (p *Policy) CheckViolationRatio(user string) Decision {
	if user == "" || user == stats.AnonymousUser {
		return Decision{}
	}

	minRequests := p.MinRequests
	if minRequests == 0 {
		minRequests = DefaultMinRequests
	}
	maxRatio := p.MaxRatio
	if maxRatio == 0 {
		maxRatio = DefaultMaxRatio
	}

	us := p.Stats.Get(user)
	ratio := 0.0
	if us.Requests > 0 {
		ratio = float64(us.Violations) / float64(us.Requests)
	}

	d := Decision{
		Ratio: ratio,
		Stats: us,
	}
	if us.Requests >= minRequests && ratio > maxRatio {
		d.Blocked = true
		d.Reason = fmt.Sprintf(
			"violation ratio %.2f exceeds %.2f over %d requests",
			ratio, maxRatio, us.Requests,
		)
	}
	return d
}

// RecordImageRequest counts one generation request against user,
// applying the same anonymous-skip rule as the stats store.
func (p *Policy) RecordImageRequest(user string) {
	p.Stats.RecordRequest(user)
}

// RecordViolation counts one policy violation against user.
func (p *Policy) RecordViolation(user string) {
	p.Stats.RecordViolation(user)
}
