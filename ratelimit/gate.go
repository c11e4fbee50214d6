package ratelimit

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"

	"github.com/skwidy/assistant/config"
)

// Scope identifies which counter denied a request.
const (
	ScopeGlobal    = "global"
	ScopeAssistant = "assistant"
)

const globalKey = "global"

var deniedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "relay_rate_limited_total",
	Help: "Requests denied by rate limiting, by scope.",
}, []string{"scope"})

// Decision is the outcome of an admission check. RetryAfter is only
// meaningful when Allowed is false.
type Decision struct {
	Allowed    bool
	Scope      string
	RetryAfter time.Duration
}

// Gate enforces the two-tier admission policy: one process-wide fixed-window
// counter, plus an independent window per assistant that declares its own
// limit. Admission is a synchronous check; it never queues or blocks.
type Gate struct {
	global       *limiter.Limiter
	perAssistant map[string]*limiter.Limiter
}

// New builds a Gate from the resolved registry. The in-memory store
// serializes concurrent increments, so counting stays exact within one
// process.
func New(reg *config.Registry) *Gate {
	g := &Gate{
		global: limiter.New(memory.NewStore(), limiter.Rate{
			Period: reg.GlobalRateLimit.Window(),
			Limit:  int64(reg.GlobalRateLimit.MaxRequests),
		}),
		perAssistant: make(map[string]*limiter.Limiter),
	}
	for _, a := range reg.All() {
		if a.RateLimit == nil {
			continue
		}
		g.perAssistant[a.Key] = limiter.New(memory.NewStore(), limiter.Rate{
			Period: a.RateLimit.Window(),
			Limit:  int64(a.RateLimit.MaxRequests),
		})
	}
	return g
}

// AllowGlobal consumes one unit of the process-wide window. It runs before
// assistant resolution, so every inbound chat request is counted.
func (g *Gate) AllowGlobal(ctx context.Context) (Decision, error) {
	res, err := g.global.Get(ctx, globalKey)
	if err != nil {
		return Decision{}, err
	}
	if res.Reached {
		deniedTotal.WithLabelValues(ScopeGlobal).Inc()
		return Decision{Scope: ScopeGlobal, RetryAfter: untilReset(res.Reset)}, nil
	}
	return Decision{Allowed: true}, nil
}

// AllowAssistant consumes one unit of the named assistant's window.
// Assistants without a configured limit are always admitted; only the global
// window applies to them.
func (g *Gate) AllowAssistant(ctx context.Context, assistantKey string) (Decision, error) {
	lim, ok := g.perAssistant[assistantKey]
	if !ok {
		return Decision{Allowed: true}, nil
	}
	res, err := lim.Get(ctx, assistantKey)
	if err != nil {
		return Decision{}, err
	}
	if res.Reached {
		deniedTotal.WithLabelValues(ScopeAssistant).Inc()
		return Decision{Scope: ScopeAssistant, RetryAfter: untilReset(res.Reset)}, nil
	}
	return Decision{Allowed: true}, nil
}

// untilReset converts the limiter's reset timestamp (unix seconds) into a
// retry hint, clamped so callers never see a negative duration.
func untilReset(reset int64) time.Duration {
	d := time.Until(time.Unix(reset, 0))
	if d < 0 {
		return 0
	}
	return d
}
