// Package connectivity decides whether the remote provider is reachable.
// A probe is a raw bounded-latency check: any transport error, timeout or
// refused connection means unreachable, and the HTTP status is ignored on
// purpose (a 500 still proves the host answers).
package connectivity

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// Mode is the derived connectivity state.
type Mode string

const (
	// ModeOnline: internet reachable and provider reachable.
	ModeOnline Mode = "online"
	// ModeDegraded: internet reachable, provider not.
	ModeDegraded Mode = "degraded"
	// ModeOffline: internet unreachable.
	ModeOffline Mode = "offline"
)

type Probe struct {
	client          *http.Client
	providerURL     string
	internetURL     string
	providerTimeout time.Duration
	internetTimeout time.Duration
}

func NewProbe(providerURL, internetURL string, providerTimeout, internetTimeout time.Duration) *Probe {
	return &Probe{
		client:          &http.Client{},
		providerURL:     providerURL,
		internetURL:     internetURL,
		providerTimeout: providerTimeout,
		internetTimeout: internetTimeout,
	}
}

// Check performs one bounded reachability test against target. It never
// returns an error: anything that stops a response arriving in time counts
// as unreachable.
func (p *Probe) Check(ctx context.Context, target string, timeout time.Duration) bool {
	if target == "" {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return true
}

func (p *Probe) ProviderReachable(ctx context.Context) bool {
	return p.Check(ctx, p.providerURL, p.providerTimeout)
}

func (p *Probe) InternetReachable(ctx context.Context) bool {
	return p.Check(ctx, p.internetURL, p.internetTimeout)
}

// CurrentMode derives online/degraded/offline from the two checks.
func (p *Probe) CurrentMode(ctx context.Context) Mode {
	if !p.InternetReachable(ctx) {
		return ModeOffline
	}
	if !p.ProviderReachable(ctx) {
		return ModeDegraded
	}
	return ModeOnline
}

// Watch polls the connectivity mode at the given interval and invokes fn with
// each result until ctx is cancelled. A panicking callback is logged and the
// loop keeps running.
func (p *Probe) Watch(ctx context.Context, interval time.Duration, fn func(Mode)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.invoke(ctx, fn)
		}
	}
}

func (p *Probe) invoke(ctx context.Context, fn func(Mode)) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("connectivity watch callback panicked", "error", r)
		}
	}()
	fn(p.CurrentMode(ctx))
}
