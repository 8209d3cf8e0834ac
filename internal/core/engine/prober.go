package engine

import (
	"context"
	"net/http"
	"time"
)

// Prober polls the backend health endpoint and feeds connectivity
// transitions into the Syncer. It is the replacement for the browser's
// online/offline events: connectivity is whatever the health check says.
type Prober struct {
	HTTP     *http.Client
	URL      string
	Interval time.Duration
	Syncer   *Syncer
}

// NewProber builds a prober with a short dedicated HTTP client so a hung
// backend cannot stall the probe loop.
func NewProber(syncer *Syncer, url string, interval time.Duration) *Prober {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Prober{
		HTTP:     &http.Client{Timeout: 5 * time.Second},
		URL:      url,
		Interval: interval,
		Syncer:   syncer,
	}
}

// Run probes immediately and then on every tick until the context ends.
func (p *Prober) Run(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	p.Syncer.SetOnline(p.Probe(ctx))

	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Syncer.SetOnline(p.Probe(ctx))
		}
	}
}

// Probe reports whether the backend answered its health check.
func (p *Prober) Probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return false
	}

	httpClient := p.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close() // nolint:errcheck

	return resp.StatusCode >= 200 && resp.StatusCode < 300
}
