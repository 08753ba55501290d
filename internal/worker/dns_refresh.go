package worker

import (
	"context"
	"time"
)

const dnsRefreshInterval = 5 * time.Minute

// Refresher re-resolves cached hosts. *dnscache.Resolver implements it.
type Refresher interface {
	Refresh(clearUnused bool)
}

// DNSRefresher keeps the upstream DNS cache fresh and drops hosts that were
// not looked up since the previous refresh.
type DNSRefresher struct {
	resolver Refresher
	every    time.Duration
}

// NewDNSRefresher creates a DNSRefresher for resolver.
func NewDNSRefresher(resolver Refresher) *DNSRefresher {
	return &DNSRefresher{resolver: resolver, every: dnsRefreshInterval}
}

// Name returns the worker identifier.
func (d *DNSRefresher) Name() string { return "dns_refresher" }

// Run refreshes the cache periodically until ctx is cancelled.
func (d *DNSRefresher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.every)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.resolver.Refresh(true)
		case <-ctx.Done():
			return nil
		}
	}
}
