package observability

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus/push"
)

// Push sends the collected metrics to a Pushgateway under job. One-shot CLI
// runs call it before exiting since nothing scrapes them.
func (m *Metrics) Push(ctx context.Context, url, job string) error {
	p := push.New(url, job)
	for _, c := range m.collectors() {
		p = p.Collector(c)
	}
	if err := p.PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics to %s: %w", url, err)
	}
	return nil
}
