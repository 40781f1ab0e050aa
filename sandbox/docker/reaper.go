package docker

import (
	"context"
	"strconv"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
)

// StartReaper removes expired sandbox containers every interval until Close.
func (p *Provider) StartReaper(interval time.Duration) {
	p.reaping = true
	go func() {
		defer close(p.doneCh)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), interval)
				if n, err := p.Reap(ctx); err != nil {
					p.logger.Warn("reap sandboxes failed", "error", err)
				} else if n > 0 {
					p.logger.Info("reaped sandboxes", "count", n)
				}
				cancel()
			case <-p.stopCh:
				return
			}
		}
	}()
}

// Reap removes sandbox containers older than the TTL and returns how many
// were removed.
func (p *Provider) Reap(ctx context.Context) (int, error) {
	list, err := p.cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", labelSandbox+"=true")),
	})
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().Add(-p.ttl).Unix()
	var removed int
	for _, c := range list {
		created, err := strconv.ParseInt(c.Labels[labelCreated], 10, 64)
		if err != nil {
			created = c.Created
		}
		if created > cutoff {
			continue
		}
		if err := p.Kill(ctx, c.ID); err != nil {
			p.logger.Warn("remove expired sandbox failed", "sandbox_id", c.ID, "error", err)
			continue
		}
		removed++
	}
	return removed, nil
}

// Close stops the reaper, if running, and closes the engine client.
func (p *Provider) Close() error {
	p.stopOnce.Do(func() {
		close(p.stopCh)
	})
	if p.reaping {
		<-p.doneCh
	}
	return p.cli.Close()
}
