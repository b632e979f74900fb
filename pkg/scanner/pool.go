package scanner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/CodeMonkeyCybersecurity/dhascan/internal/core"
	"github.com/CodeMonkeyCybersecurity/dhascan/pkg/probes"
	"github.com/CodeMonkeyCybersecurity/dhascan/pkg/types"
)

// slot is the outcome of the probe submitted at the same index.
type slot struct {
	findings []types.Vulnerability
	err      error
	outcome  string
}

// collector stores probe outcomes by submission index so the merged
// candidate list does not depend on completion order.
type collector struct {
	mu    sync.Mutex
	slots []slot
}

func newCollector(n int) *collector {
	c := &collector{slots: make([]slot, n)}
	for i := range c.slots {
		c.slots[i].outcome = core.ProbeOutcomeCancelled
	}
	return c
}

func (c *collector) set(i int, s slot) {
	c.mu.Lock()
	c.slots[i] = s
	c.mu.Unlock()
}

func (c *collector) results() []slot {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]slot, len(c.slots))
	copy(out, c.slots)
	return out
}

// runProbes executes selected on a pool of cfg.Scan.Threads workers. No
// probe is dispatched once ctx is done, and results of probes that were
// still running at cancellation are discarded.
func (s *Scanner) runProbes(ctx context.Context, env *probes.Env, selected []probes.Probe) []slot {
	threads := s.cfg.Scan.Threads
	if threads < 1 {
		threads = 1
	}
	sem := semaphore.NewWeighted(int64(threads))
	col := newCollector(len(selected))

	var g errgroup.Group
	for i, p := range selected {
		if ctx.Err() != nil {
			break
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			s.logger.Debugw("Probe dispatch stopped", "remaining", len(selected)-i, "error", err)
			break
		}
		g.Go(func() error {
			defer sem.Release(1)
			if ctx.Err() != nil {
				return nil
			}
			findings, err := s.runProbe(ctx, env, p)
			switch {
			case ctx.Err() != nil:
				col.set(i, slot{outcome: core.ProbeOutcomeCancelled})
			case err != nil:
				col.set(i, slot{err: err, outcome: core.ProbeOutcomeFailed})
			default:
				col.set(i, slot{findings: findings, outcome: core.ProbeOutcomeOK})
			}
			return nil
		})
	}
	_ = g.Wait()
	return col.results()
}

// runProbe is the error boundary around one probe: a returned error or a
// panic becomes a *probes.ProbeError and the probe contributes nothing.
func (s *Scanner) runProbe(ctx context.Context, env *probes.Env, p probes.Probe) (findings []types.Vulnerability, err error) {
	log := env.Logger.WithProbe(p.Name)
	penv := *env
	penv.Logger = log

	start := time.Now()
	operation := "probe." + p.Name
	ctx, span := log.StartOperation(ctx, operation, "category", string(p.Category))
	defer func() {
		if r := recover(); r != nil {
			log.LogPanic(ctx, r, operation)
			findings = nil
			err = &probes.ProbeError{Probe: p.Name, Category: p.Category, Err: fmt.Errorf("panic: %v", r)}
		}
		if errors.Is(err, context.Canceled) {
			log.FinishOperation(ctx, span, operation, start, nil, "cancelled", true)
			return
		}
		log.FinishOperation(ctx, span, operation, start, err, "findings", len(findings))
	}()

	findings, err = p.Run(ctx, &penv)
	if err != nil {
		return nil, &probes.ProbeError{Probe: p.Name, Category: p.Category, Err: err}
	}
	return findings, nil
}
