// Package fetchpool runs fetches on a fixed-size pool of isolated worker
// processes. Isolation is the point: a worker stuck on a connection that
// never completes can be force-killed without corrupting its siblings, so
// the pool recovers from hangs by tearing down and respawning every unit.
package fetchpool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/linkgraph/crawler/internal/crawl"
)

const defaultBatchDeadline = 60 * time.Second

// Unit is one isolated execution unit. Fetch blocks until the unit responds
// or is killed; after Kill every in-flight and future Fetch returns an
// error.
type Unit interface {
	ID() int
	Fetch(url string) (crawl.FetchResult, error)
	Kill()
}

// Factory spawns a fresh Unit. The pool calls it at construction and again
// after every recycle.
type Factory func(id int) (Unit, error)

// Config controls pool sizing and the whole-batch deadline.
type Config struct {
	Size          int
	BatchDeadline time.Duration
}

// Pool fans batches of URLs out to its units. The unit slice is an owned,
// swappable handle: recycling replaces it wholesale while goroutines still
// draining a timed-out batch keep their references to the stale units,
// which die independently.
type Pool struct {
	cfg     Config
	factory Factory
	logger  *zap.Logger

	mu    sync.Mutex
	units []Unit
}

// New creates a Pool and spawns its initial units.
func New(cfg Config, factory Factory, logger *zap.Logger) (*Pool, error) {
	if cfg.Size <= 0 {
		return nil, fmt.Errorf("pool size must be > 0")
	}
	if cfg.BatchDeadline <= 0 {
		cfg.BatchDeadline = defaultBatchDeadline
	}
	if factory == nil {
		return nil, fmt.Errorf("unit factory is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pool{cfg: cfg, factory: factory, logger: logger}
	units, err := p.spawn()
	if err != nil {
		return nil, err
	}
	p.units = units
	return p, nil
}

func (p *Pool) spawn() ([]Unit, error) {
	units := make([]Unit, 0, p.cfg.Size)
	for i := 0; i < p.cfg.Size; i++ {
		u, err := p.factory(i)
		if err != nil {
			for _, spawned := range units {
				spawned.Kill()
			}
			return nil, fmt.Errorf("spawn unit %d: %w", i, err)
		}
		units = append(units, u)
	}
	return units, nil
}

// SubmitBatch distributes urls across the units and waits until every
// submitted fetch completes or the batch deadline passes. A unit whose fetch
// errors is killed and replaced in place, so a crashed worker never shrinks
// the pool. On deadline the whole pool is killed and respawned; results
// already completed are kept,
// results from killed units are discarded and their URLs stay pending for a
// later pass. The bool reports whether a recycle happened.
func (p *Pool) SubmitBatch(ctx context.Context, urls []string) ([]crawl.FetchResult, bool, error) {
	if len(urls) == 0 {
		return nil, false, nil
	}

	p.mu.Lock()
	units := p.units
	p.mu.Unlock()

	jobs := make(chan string, len(urls))
	for _, u := range urls {
		jobs <- u
	}
	close(jobs)

	resultCh := make(chan crawl.FetchResult, len(urls))
	var wg sync.WaitGroup
	for _, u := range units {
		wg.Add(1)
		go func(unit Unit) {
			defer wg.Done()
			for url := range jobs {
				res, err := unit.Fetch(url)
				if err != nil {
					// A fetch error means the unit is gone for good: its
					// process died or its protocol stream desynced. The URL
					// stays pending for a later pass, but the unit must be
					// replaced or the pool shrinks by one forever.
					p.logger.Warn("unit failed, replacing",
						zap.Int("unit", unit.ID()),
						zap.String("url", url),
						zap.Error(err))
					fresh, replaceErr := p.replace(unit)
					if replaceErr != nil {
						p.logger.Debug("unit not replaced",
							zap.Int("unit", unit.ID()),
							zap.Error(replaceErr))
						return
					}
					unit = fresh
					continue
				}
				resultCh <- res
			}
		}(u)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(p.cfg.BatchDeadline)
	defer timer.Stop()

	select {
	case <-done:
		return drainResults(resultCh), false, nil
	case <-ctx.Done():
		p.killCurrent()
		<-done
		return drainResults(resultCh), false, ctx.Err()
	case <-timer.C:
		p.logger.Warn("batch deadline exceeded, recycling fetch pool",
			zap.Duration("deadline", p.cfg.BatchDeadline),
			zap.Int("submitted", len(urls)))
		err := p.recycle()
		<-done
		return drainResults(resultCh), true, err
	}
}

// recycle kills every unit and replaces the pool with a fresh one of the
// same size. Killing a whole pool is cheaper and safer than trying to reap
// a single hung unit.
// replace kills old and installs a fresh unit in its slot. It fails when
// the pool no longer holds old, which means a recycle or Close swapped the
// unit set while the batch was in flight.
func (p *Pool) replace(old Unit) (Unit, error) {
	old.Kill()
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, u := range p.units {
		if u == old {
			fresh, err := p.factory(old.ID())
			if err != nil {
				return nil, fmt.Errorf("respawn unit %d: %w", old.ID(), err)
			}
			p.units[i] = fresh
			return fresh, nil
		}
	}
	return nil, fmt.Errorf("unit %d no longer pooled", old.ID())
}

func (p *Pool) recycle() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, u := range p.units {
		u.Kill()
	}
	units, err := p.spawn()
	if err != nil {
		p.units = nil
		return fmt.Errorf("respawn pool: %w", err)
	}
	p.units = units
	return nil
}

func (p *Pool) killCurrent() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, u := range p.units {
		u.Kill()
	}
	p.units = nil
}

// Close tears the pool down. The pool is unusable afterwards.
func (p *Pool) Close() {
	p.killCurrent()
}

func drainResults(ch chan crawl.FetchResult) []crawl.FetchResult {
	out := make([]crawl.FetchResult, 0, len(ch))
	for {
		select {
		case res := <-ch:
			out = append(out, res)
		default:
			return out
		}
	}
}
