// Package dispatch runs work items on a bounded worker pool.
package dispatch

import (
	"context"
	"fmt"
	"iter"
	"sort"
	"strings"
	"sync"

	"github.com/golang/glog"
	"golang.org/x/sync/errgroup"

	"github.com/Global-Water-Security-Center/data-exploration/internal/domain"
)

// Mode selects how the pool reacts to a failed item. The zero value is not a
// valid mode; callers must choose one.
type Mode int

const (
	// FailFast stops submitting work on the first failure and returns it.
	FailFast Mode = iota + 1
	// BestEffort logs every failure and runs all items.
	BestEffort
)

func (m Mode) String() string {
	switch m {
	case FailFast:
		return "fail-fast"
	case BestEffort:
		return "best-effort"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode parses "fail-fast" or "best-effort".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), "_", "-")) {
	case "fail-fast", "failfast":
		return FailFast, nil
	case "best-effort", "besteffort":
		return BestEffort, nil
	default:
		return 0, domain.Configf("unknown dispatch mode %q (want fail-fast or best-effort)", s)
	}
}

// Task performs one work item and returns the written path. skipped reports
// that the target already existed.
type Task func(ctx context.Context, item domain.WorkItem) (path string, skipped bool, err error)

// Options configures a Run.
type Options struct {
	Workers int
	Mode    Mode
	// OnDone is called from worker goroutines after every item completes.
	OnDone func(domain.Outcome)
}

// Run submits every item to a pool of opts.Workers goroutines and waits for
// all submitted items. Items are numbered in submission order.
//
// In FailFast mode the first error cancels the context passed to running
// tasks, no further item is submitted, and that error is returned together
// with the outcomes of the items that were submitted. Running tasks are not
// interrupted beyond the cancellation. In BestEffort mode
// failures are logged and Run returns one outcome per item and a nil error.
// Outcomes are sorted by WorkItem.Seq.
func Run(ctx context.Context, items iter.Seq[domain.WorkItem], task Task, opts Options) ([]domain.Outcome, error) {
	if opts.Mode != FailFast && opts.Mode != BestEffort {
		return nil, domain.Configf("dispatch mode must be set")
	}
	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	// The group carries the first FailFast error and cancels runCtx with it.
	// Slots come from sem rather than SetLimit so that waiting for a slot can
	// be abandoned on cancellation.
	g, runCtx := errgroup.WithContext(runCtx)
	sem := make(chan struct{}, workers)

	var (
		mu       sync.Mutex
		outcomes []domain.Outcome
	)
	record := func(o domain.Outcome) {
		mu.Lock()
		outcomes = append(outcomes, o)
		mu.Unlock()
		if opts.OnDone != nil {
			opts.OnDone(o)
		}
	}

	seq := 0
	for item := range items {
		// Wait for a free worker, or stop if the run was cancelled.
		select {
		case sem <- struct{}{}:
		case <-runCtx.Done():
		}
		if runCtx.Err() != nil {
			break
		}

		item.Seq = seq
		seq++
		glog.V(2).Infof("submitted #%d %s %s", item.Seq, item.Variable, item.Selector.Key())

		g.Go(func() error {
			defer func() { <-sem }()

			out := execute(runCtx, task, item)
			record(out)
			if out.State == domain.StateSucceeded {
				return nil
			}
			if opts.Mode == FailFast {
				if runCtx.Err() != nil {
					// An earlier failure or the caller stopped the run.
					return nil
				}
				// Cancel before the worker slot is released so the
				// submission loop cannot start another item.
				cancel()
				return out.Err
			}
			glog.Errorf("work item #%d (%s) failed: %v", item.Seq, item.TargetPath, out.Err)
			return nil
		})
	}

	err := g.Wait()
	if opts.Mode == FailFast {
		if err == nil {
			// The parent context may have been cancelled without a task error.
			err = ctx.Err()
		}
	}

	sort.Slice(outcomes, func(i, j int) bool { return outcomes[i].Item.Seq < outcomes[j].Item.Seq })
	return outcomes, err
}

// execute runs one task, turning a panic into a failed outcome.
func execute(ctx context.Context, task Task, item domain.WorkItem) (out domain.Outcome) {
	out = domain.Outcome{Item: item, State: domain.StateSubmitted}
	defer func() {
		if r := recover(); r != nil {
			out.State = domain.StateFailed
			out.Err = fmt.Errorf("work item #%d panicked: %v", item.Seq, r)
		}
	}()

	path, skipped, err := task(ctx, item)
	if err != nil {
		out.State = domain.StateFailed
		out.Err = err
		return out
	}
	out.State = domain.StateSucceeded
	out.Path = path
	out.Skipped = skipped
	return out
}

// Summarize counts outcomes by result.
func Summarize(outcomes []domain.Outcome) (written, skipped, failed int) {
	for _, o := range outcomes {
		switch {
		case o.State == domain.StateFailed:
			failed++
		case o.Skipped:
			skipped++
		default:
			written++
		}
	}
	return written, skipped, failed
}

// Items adapts a slice to an iterator.
func Items(items []domain.WorkItem) iter.Seq[domain.WorkItem] {
	return func(yield func(domain.WorkItem) bool) {
		for _, it := range items {
			if !yield(it) {
				return
			}
		}
	}
}
