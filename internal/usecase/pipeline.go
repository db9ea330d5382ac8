package usecase

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/golang/glog"
	"golang.org/x/sync/errgroup"

	"github.com/Global-Water-Security-Center/data-exploration/internal/adapter/fetch"
	"github.com/Global-Water-Security-Center/data-exploration/internal/adapter/store"
	"github.com/Global-Water-Security-Center/data-exploration/internal/adapter/store/csv"
	"github.com/Global-Water-Security-Center/data-exploration/internal/dispatch"
	"github.com/Global-Water-Security-Center/data-exploration/internal/domain"
)

// URLListOptions configures ProcessURLList.
type URLListOptions struct {
	OutDir  string
	Pattern string
	Zip     bool
	// RemoveSource deletes the downloaded file once its tiles are written.
	RemoveSource bool
	Wrap180      bool

	// Files is the number of URLs processed concurrently; TileWorkers the
	// pool size used for each file's tiles.
	Files       int
	TileWorkers int
	Mode        dispatch.Mode
	Progress    bool
}

// URLResult is the outcome of one download list entry.
type URLResult struct {
	Entry   csv.URLEntry
	Path    string // Local source file.
	Done    bool   // Already completed by an earlier run.
	Daily   *DailyResult
	Err     error
	Elapsed time.Duration
}

// Pipeline downloads source files and runs the daily conversion on each.
type Pipeline struct {
	fetcher *fetch.Fetcher
	conv    *Converter
	done    store.KV // Completed URLs, persisted across runs.
	claims  store.KV // URLs taken by a worker in this run.
}

// NewPipeline wires a Pipeline. done records completed URLs.
func NewPipeline(f *fetch.Fetcher, conv *Converter, done store.KV) *Pipeline {
	return &Pipeline{fetcher: f, conv: conv, done: done, claims: store.NewMemoryKV()}
}

func doneKey(url string) string {
	return "done:" + url
}

// ProcessURLList handles every entry. In FailFast mode the first failing
// entry cancels the others and its error is returned; in BestEffort mode
// failures are reported per entry.
func (p *Pipeline) ProcessURLList(ctx context.Context, entries []csv.URLEntry, opts URLListOptions) ([]URLResult, error) {
	if opts.Mode != dispatch.FailFast && opts.Mode != dispatch.BestEffort {
		return nil, domain.Configf("dispatch mode must be set")
	}
	files := opts.Files
	if files < 1 {
		files = 1
	}

	var (
		mu      sync.Mutex
		results = make([]URLResult, len(entries))
	)
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(files)
	start := time.Now()
	for i, e := range entries {
		if opts.Mode == dispatch.FailFast && egCtx.Err() != nil {
			break
		}
		eg.Go(func() error {
			r := p.processEntry(egCtx, e, opts)
			mu.Lock()
			results[i] = r
			mu.Unlock()
			if r.Err != nil {
				glog.Errorf("error on %s: %v", e.URL, r.Err)
				if opts.Mode == dispatch.FailFast {
					return r.Err
				}
			}
			return nil
		})
	}
	err := eg.Wait()
	glog.Infof("all done took %.2fs", time.Since(start).Seconds())

	out := results[:0]
	for _, r := range results {
		if r.Entry.URL != "" {
			out = append(out, r)
		}
	}
	return out, err
}

func (p *Pipeline) processEntry(ctx context.Context, e csv.URLEntry, opts URLListOptions) (r URLResult) {
	begin := time.Now()
	r.Entry = e
	defer func() { r.Elapsed = time.Since(begin) }()

	if _, done, err := p.done.Get(ctx, doneKey(e.URL)); err != nil {
		r.Err = err
		return r
	} else if done {
		glog.Infof("%s already processed, skipping", e.URL)
		r.Done = true
		return r
	}
	if claimed, err := p.claims.PutIfAbsent(ctx, e.URL, e.Variable); err != nil || !claimed {
		if err == nil {
			glog.Infof("%s is listed twice, skipping duplicate", e.URL)
			r.Done = true
		}
		r.Err = err
		return r
	}

	glog.Infof("********* processing %s %s %s %s", e.Variable, e.Scenario, e.Model, e.Variant)
	path, err := p.fetcher.Fetch(ctx, e.URL)
	if err != nil {
		r.Err = err
		return r
	}
	r.Path = path

	daily, err := p.conv.Daily(ctx, DailyRequest{
		Input:    path,
		Variable: e.Variable,
		OutDir:   opts.OutDir,
		Pattern:  opts.Pattern,
		Vars:     e.Vars(),
		Zip:      opts.Zip,
		Wrap180:  opts.Wrap180,
		Mode:     opts.Mode,
		Workers:  opts.TileWorkers,
		Progress: opts.Progress,
	})
	r.Daily = daily
	if err != nil {
		r.Err = err
		return r
	}
	if daily.Failed > 0 {
		glog.Warningf("%s: %d tiles failed, not marking done", e.URL, daily.Failed)
		return r
	}

	if _, err := p.done.PutIfAbsent(ctx, doneKey(e.URL), time.Now().UTC().Format(time.RFC3339)); err != nil {
		r.Err = err
		return r
	}
	if opts.RemoveSource {
		if err := os.Remove(path); err != nil {
			glog.Warningf("failed to remove %s: %v", path, err)
		}
	}
	glog.Infof("done processing %s", e.URL)
	return r
}
