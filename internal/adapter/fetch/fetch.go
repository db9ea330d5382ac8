// Package fetch downloads remote source files into a local cache.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/cheggaaa/pb"
	"github.com/golang/glog"
	"github.com/pkg/errors"

	"github.com/Global-Water-Security-Center/data-exploration/internal/domain"
	"github.com/Global-Water-Security-Center/data-exploration/internal/retry"
)

// StreamingDir is the cache subdirectory that holds partial downloads.
const StreamingDir = "streaming"

// Fetcher downloads URLs into CacheDir. A file is streamed into a unique
// temporary file under CacheDir/streaming and moved into place once
// complete, so the cache never holds a truncated file under its final name.
// Only one download per target runs at a time.
type Fetcher struct {
	cacheDir string
	client   *http.Client
	policy   retry.Policy
	errorLog string
	progress bool

	mu       sync.Mutex
	inflight map[string]chan struct{} // Closed when the target's download ends.

	logMu     sync.Mutex
	downloads atomic.Int64
}

// Options configures a Fetcher. Zero values select defaults.
type Options struct {
	Client   *http.Client
	Policy   *retry.Policy
	ErrorLog string // File that receives "url,error" lines on give-up.
	Progress bool   // Show a progress bar per download.
}

// New creates a Fetcher rooted at cacheDir.
func New(cacheDir string, opts Options) *Fetcher {
	f := &Fetcher{
		cacheDir: cacheDir,
		client:   opts.Client,
		policy:   retry.Default(),
		errorLog: opts.ErrorLog,
		progress: opts.Progress,
		inflight: make(map[string]chan struct{}),
	}
	if f.client == nil {
		f.client = http.DefaultClient
	}
	if opts.Policy != nil {
		f.policy = *opts.Policy
	}
	return f
}

// Downloads returns the number of completed network downloads.
func (f *Fetcher) Downloads() int64 {
	return f.downloads.Load()
}

// Fetch downloads rawURL into the cache under its base name and returns the
// local path. An existing cached file is returned without a request.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (string, error) {
	name, err := BaseName(rawURL)
	if err != nil {
		return "", err
	}
	return f.FetchAs(ctx, rawURL, name)
}

// FetchAs downloads rawURL to the cache-relative path rel. Concurrent calls
// for the same target wait for the first one and then reuse its file.
func (f *Fetcher) FetchAs(ctx context.Context, rawURL, rel string) (string, error) {
	target := filepath.Join(f.cacheDir, rel)
	if _, err := os.Stat(target); err == nil {
		glog.V(1).Infof("%s exists, skipping", target)
		return target, nil
	}

	release, err := f.claim(ctx, target)
	if err != nil {
		return "", &domain.FetchError{URL: rawURL, Err: err}
	}
	defer release()
	// The previous holder of the claim may have completed the target.
	if _, err := os.Stat(target); err == nil {
		glog.V(1).Infof("%s exists, skipping", target)
		return target, nil
	}

	attempts := 0
	policy := f.policy
	policy.OnGiveUp = func(n int, err error) {
		f.logFailure(rawURL, err)
		if f.policy.OnGiveUp != nil {
			f.policy.OnGiveUp(n, err)
		}
	}
	err = policy.Do(ctx, func(ctx context.Context) error {
		attempts++
		return f.download(ctx, rawURL, target)
	})
	if err != nil {
		glog.Errorf("failed to download %s: %v", rawURL, err)
		var ex *retry.ExhaustedError
		if errors.As(err, &ex) {
			err = ex.Err
		}
		return "", &domain.FetchError{URL: rawURL, Attempts: attempts, Err: err}
	}
	return target, nil
}

// claim waits until no other download of target is running and marks it as
// taken. The returned func releases the claim.
func (f *Fetcher) claim(ctx context.Context, target string) (func(), error) {
	for {
		f.mu.Lock()
		busy, ok := f.inflight[target]
		if !ok {
			done := make(chan struct{})
			f.inflight[target] = done
			f.mu.Unlock()
			return func() {
				f.mu.Lock()
				delete(f.inflight, target)
				f.mu.Unlock()
				close(done)
			}, nil
		}
		f.mu.Unlock()

		glog.V(1).Infof("waiting for running download of %s", target)
		select {
		case <-busy:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (f *Fetcher) download(ctx context.Context, rawURL, target string) error {
	streamDir := filepath.Join(f.cacheDir, StreamingDir)
	if err := os.MkdirAll(streamDir, 0o755); err != nil {
		return retry.Permanent(errors.Wrap(err, "create streaming dir"))
	}
	glog.Infof("downloading %s to %s", rawURL, target)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return retry.Permanent(errors.Wrapf(err, "build request for %s", rawURL))
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "get %s", rawURL)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := errors.Errorf("get %s: unexpected status %s", rawURL, resp.Status)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 &&
			resp.StatusCode != http.StatusRequestTimeout && resp.StatusCode != http.StatusTooManyRequests {
			return retry.Permanent(err)
		}
		return err
	}

	out, err := os.CreateTemp(streamDir, filepath.Base(target)+".*.part")
	if err != nil {
		return errors.Wrapf(err, "create stream file in %s", streamDir)
	}
	stream := out.Name()
	// CreateTemp uses 0600; cached files are shared like any other download.
	if err := out.Chmod(0o644); err != nil {
		_ = out.Close()
		_ = os.Remove(stream)
		return errors.Wrapf(err, "chmod %s", stream)
	}

	var body io.Reader = resp.Body
	var bar *pb.ProgressBar
	if f.progress && resp.ContentLength > 0 {
		bar = pb.New64(resp.ContentLength).SetUnits(pb.U_BYTES)
		bar.Output = os.Stderr
		bar.ShowSpeed = true
		bar.Prefix(filepath.Base(target) + " ")
		bar.Start()
		body = bar.NewProxyReader(resp.Body)
	}

	n, err := io.Copy(out, body)
	if bar != nil {
		bar.Finish()
	}
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err == nil && resp.ContentLength > 0 && n != resp.ContentLength {
		err = errors.Errorf("short read: got %d of %d bytes", n, resp.ContentLength)
	}
	if err != nil {
		_ = os.Remove(stream)
		return errors.Wrapf(err, "stream %s", rawURL)
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		_ = os.Remove(stream)
		return retry.Permanent(errors.Wrap(err, "create target dir"))
	}
	if err := os.Rename(stream, target); err != nil {
		_ = os.Remove(stream)
		return errors.Wrapf(err, "move %s to %s", stream, target)
	}
	f.downloads.Add(1)
	return nil
}

// logFailure appends "url,error" to the error log, with newlines escaped.
func (f *Fetcher) logFailure(rawURL string, err error) {
	if f.errorLog == "" || err == nil {
		return
	}
	f.logMu.Lock()
	defer f.logMu.Unlock()

	fh, ferr := os.OpenFile(f.errorLog, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if ferr != nil {
		glog.Warningf("failed to open error log %s: %v", f.errorLog, ferr)
		return
	}
	defer fh.Close()
	msg := strings.ReplaceAll(err.Error(), "\n", "<enter>")
	if _, werr := fmt.Fprintf(fh, "%s,%s\n", rawURL, msg); werr != nil {
		glog.Warningf("failed to write error log %s: %v", f.errorLog, werr)
	}
}

// BaseName returns the last path element of a URL, without query string.
func BaseName(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", errors.Wrapf(err, "parse url %q", rawURL)
	}
	base := path.Base(u.Path)
	if base == "." || base == "/" || base == "" {
		return "", errors.Errorf("url %q has no file name", rawURL)
	}
	return base, nil
}
