package fetch

import (
	"context"
	stderrors "errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cavaliergopher/grab/v3"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"github.com/debmirror/debmirror/console"
	"github.com/debmirror/debmirror/digest"
)

const (
	initialBackoff = time.Second
	maxBackoff     = 5 * time.Minute
)

// Pool is a fixed-size worker pool of downloaders. Tasks may be submitted
// while earlier tasks are still in flight (the stage scheduler streams
// tasks in as it parses index files); Close signals that no more will
// arrive, and Wait blocks until every submitted task has produced a
// Result.
type Pool struct {
	ctx      context.Context
	cancel   context.CancelFunc
	queue    chan Task
	results  chan Result
	wg       sync.WaitGroup
	client   *grab.Client
	limiter  *rate.Limiter
	maxTries int
	progress console.Progress
}

// NewPool starts threads worker goroutines. maxTries is the number of
// attempts per task including the first; bytesPerSec <= 0 means
// unthrottled.
func NewPool(ctx context.Context, threads, maxTries int, bytesPerSec int64, progress console.Progress) *Pool {
	if maxTries < 1 {
		maxTries = 1
	}

	ctx, cancel := context.WithCancel(ctx)

	p := &Pool{
		ctx:      ctx,
		cancel:   cancel,
		queue:    make(chan Task, 1000),
		results:  make(chan Result, 1000),
		client:   grab.NewClient(),
		maxTries: maxTries,
		progress: progress,
	}

	if bytesPerSec > 0 {
		p.limiter = rate.NewLimiter(rate.Limit(bytesPerSec), int(bytesPerSec))
	}

	for i := 0; i < threads; i++ {
		p.wg.Add(1)
		go p.worker()
	}

	return p
}

// Submit enqueues a task. It blocks if the internal queue is full, which
// back-pressures a fast index parser against a slow network.
func (p *Pool) Submit(t Task) {
	select {
	case p.queue <- t:
	case <-p.ctx.Done():
	}
}

// Close signals that no further tasks will be submitted.
func (p *Pool) Close() {
	close(p.queue)
}

// Cancel aborts all in-flight and queued work. A task waiting out a retry
// backoff is reported with ErrCancelled; workers stop taking tasks, so
// queued tasks not yet started produce no Result.
func (p *Pool) Cancel() {
	p.cancel()
}

// Results returns the channel of settled tasks. It closes once Wait would
// return, after every submitted task has a Result.
func (p *Pool) Results() <-chan Result {
	return p.results
}

// Wait blocks until all workers have drained the queue.
func (p *Pool) Wait() {
	p.wg.Wait()
	close(p.results)
}

func (p *Pool) worker() {
	defer p.wg.Done()

	for {
		select {
		case t, ok := <-p.queue:
			if !ok {
				return
			}
			p.results <- p.attempt(t)
		case <-p.ctx.Done():
			return
		}
	}
}

func (p *Pool) attempt(t Task) Result {
	delay := initialBackoff
	var lastErr error

	for try := 1; try <= p.maxTries; try++ {
		info, err := p.download(t)
		if err == nil {
			return Result{Task: t, Info: info}
		}

		lastErr = err
		if !retryable(err) {
			break
		}

		if try == p.maxTries {
			break
		}

		p.progress.Printf("fetch: retrying %s (%d/%d) after: %v\n", t.URL, try, p.maxTries, err)

		select {
		case <-time.After(delay):
		case <-p.ctx.Done():
			return Result{Task: t, Err: ErrCancelled}
		}

		delay *= 2
		if delay > maxBackoff {
			delay = maxBackoff
		}
	}

	return Result{Task: t, Err: lastErr}
}

func (p *Pool) download(t Task) (digest.Info, error) {
	if err := os.MkdirAll(filepath.Dir(t.Destination), 0755); err != nil {
		return digest.Info{}, errors.Wrapf(err, "fetch: creating directory for %s", t.Destination)
	}

	req, err := grab.NewRequest(t.Destination, t.URL)
	if err != nil {
		return digest.Info{}, errors.Wrapf(err, "fetch: building request for %s", t.URL)
	}
	req = req.WithContext(p.ctx)
	req.NoResume = true
	if p.limiter != nil {
		req.RateLimiter = p.limiter
	}

	resp := p.client.Do(req)
	<-resp.Done

	if err := resp.Err(); err != nil {
		os.Remove(t.Destination)
		if resp.HTTPResponse != nil && resp.HTTPResponse.StatusCode == 404 {
			return digest.Info{}, errors.Wrapf(ErrNotFound, "%s", t.URL)
		}
		return digest.Info{}, errors.Wrapf(err, "fetch: downloading %s", t.URL)
	}

	f, err := os.Open(t.Destination)
	if err != nil {
		return digest.Info{}, errors.Wrapf(err, "fetch: reopening %s for verification", t.Destination)
	}
	defer f.Close()

	info, err := digest.ForFile(f, digest.MD5, digest.SHA1, digest.SHA256, digest.SHA512)
	if err != nil {
		os.Remove(t.Destination)
		return digest.Info{}, errors.Wrapf(err, "fetch: hashing %s", t.Destination)
	}

	if ok, mismatched, sizeMismatch := t.Checksum.Matches(info); !ok {
		os.Remove(t.Destination)
		if sizeMismatch {
			return digest.Info{}, errors.Wrapf(ErrChecksumMismatch, "%s: expected size %d, got %d", t.URL, t.Checksum.Size, info.Size)
		}
		return digest.Info{}, errors.Wrapf(ErrChecksumMismatch, "%s: %s digest mismatch", t.URL, mismatched)
	}

	return info, nil
}

// retryable reports whether err is worth another attempt. A checksum
// mismatch indicates upstream-vs-manifest disagreement and a 404 means
// the resource doesn't exist; neither self-heals by retrying. Every other
// transport or HTTP-status failure is worth retrying.
func retryable(err error) bool {
	return !stderrors.Is(err, ErrChecksumMismatch) && !stderrors.Is(err, ErrNotFound)
}
