package filescan

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/Wikid82/argus/internal/signatures"
)

var ErrPoolClosed = errors.New("scan pool closed")

// Action is what happened to an upload after its scan.
type Action string

const (
	ActionClean       Action = "clean"
	ActionQuarantined Action = "quarantined"
	ActionDeleted     Action = "deleted"
	// ActionFailed means neither quarantine nor removal succeeded.
	ActionFailed Action = "failed"
)

// Outcome is the scan result plus the disposition applied to the file.
type Outcome struct {
	Result     Result            `json:"result"`
	Action     Action            `json:"action"`
	Quarantine *QuarantineRecord `json:"quarantine,omitempty"`
	ScanErr    error             `json:"-"`
	// DispositionErr is set when the preferred disposition failed.
	DispositionErr error `json:"-"`
}

// Process scans u and disposes of it: high and critical findings are
// quarantined, lower findings are deleted and a failed scan is treated as
// dirty and quarantined, falling back to deletion.
func (s *Scanner) Process(ctx context.Context, u Upload) Outcome {
	res, err := s.Scan(ctx, u)
	out := Outcome{Result: res, ScanErr: err}

	switch {
	case err == nil && res.Clean:
		out.Action = ActionClean
	case err == nil && res.Severity < signatures.SeverityHigh:
		out.Action = s.discard(u, &out)
	default:
		rec, qerr := s.Quarantine(u, res)
		// A non-empty path means the file was moved even if the report failed.
		if rec.QuarantinePath != "" {
			out.Action = ActionQuarantined
			out.Quarantine = &rec
			out.DispositionErr = qerr
			return out
		}
		out.DispositionErr = qerr
		if errors.Is(qerr, ErrOutsideUploadRoot) {
			out.Action = ActionFailed
			return out
		}
		out.Action = s.discard(u, &out)
	}
	return out
}

func (s *Scanner) discard(u Upload, out *Outcome) Action {
	if err := s.Discard(u); err != nil {
		out.DispositionErr = errors.Join(out.DispositionErr, err)
		return ActionFailed
	}
	return ActionDeleted
}

type job struct {
	ctx    context.Context
	upload Upload
	done   chan Outcome
}

// Pool runs scans on a fixed set of workers so hashing and disk I/O never
// run on request goroutines. Pending submissions are bounded.
type Pool struct {
	scanner *Scanner
	jobs    chan job
	pending *semaphore.Weighted
	quit    chan struct{}
	once    sync.Once
	wg      sync.WaitGroup
}

// NewPool starts workers goroutines; at most queue submissions may wait.
func NewPool(s *Scanner, workers, queue int) *Pool {
	if workers <= 0 {
		workers = 4
	}
	if queue < workers {
		queue = workers * 4
	}
	p := &Pool{
		scanner: s,
		jobs:    make(chan job),
		pending: semaphore.NewWeighted(int64(queue)),
		quit:    make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.work()
	}
	return p
}

func (p *Pool) work() {
	defer p.wg.Done()
	for {
		select {
		case j := <-p.jobs:
			j.done <- p.scanner.Process(j.ctx, j.upload)
		case <-p.quit:
			return
		}
	}
}

// Submit blocks until u has been scanned and disposed of. ctx only bounds
// the wait for a free worker: once a worker holds the job Submit waits for
// its outcome, so the caller never races the disposition of u.
func (p *Pool) Submit(ctx context.Context, u Upload) (Outcome, error) {
	select {
	case <-p.quit:
		return Outcome{}, ErrPoolClosed
	default:
	}
	if err := p.pending.Acquire(ctx, 1); err != nil {
		return Outcome{}, err
	}
	defer p.pending.Release(1)

	j := job{ctx: context.WithoutCancel(ctx), upload: u, done: make(chan Outcome, 1)}
	select {
	case p.jobs <- j:
	case <-p.quit:
		return Outcome{}, ErrPoolClosed
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
	return <-j.done, nil
}

// Close stops the workers after their current job.
func (p *Pool) Close() {
	p.once.Do(func() { close(p.quit) })
	p.wg.Wait()
}
