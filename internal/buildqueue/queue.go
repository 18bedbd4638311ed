// Package buildqueue runs builds on a bounded background worker pool and
// keeps their records, so the API can accept a build and answer status polls
// instead of blocking a request for the whole build.
package buildqueue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/quaylabs/slipway/internal/core/domain"
	"github.com/quaylabs/slipway/internal/core/ports"
)

// ErrBacklogFull is returned when the queue cannot accept more work.
var ErrBacklogFull = errors.New("build backlog full")

// ErrUnknownBuild is returned for build IDs the queue has no record of.
var ErrUnknownBuild = errors.New("unknown build")

// ErrQueueClosed is returned for builds submitted after Shutdown.
var ErrQueueClosed = errors.New("build queue shut down")

type job struct {
	id  string
	req ports.BuildRequest
}

// Queue owns build records and the workers that execute them.
type Queue struct {
	builder ports.BuilderService
	log     *zap.Logger

	mu     sync.RWMutex
	builds map[string]*domain.Build
	closed bool

	jobs   chan job
	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New creates a queue with the given worker count and backlog and starts the
// workers. Call Shutdown to drain them.
func New(builder ports.BuilderService, log *zap.Logger, workers, backlog int) *Queue {
	if workers < 1 {
		workers = 1
	}
	if backlog < 1 {
		backlog = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		builder: builder,
		log:     log,
		builds:  make(map[string]*domain.Build),
		jobs:    make(chan job, backlog),
		cancel:  cancel,
	}
	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx)
	}
	return q
}

// Enqueue records a pending build and hands it to a worker. It never blocks:
// a full backlog is an error the caller surfaces.
func (q *Queue) Enqueue(req ports.BuildRequest) (domain.Build, error) {
	b := &domain.Build{
		ID:     uuid.NewString(),
		State:  domain.BuildPending,
		Source: req.RepoURL,
	}
	if b.Source == "" {
		b.Source = req.ContextDir
	}
	if req.Descriptor != nil {
		b.App = req.Descriptor.App
	}

	// The send happens under the lock that Shutdown takes before closing
	// the channel, so an enqueue can never race the close. The send itself
	// never blocks; a full backlog hits the default case.
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return domain.Build{}, ErrQueueClosed
	}
	q.builds[b.ID] = b

	select {
	case q.jobs <- job{id: b.ID, req: req}:
		return *b, nil
	default:
		delete(q.builds, b.ID)
		return domain.Build{}, ErrBacklogFull
	}
}

// Get returns a snapshot of one build record.
func (q *Queue) Get(id string) (domain.Build, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	b, ok := q.builds[id]
	if !ok {
		return domain.Build{}, ErrUnknownBuild
	}
	return *b, nil
}

// List returns snapshots of all build records.
func (q *Queue) List() []domain.Build {
	q.mu.RLock()
	defer q.mu.RUnlock()
	out := make([]domain.Build, 0, len(q.builds))
	for _, b := range q.builds {
		out = append(out, *b)
	}
	return out
}

// Shutdown stops accepting work and waits for in-flight builds. Safe to
// call more than once.
func (q *Queue) Shutdown() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()

	q.cancel()
	close(q.jobs)
	q.wg.Wait()
}

func (q *Queue) worker(ctx context.Context) {
	defer q.wg.Done()
	for j := range q.jobs {
		if ctx.Err() != nil {
			q.update(j.id, func(b *domain.Build) {
				b.State = domain.BuildFailed
				b.Error = "shutdown before build started"
				b.FinishedAt = time.Now()
			})
			continue
		}
		q.run(ctx, j)
	}
}

func (q *Queue) run(ctx context.Context, j job) {
	q.update(j.id, func(b *domain.Build) {
		b.State = domain.BuildRunning
		b.StartedAt = time.Now()
	})

	res, err := q.builder.BuildImage(ctx, j.req)

	q.update(j.id, func(b *domain.Build) {
		b.FinishedAt = time.Now()
		if err != nil {
			b.State = domain.BuildFailed
			b.Error = err.Error()
			var be *domain.BuildError
			if errors.As(err, &be) {
				b.FailedStep = be.Step
			}
			return
		}
		b.State = domain.BuildSucceeded
		b.ImageID = res.ImageID
		b.ImageRef = res.ImageRef
	})

	if err != nil {
		q.log.Warn("build failed", zap.String("build", j.id), zap.Error(err))
	} else {
		q.log.Info("build finished", zap.String("build", j.id), zap.String("image", res.ImageRef))
	}
}

func (q *Queue) update(id string, fn func(*domain.Build)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if b, ok := q.builds[id]; ok {
		fn(b)
	}
}
