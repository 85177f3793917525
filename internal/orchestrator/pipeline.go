package orchestrator

import (
	"context"
	"fmt"
	"log"
	"slices"
	"sync"
	"time"

	"github.com/dusk-indust/testgen/internal/metrics"
	"github.com/google/uuid"
)

// Coordinator creates jobs and owns their lifecycle. It is safe for
// concurrent use; each job runs on its own goroutines.
type Coordinator struct {
	registry *Registry
	opts     options

	mu       sync.Mutex
	live     map[string]*job
	finished []*job // oldest first, bounded by retainFinished
}

// NewCoordinator creates a Coordinator that plans jobs against reg.
func NewCoordinator(reg *Registry, opts ...Option) *Coordinator {
	o := options{
		maxConcurrent:  DefaultMaxConcurrentStages,
		stallTimeout:   DefaultStallTimeout,
		cancelGrace:    DefaultCancelGrace,
		retainFinished: DefaultRetainFinished,
		sink:           metrics.NewNoopSink(),
		clock:          time.Now,
		newID:          uuid.NewString,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Coordinator{
		registry: reg,
		opts:     o,
		live:     make(map[string]*job),
	}
}

// Registry returns the stage registry jobs are planned against.
func (c *Coordinator) Registry() *Registry {
	return c.registry
}

// JobOption configures a single job at creation.
type JobOption func(*jobOptions)

type jobOptions struct {
	subs []pendingSub
}

type pendingSub struct {
	fn    func(Event)
	kinds []EventKind
}

// WithSubscriber attaches fn to the job before its first stage is
// dispatched, so it observes the complete stream even for jobs that finish
// immediately.
func WithSubscriber(fn func(Event), kinds ...EventKind) JobOption {
	return func(o *jobOptions) {
		o.subs = append(o.subs, pendingSub{fn: fn, kinds: kinds})
	}
}

// CreateJob validates cfg, plans its stages and starts the job
// asynchronously. The returned handle is usable immediately; subscribers
// attached through it replay the stream from its first retained event.
// Cancelling ctx cancels the job. A ctx that is already done when CreateJob
// is called guarantees that no stage runs; StreamHandle.Cancel may race
// with the first dispatch, in which case running stages see their context
// cancelled.
func (c *Coordinator) CreateJob(ctx context.Context, cfg JobConfig, opts ...JobOption) (*StreamHandle, error) {
	var jo jobOptions
	for _, opt := range opts {
		opt(&jo)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	plan, err := c.registry.Plan(cfg.Stages)
	if err != nil {
		return nil, err
	}

	j := newJob(ctx, c.opts.newID(), cfg, plan, c.opts, c.retire)

	c.mu.Lock()
	c.live[j.id] = j
	c.mu.Unlock()

	c.opts.sink.JobStarted()
	log.Printf("orchestrator: job %s created: source=%s stages=%v", j.id, cfg.Source, plan.Order())

	h := newStreamHandle(j)
	for _, sub := range jo.subs {
		h.Subscribe(1, sub.fn, sub.kinds...)
	}

	go j.run()
	return h, nil
}

// Attach returns a new handle on an existing job. Finished jobs remain
// attachable while they are retained.
func (c *Coordinator) Attach(id string) (*StreamHandle, error) {
	j, err := c.lookup(id)
	if err != nil {
		return nil, err
	}
	return newStreamHandle(j), nil
}

// Cancel requests cancellation of a job. Cancelling a finished job is a
// no-op.
func (c *Coordinator) Cancel(id string) error {
	j, err := c.lookup(id)
	if err != nil {
		return err
	}
	j.requestCancel()
	return nil
}

// Job describes a live or retained job.
func (c *Coordinator) Job(id string) (JobInfo, error) {
	j, err := c.lookup(id)
	if err != nil {
		return JobInfo{}, err
	}
	return j.info(), nil
}

// Jobs describes every live and retained job, oldest first.
func (c *Coordinator) Jobs() []JobInfo {
	c.mu.Lock()
	jobs := make([]*job, 0, len(c.live)+len(c.finished))
	for _, j := range c.live {
		jobs = append(jobs, j)
	}
	jobs = append(jobs, c.finished...)
	c.mu.Unlock()

	infos := make([]JobInfo, 0, len(jobs))
	for _, j := range jobs {
		infos = append(infos, j.info())
	}
	slices.SortFunc(infos, func(a, b JobInfo) int {
		if n := a.CreatedAt.Compare(b.CreatedAt); n != 0 {
			return n
		}
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})
	return infos
}

// Shutdown cancels every live job and waits for them to finish or for ctx
// to expire.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	live := make([]*job, 0, len(c.live))
	for _, j := range c.live {
		live = append(live, j)
	}
	c.mu.Unlock()

	for _, j := range live {
		j.requestCancel()
	}
	for _, j := range live {
		select {
		case <-j.done:
		case <-ctx.Done():
			return fmt.Errorf("orchestrator: shutdown: %w", ctx.Err())
		}
	}
	return nil
}

func (c *Coordinator) lookup(id string) (*job, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if j, ok := c.live[id]; ok {
		return j, nil
	}
	for _, j := range c.finished {
		if j.id == id {
			return j, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
}

// retire moves a finished job into the bounded retention queue.
func (c *Coordinator) retire(j *job) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.live, j.id)
	if c.opts.retainFinished == 0 {
		return
	}
	c.finished = append(c.finished, j)
	if over := len(c.finished) - c.opts.retainFinished; over > 0 {
		clear(c.finished[:over])
		c.finished = c.finished[over:]
	}
}
