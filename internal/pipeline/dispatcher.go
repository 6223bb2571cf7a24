package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"predixaai-alert-engine/internal/actions"
)

var ErrDispatcherClosed = errors.New("dispatcher is stopped")

// Runner executes one planned task. *actions.Executor implements it.
type Runner interface {
	RunTask(ctx context.Context, task actions.Task) actions.Outcome
}

// Dispatcher runs outbound action tasks on a fixed pool of workers so that
// slow endpoints never block alert ingestion. Each task gets its own timeout
// and is not cancelled when the dispatcher stops.
type Dispatcher struct {
	mu          sync.RWMutex
	closed      bool
	queue       chan actions.Task
	runner      Runner
	taskTimeout time.Duration
	logger      logrus.FieldLogger
	metrics     *Metrics
	wg          sync.WaitGroup
	onDone      func(actions.Outcome)
}

func NewDispatcher(runner Runner, workers, queueSize int, taskTimeout time.Duration, logger logrus.FieldLogger, metrics *Metrics) *Dispatcher {
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = 128
	}
	if taskTimeout <= 0 {
		taskTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	d := &Dispatcher{
		queue:       make(chan actions.Task, queueSize),
		runner:      runner,
		taskTimeout: taskTimeout,
		logger:      logger,
		metrics:     metrics,
	}
	d.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go d.worker()
	}
	return d
}

// Submit queues task, blocking while the queue is full. If ctx ends first
// the task is dropped and ctx's error returned.
func (d *Dispatcher) Submit(ctx context.Context, task actions.Task) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.drop(task, ErrDispatcherClosed)
		return ErrDispatcherClosed
	}
	select {
	case d.queue <- task:
		return nil
	case <-ctx.Done():
		d.drop(task, ctx.Err())
		return ctx.Err()
	}
}

func (d *Dispatcher) drop(task actions.Task, err error) {
	d.metrics.taskDropped()
	d.logger.WithFields(logrus.Fields{"rule_id": task.RuleID, "action": task.Action}).WithError(err).Warn("action task dropped")
}

// Stop refuses new tasks, lets queued ones finish and waits for the workers
// or for ctx to end.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for task := range d.queue {
		d.execute(task)
	}
}

func (d *Dispatcher) execute(task actions.Task) {
	ctx, cancel := context.WithTimeout(context.Background(), d.taskTimeout)
	defer cancel()
	outcome := d.runner.RunTask(ctx, task)
	if d.onDone != nil {
		d.onDone(outcome)
	}
}
