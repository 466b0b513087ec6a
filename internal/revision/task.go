package revision

import (
	"context"
	"sync"
)

// Task is a handle on an asynchronous remote write.
type Task struct {
	name   string
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// startTask runs fn on its own goroutine. The task context keeps the values of
// parent but not its cancellation; only Cancel stops it.
func startTask(parent context.Context, name string, fn func(ctx context.Context) error) *Task {
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	t := &Task{name: name, cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(t.done)
		defer cancel()
		t.err = fn(ctx)
	}()
	return t
}

// Name identifies the write, e.g. "merge_progress".
func (t *Task) Name() string { return t.name }

// Done is closed when the task finishes.
func (t *Task) Done() <-chan struct{} { return t.done }

// Cancel aborts the write if it is still in flight.
func (t *Task) Cancel() { t.cancel() }

// Err returns the task's error once it has finished, nil before.
func (t *Task) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

// Wait blocks until the task finishes or ctx is done.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// taskSet tracks the outstanding tasks of one session.
type taskSet struct {
	mu    sync.Mutex
	tasks map[*Task]struct{}
}

func (s *taskSet) add(t *Task) {
	s.mu.Lock()
	if s.tasks == nil {
		s.tasks = make(map[*Task]struct{})
	}
	s.tasks[t] = struct{}{}
	s.mu.Unlock()

	go func() {
		<-t.done
		s.mu.Lock()
		delete(s.tasks, t)
		s.mu.Unlock()
	}()
}

func (s *taskSet) snapshot() []*Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Task, 0, len(s.tasks))
	for t := range s.tasks {
		out = append(out, t)
	}
	return out
}

// handOver moves the outstanding tasks to dst without cancelling them.
func (s *taskSet) handOver(dst *taskSet) {
	s.mu.Lock()
	tasks := s.tasks
	s.tasks = nil
	s.mu.Unlock()

	for t := range tasks {
		dst.add(t)
	}
}

func (s *taskSet) cancelAll() {
	for _, t := range s.snapshot() {
		t.Cancel()
	}
}

func (s *taskSet) waitAll(ctx context.Context) error {
	for _, t := range s.snapshot() {
		if err := t.Wait(ctx); err != nil && ctx.Err() != nil {
			return err
		}
	}
	return nil
}
