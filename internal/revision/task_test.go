package revision

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestTask_WaitReturnsResult(t *testing.T) {
	want := errors.New("boom")
	task := startTask(context.Background(), "write", func(context.Context) error { return want })

	if err := task.Wait(context.Background()); !errors.Is(err, want) {
		t.Fatalf("Wait() error = %v, want %v", err, want)
	}
	if !errors.Is(task.Err(), want) {
		t.Errorf("Err() = %v, want %v", task.Err(), want)
	}
	if task.Name() != "write" {
		t.Errorf("Name() = %q, want write", task.Name())
	}
}

func TestTask_CancelStopsWork(t *testing.T) {
	started := make(chan struct{})
	task := startTask(context.Background(), "write", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	<-started
	if task.Err() != nil {
		t.Fatalf("Err() before finish = %v, want nil", task.Err())
	}

	task.Cancel()
	select {
	case <-task.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("task did not finish after Cancel")
	}
	if !errors.Is(task.Err(), context.Canceled) {
		t.Errorf("Err() = %v, want context.Canceled", task.Err())
	}
}

func TestTask_IgnoresParentCancellation(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	release := make(chan struct{})
	task := startTask(parent, "write", func(ctx context.Context) error {
		<-release
		return ctx.Err()
	})
	cancel()
	close(release)

	if err := task.Wait(context.Background()); err != nil {
		t.Errorf("Wait() error = %v, want nil", err)
	}
}

func TestTask_WaitHonoursContext(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	task := startTask(context.Background(), "write", func(context.Context) error {
		<-release
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := task.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait() error = %v, want context.DeadlineExceeded", err)
	}
}

func TestTaskSet_CancelAll(t *testing.T) {
	var set taskSet
	var tasks []*Task
	for i := 0; i < 3; i++ {
		task := startTask(context.Background(), "write", func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		})
		set.add(task)
		tasks = append(tasks, task)
	}

	set.cancelAll()
	for _, task := range tasks {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err := task.Wait(ctx)
		cancel()
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Wait() error = %v, want context.Canceled", err)
		}
	}
}
