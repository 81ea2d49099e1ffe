package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func newTestQueue(t *testing.T, maxRetries int) *RedisEmailQueue {
	t.Helper()
	redisSrv := miniredis.RunT(t)
	q, err := NewRedisEmailQueue(RedisEmailQueueConfig{
		Addr:       redisSrv.Addr(),
		Stream:     "test:mail",
		Group:      "test-mailers",
		Consumer:   "test-consumer",
		MaxRetries: maxRetries,
		Block:      50 * time.Millisecond,
		RetryDelay: 10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	return q
}

func waitForStatus(t *testing.T, q *RedisEmailQueue, jobID, want string) EmailJob {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, found, err := q.GetJob(context.Background(), jobID)
		if err != nil {
			t.Fatalf("get job: %v", err)
		}
		if found && job.Status == want {
			return job
		}
		time.Sleep(20 * time.Millisecond)
	}
	job, _, _ := q.GetJob(context.Background(), jobID)
	t.Fatalf("job %s never reached status %q, last seen %+v", jobID, want, job)
	return EmailJob{}
}

func TestEnqueueAndDeliver(t *testing.T) {
	q := newTestQueue(t, 3)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan EmailJob, 1)
	q.Start(ctx, 1, func(_ context.Context, job EmailJob) error {
		got <- job
		return nil
	})
	time.Sleep(50 * time.Millisecond) // let the group form before enqueueing

	job, err := q.Enqueue(ctx, []string{"seller@example.com"}, "New message", "hello")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	select {
	case delivered := <-got:
		if delivered.ID != job.ID {
			t.Fatalf("expected job %s, got %s", job.ID, delivered.ID)
		}
		if len(delivered.To) != 1 || delivered.To[0] != "seller@example.com" {
			t.Fatalf("unexpected recipients: %v", delivered.To)
		}
		if delivered.Subject != "New message" || delivered.Body != "hello" {
			t.Fatalf("payload mangled: %+v", delivered)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("handler never received the job")
	}

	waitForStatus(t, q, job.ID, StatusSent)
}

func TestFailingHandlerMarksJobFailedAfterRetries(t *testing.T) {
	q := newTestQueue(t, 2)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	q.Start(ctx, 1, func(context.Context, EmailJob) error {
		calls.Add(1)
		return errors.New("smtp unreachable")
	})
	time.Sleep(50 * time.Millisecond)

	job, err := q.Enqueue(ctx, []string{"seller@example.com"}, "subject", "body")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	final := waitForStatus(t, q, job.ID, StatusFailed)
	if final.ErrorMessage == "" {
		t.Fatalf("expected failure reason to be recorded")
	}
	if n := calls.Load(); n != 2 {
		t.Fatalf("expected 2 attempts, got %d", n)
	}
	if final.Attempts != 2 {
		t.Fatalf("expected attempts=2, got %d", final.Attempts)
	}
}

func TestRetryKeepsPayload(t *testing.T) {
	q := newTestQueue(t, 3)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Fail the first attempt so delivery goes through the requeue path,
	// then capture what the handler sees on the retry.
	var calls atomic.Int32
	delivered := make(chan EmailJob, 1)
	q.Start(ctx, 1, func(_ context.Context, job EmailJob) error {
		if calls.Add(1) == 1 {
			return errors.New("smtp unreachable")
		}
		delivered <- job
		return nil
	})
	time.Sleep(50 * time.Millisecond)

	job, err := q.Enqueue(ctx, []string{"seller@example.com"}, "New message", "full body text")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	select {
	case retried := <-delivered:
		if retried.ID != job.ID {
			t.Fatalf("expected job %s, got %s", job.ID, retried.ID)
		}
		if retried.Subject != "New message" || retried.Body != "full body text" {
			t.Fatalf("retry lost the payload: %+v", retried)
		}
		if len(retried.To) != 1 || retried.To[0] != "seller@example.com" {
			t.Fatalf("retry lost the recipients: %v", retried.To)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("retried job never delivered")
	}

	waitForStatus(t, q, job.ID, StatusSent)
}

func TestEnqueueRejectsEmptyRecipients(t *testing.T) {
	q := newTestQueue(t, 3)
	if _, err := q.Enqueue(context.Background(), []string{"", "  "}, "s", "b"); err == nil {
		t.Fatalf("expected error for empty recipient list")
	}
}

func TestNewRedisEmailQueueRequiresAddr(t *testing.T) {
	if _, err := NewRedisEmailQueue(RedisEmailQueueConfig{}); err == nil {
		t.Fatalf("expected error for missing addr")
	}
}
