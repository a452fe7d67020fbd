package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/QFiSouthaven/Jynco-sub001/internal/model"
)

func newRedisQueue(t *testing.T, opts Options) *RedisQueue {
	t.Helper()
	q, _ := newRedisQueueWithServer(t, opts)
	return q
}

func newRedisQueueWithServer(t *testing.T, opts Options) (*RedisQueue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	if opts.PollInterval == 0 {
		opts.PollInterval = 5 * time.Millisecond
	}
	return NewRedisQueue(client, opts), mr
}

// forEachQueue runs fn against every backend with the same options.
func forEachQueue(t *testing.T, opts Options, fn func(t *testing.T, q Queue)) {
	t.Helper()
	t.Run("memory", func(t *testing.T) { fn(t, NewMemoryQueue(opts)) })
	t.Run("redis", func(t *testing.T) { fn(t, newRedisQueue(t, opts)) })
}

func segmentJob(priority model.Priority, tag string) *model.RenderJob {
	payload, _ := json.Marshal(map[string]string{"tag": tag})
	return &model.RenderJob{Kind: model.JobKindSegment, Priority: priority, Payload: payload}
}

func tagOf(t *testing.T, job *model.RenderJob) string {
	t.Helper()
	var p map[string]string
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		t.Fatalf("bad payload: %v", err)
	}
	return p["tag"]
}

func mustEnqueue(t *testing.T, q Queue, job *model.RenderJob) string {
	t.Helper()
	id, err := q.Enqueue(context.Background(), job)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	return id
}

func mustDequeue(t *testing.T, q Queue, kinds ...model.JobKind) *model.RenderJob {
	t.Helper()
	job, err := q.Dequeue(context.Background(), kinds, 500*time.Millisecond)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if job == nil {
		t.Fatal("expected a job")
	}
	return job
}

func TestStrictPriorityThenFIFO(t *testing.T) {
	forEachQueue(t, Options{}, func(t *testing.T, q Queue) {
		mustEnqueue(t, q, segmentJob(model.PriorityLow, "low-1"))
		mustEnqueue(t, q, segmentJob(model.PriorityNormal, "normal-1"))
		mustEnqueue(t, q, segmentJob(model.PriorityHigh, "high-1"))
		mustEnqueue(t, q, segmentJob(model.PriorityNormal, "normal-2"))
		mustEnqueue(t, q, segmentJob(model.PriorityHigh, "high-2"))

		want := []string{"high-1", "high-2", "normal-1", "normal-2", "low-1"}
		for _, w := range want {
			job := mustDequeue(t, q)
			if got := tagOf(t, job); got != w {
				t.Fatalf("expected %s, got %s", w, got)
			}
			if job.Status != model.JobStatusRunning || job.Attempts != 1 {
				t.Errorf("claimed job: status=%s attempts=%d", job.Status, job.Attempts)
			}
		}
	})
}

func TestDequeueTimesOutEmpty(t *testing.T) {
	forEachQueue(t, Options{}, func(t *testing.T, q Queue) {
		job, err := q.Dequeue(context.Background(), nil, 20*time.Millisecond)
		if err != nil {
			t.Fatalf("Dequeue: %v", err)
		}
		if job != nil {
			t.Errorf("expected no job, got %s", job.ID)
		}
	})
}

func TestDequeueHonoursContext(t *testing.T) {
	forEachQueue(t, Options{}, func(t *testing.T, q Queue) {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		_, err := q.Dequeue(ctx, nil, time.Minute)
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("expected deadline exceeded, got %v", err)
		}
	})
}

func TestDequeueWakesOnEnqueue(t *testing.T) {
	forEachQueue(t, Options{}, func(t *testing.T, q Queue) {
		var wg sync.WaitGroup
		var got *model.RenderJob
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, _ = q.Dequeue(context.Background(), nil, 2*time.Second)
		}()
		time.Sleep(20 * time.Millisecond)
		id := mustEnqueue(t, q, segmentJob(model.PriorityNormal, "late"))
		wg.Wait()
		if got == nil || got.ID != id {
			t.Fatalf("expected blocked dequeue to receive %s", id)
		}
	})
}

func TestKindFilter(t *testing.T) {
	forEachQueue(t, Options{}, func(t *testing.T, q Queue) {
		mustEnqueue(t, q, segmentJob(model.PriorityHigh, "segment"))
		compID := mustEnqueue(t, q, &model.RenderJob{Kind: model.JobKindComposition, Priority: model.PriorityNormal})

		job := mustDequeue(t, q, model.JobKindComposition)
		if job.ID != compID {
			t.Errorf("expected composition job, got %s", job.Kind)
		}
	})
}

func TestNotBeforeDelaysDelivery(t *testing.T) {
	forEachQueue(t, Options{}, func(t *testing.T, q Queue) {
		job := segmentJob(model.PriorityHigh, "delayed")
		job.NotBefore = time.Now().Add(80 * time.Millisecond)
		mustEnqueue(t, q, job)
		mustEnqueue(t, q, segmentJob(model.PriorityLow, "now"))

		first := mustDequeue(t, q)
		if tagOf(t, first) != "now" {
			t.Fatalf("delayed job delivered early")
		}

		second := mustDequeue(t, q)
		if tagOf(t, second) != "delayed" {
			t.Fatalf("expected delayed job")
		}
		if time.Now().Before(job.NotBefore) {
			t.Errorf("delayed job delivered before its not-before time")
		}
	})
}

func TestAckRecordsResult(t *testing.T) {
	forEachQueue(t, Options{}, func(t *testing.T, q Queue) {
		ctx := context.Background()
		id := mustEnqueue(t, q, segmentJob(model.PriorityNormal, "a"))
		mustDequeue(t, q)

		if err := q.Ack(ctx, id, model.JobResult{ArtifactRef: "ref"}); err != nil {
			t.Fatalf("Ack: %v", err)
		}
		job, err := q.Get(ctx, id)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if job.Status != model.JobStatusCompleted || job.Result == nil || job.Result.ArtifactRef != "ref" {
			t.Errorf("unexpected job after ack: %+v", job)
		}

		if err := q.Ack(ctx, id, model.JobResult{}); !errors.Is(err, ErrNotInFlight) {
			t.Errorf("double ack: expected ErrNotInFlight, got %v", err)
		}
		if err := q.Ack(ctx, "missing", model.JobResult{}); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestNackRedeliversThenDeadLetters(t *testing.T) {
	forEachQueue(t, Options{MaxNacks: 3}, func(t *testing.T, q Queue) {
		ctx := context.Background()
		id := mustEnqueue(t, q, segmentJob(model.PriorityNormal, "flaky"))

		for i := 1; i <= 3; i++ {
			job := mustDequeue(t, q)
			if job.ID != id || job.Attempts != i {
				t.Fatalf("delivery %d: got id=%s attempts=%d", i, job.ID, job.Attempts)
			}
			dead, err := q.Nack(ctx, id, "boom")
			if err != nil {
				t.Fatalf("Nack: %v", err)
			}
			if dead != (i == 3) {
				t.Fatalf("nack %d: dead=%v", i, dead)
			}
		}

		job, _ := q.Dequeue(ctx, nil, 30*time.Millisecond)
		if job != nil {
			t.Fatal("dead-lettered job must not be redelivered")
		}
		stored, _ := q.Get(ctx, id)
		if !stored.DeadLetter || stored.Status != model.JobStatusFailed || stored.LastError != "boom" {
			t.Errorf("unexpected dead-letter record: %+v", stored)
		}
	})
}

func TestVisibilityTimeoutRedelivers(t *testing.T) {
	forEachQueue(t, Options{VisibilityTimeout: 30 * time.Millisecond, MaxNacks: 2}, func(t *testing.T, q Queue) {
		ctx := context.Background()
		id := mustEnqueue(t, q, segmentJob(model.PriorityNormal, "stuck"))
		mustDequeue(t, q)

		time.Sleep(60 * time.Millisecond)
		dead, err := q.Reap(ctx)
		if err != nil {
			t.Fatalf("Reap: %v", err)
		}
		if len(dead) != 0 {
			t.Fatalf("first expiry should redeliver, got %d dead", len(dead))
		}

		again := mustDequeue(t, q)
		if again.ID != id || again.Attempts != 2 {
			t.Fatalf("expected redelivery of %s, got %s (attempts %d)", id, again.ID, again.Attempts)
		}

		time.Sleep(60 * time.Millisecond)
		dead, err = q.Reap(ctx)
		if err != nil {
			t.Fatalf("Reap: %v", err)
		}
		if len(dead) != 1 || dead[0].ID != id {
			t.Fatalf("expected %s to be dead-lettered, got %v", id, dead)
		}

		if err := q.Ack(ctx, id, model.JobResult{}); !errors.Is(err, ErrNotInFlight) {
			t.Errorf("late ack after lease expiry: expected ErrNotInFlight, got %v", err)
		}
	})
}

func TestCancelPendingAndRunning(t *testing.T) {
	forEachQueue(t, Options{}, func(t *testing.T, q Queue) {
		ctx := context.Background()
		running := mustEnqueue(t, q, segmentJob(model.PriorityHigh, "running"))
		pending := mustEnqueue(t, q, segmentJob(model.PriorityNormal, "pending"))
		mustDequeue(t, q)

		if err := q.Cancel(ctx, pending); err != nil {
			t.Fatalf("Cancel pending: %v", err)
		}
		if err := q.Cancel(ctx, running); err != nil {
			t.Fatalf("Cancel running: %v", err)
		}

		if job, _ := q.Dequeue(ctx, nil, 30*time.Millisecond); job != nil {
			t.Fatal("cancelled pending job must not be delivered")
		}

		p, _ := q.Get(ctx, pending)
		if !p.Cancelled || p.Status != model.JobStatusFailed {
			t.Errorf("pending job after cancel: %+v", p)
		}
		r, _ := q.Get(ctx, running)
		if !r.Cancelled || r.Status != model.JobStatusRunning {
			t.Errorf("running job after cancel: %+v", r)
		}
		if err := q.Ack(ctx, running, model.JobResult{Error: "cancelled"}); err != nil {
			t.Errorf("worker ack after cancel: %v", err)
		}
	})
}

func TestEnqueueValidation(t *testing.T) {
	forEachQueue(t, Options{}, func(t *testing.T, q Queue) {
		ctx := context.Background()
		if _, err := q.Enqueue(ctx, &model.RenderJob{Kind: "bogus"}); err == nil {
			t.Error("expected error for unknown kind")
		}
		if _, err := q.Enqueue(ctx, &model.RenderJob{Kind: model.JobKindSegment, Priority: "urgent"}); err == nil {
			t.Error("expected error for unknown priority")
		}

		id := mustEnqueue(t, q, &model.RenderJob{ID: "fixed", Kind: model.JobKindSegment})
		if id != "fixed" {
			t.Errorf("expected caller-chosen id, got %s", id)
		}
		if _, err := q.Enqueue(ctx, &model.RenderJob{ID: "fixed", Kind: model.JobKindSegment}); !errors.Is(err, ErrDuplicate) {
			t.Errorf("expected ErrDuplicate, got %v", err)
		}
	})
}

func TestDepth(t *testing.T) {
	forEachQueue(t, Options{}, func(t *testing.T, q Queue) {
		mustEnqueue(t, q, segmentJob(model.PriorityHigh, "a"))
		mustEnqueue(t, q, segmentJob(model.PriorityLow, "b"))
		mustEnqueue(t, q, segmentJob(model.PriorityLow, "c"))

		depth, err := q.Depth(context.Background())
		if err != nil {
			t.Fatalf("Depth: %v", err)
		}
		if depth[model.PriorityHigh] != 1 || depth[model.PriorityNormal] != 0 || depth[model.PriorityLow] != 2 {
			t.Errorf("unexpected depth: %v", depth)
		}
	})
}

func TestConcurrentConsumersClaimOnce(t *testing.T) {
	forEachQueue(t, Options{}, func(t *testing.T, q Queue) {
		const jobs = 30
		for i := 0; i < jobs; i++ {
			mustEnqueue(t, q, segmentJob(model.PriorityNormal, "x"))
		}

		var mu sync.Mutex
		seen := make(map[string]int)
		var wg sync.WaitGroup
		for w := 0; w < 5; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					job, err := q.Dequeue(context.Background(), nil, 30*time.Millisecond)
					if err != nil || job == nil {
						return
					}
					mu.Lock()
					seen[job.ID]++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		if len(seen) != jobs {
			t.Fatalf("expected %d distinct jobs, got %d", jobs, len(seen))
		}
		for id, n := range seen {
			if n != 1 {
				t.Errorf("job %s claimed %d times", id, n)
			}
		}
	})
}

func TestRedisEnqueueFailureLeavesNoRecord(t *testing.T) {
	q, mr := newRedisQueueWithServer(t, Options{})
	ctx := context.Background()

	// A key of the wrong type makes the push fail.
	list := readyKey(model.JobKindSegment, model.PriorityNormal)
	if err := mr.Set(list, "not-a-list"); err != nil {
		t.Fatal(err)
	}
	job := segmentJob(model.PriorityNormal, "retry")
	job.ID = "job-1"
	if _, err := q.Enqueue(ctx, job); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if _, err := q.Get(ctx, "job-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("failed enqueue left a record behind: %v", err)
	}

	mr.Del(list)
	again := segmentJob(model.PriorityNormal, "retry")
	again.ID = "job-1"
	if _, err := q.Enqueue(ctx, again); err != nil {
		t.Fatalf("re-enqueue with the same id: %v", err)
	}
	if got := mustDequeue(t, q); got.ID != "job-1" {
		t.Errorf("expected job-1, got %s", got.ID)
	}
}

func TestRedisNackFailureKeepsJobInFlight(t *testing.T) {
	q, mr := newRedisQueueWithServer(t, Options{})
	ctx := context.Background()

	id := mustEnqueue(t, q, segmentJob(model.PriorityNormal, "flaky"))
	mustDequeue(t, q)

	list := readyKey(model.JobKindSegment, model.PriorityNormal)
	if err := mr.Set(list, "not-a-list"); err != nil {
		t.Fatal(err)
	}
	if _, err := q.Nack(ctx, id, "boom"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	job, err := q.Get(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if job.Status != model.JobStatusRunning || job.Nacks != 0 {
		t.Errorf("failed nack changed the job: status=%s nacks=%d", job.Status, job.Nacks)
	}

	// The lease is still held, so the nack can be repeated.
	mr.Del(list)
	dead, err := q.Nack(ctx, id, "boom")
	if err != nil || dead {
		t.Fatalf("Nack: dead=%v err=%v", dead, err)
	}
	if got := mustDequeue(t, q); got.ID != id {
		t.Errorf("expected %s to be redelivered, got %s", id, got.ID)
	}
}

func TestReapDropsFinishedJobsPastRetention(t *testing.T) {
	forEachQueue(t, Options{Retention: time.Millisecond}, func(t *testing.T, q Queue) {
		ctx := context.Background()
		acked := mustEnqueue(t, q, segmentJob(model.PriorityNormal, "done"))
		mustDequeue(t, q)
		if err := q.Ack(ctx, acked, model.JobResult{ArtifactRef: "ref"}); err != nil {
			t.Fatal(err)
		}
		cancelled := mustEnqueue(t, q, segmentJob(model.PriorityNormal, "cancelled"))
		if err := q.Cancel(ctx, cancelled); err != nil {
			t.Fatal(err)
		}
		running := mustEnqueue(t, q, segmentJob(model.PriorityNormal, "running"))
		mustDequeue(t, q)

		time.Sleep(10 * time.Millisecond)
		if _, err := q.Reap(ctx); err != nil {
			t.Fatalf("Reap: %v", err)
		}

		for _, id := range []string{acked, cancelled} {
			if _, err := q.Get(ctx, id); !errors.Is(err, ErrNotFound) {
				t.Errorf("job %s should have been dropped, got %v", id, err)
			}
		}
		if _, err := q.Get(ctx, running); err != nil {
			t.Errorf("running job must be kept: %v", err)
		}
	})
}
