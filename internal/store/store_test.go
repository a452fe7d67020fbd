package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/QFiSouthaven/Jynco-sub001/internal/model"
)

// forEachStore runs fn against the memory store, a SQLite-backed GORM store
// and, when RENDER_TEST_MYSQL_DSN is set, a MySQL-backed one.
func forEachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Helper()
	t.Run("memory", func(t *testing.T) { fn(t, NewMemoryStore()) })
	t.Run("sqlite", func(t *testing.T) {
		dsn := filepath.Join(t.TempDir(), "render.db") + "?_pragma=busy_timeout(5000)"
		s, err := OpenGorm("sqlite", dsn, "")
		if err != nil {
			t.Fatalf("OpenGorm: %v", err)
		}
		t.Cleanup(func() { s.Close() })
		fn(t, s)
	})
	t.Run("mysql", func(t *testing.T) {
		dsn := os.Getenv("RENDER_TEST_MYSQL_DSN")
		if dsn == "" {
			t.Skip("RENDER_TEST_MYSQL_DSN not set")
		}
		s, err := OpenGorm("mysql", dsn, "")
		if err != nil {
			t.Fatalf("OpenGorm: %v", err)
		}
		t.Cleanup(func() { s.Close() })
		fn(t, s)
	})
}

func newSegment(prompt string) model.Segment {
	return model.Segment{
		ID:        uuid.New().String(),
		Directive: model.Directive{Backend: "mock", Prompt: prompt, Params: map[string]interface{}{"duration": 5.0}},
		Status:    model.SegmentPending,
	}
}

func createProject(t *testing.T, s Store, prompts ...string) (*model.Project, []model.Segment) {
	t.Helper()
	p := &model.Project{ID: uuid.New().String(), Name: "demo", Output: model.OutputConfig{}.WithDefaults()}
	segs := make([]model.Segment, 0, len(prompts))
	for _, pr := range prompts {
		segs = append(segs, newSegment(pr))
	}
	if err := s.CreateProject(context.Background(), p, segs); err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	return p, segs
}

func prompts(segs []model.Segment) []string {
	out := make([]string, len(segs))
	for i, s := range segs {
		out[i] = s.Directive.Prompt
	}
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestCreateAndLoad(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		p, _ := createProject(t, s, "a", "b", "c")

		loaded, segs, err := s.Load(context.Background(), p.ID)
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if loaded.Name != "demo" || loaded.Output.Resolution != "1080p" {
			t.Errorf("unexpected project: %+v", loaded)
		}
		if got := prompts(segs); !equal(got, []string{"a", "b", "c"}) {
			t.Errorf("unexpected order: %v", got)
		}
		for i, seg := range segs {
			if seg.OrderIndex != i || seg.ProjectID != p.ID || seg.Status != model.SegmentPending {
				t.Errorf("segment %d: %+v", i, seg)
			}
			if seg.Directive.Params["duration"] != 5.0 {
				t.Errorf("params not preserved: %v", seg.Directive.Params)
			}
		}
		if !equal(loaded.SegmentIDs, []string{segs[0].ID, segs[1].ID, segs[2].ID}) {
			t.Errorf("segment ids out of order: %v", loaded.SegmentIDs)
		}

		if _, _, err := s.Load(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestAddRemoveReorder(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		p, segs := createProject(t, s, "a", "b", "c")

		inserted := newSegment("x")
		if err := s.AddSegment(ctx, p.ID, &inserted, 1); err != nil {
			t.Fatalf("AddSegment: %v", err)
		}
		appended := newSegment("z")
		if err := s.AddSegment(ctx, p.ID, &appended, -1); err != nil {
			t.Fatalf("AddSegment: %v", err)
		}
		_, loaded, _ := s.Load(ctx, p.ID)
		if got := prompts(loaded); !equal(got, []string{"a", "x", "b", "c", "z"}) {
			t.Fatalf("after add: %v", got)
		}

		if err := s.RemoveSegment(ctx, segs[1].ID); err != nil {
			t.Fatalf("RemoveSegment: %v", err)
		}
		_, loaded, _ = s.Load(ctx, p.ID)
		if got := prompts(loaded); !equal(got, []string{"a", "x", "c", "z"}) {
			t.Fatalf("after remove: %v", got)
		}

		order := []string{loaded[3].ID, loaded[2].ID, loaded[1].ID, loaded[0].ID}
		if err := s.ReorderSegments(ctx, p.ID, order); err != nil {
			t.Fatalf("ReorderSegments: %v", err)
		}
		_, loaded, _ = s.Load(ctx, p.ID)
		if got := prompts(loaded); !equal(got, []string{"z", "c", "x", "a"}) {
			t.Fatalf("after reorder: %v", got)
		}
		for i, seg := range loaded {
			if seg.OrderIndex != i {
				t.Errorf("segment %s has order index %d, want %d", seg.ID, seg.OrderIndex, i)
			}
		}

		if err := s.ReorderSegments(ctx, p.ID, order[:2]); !errors.Is(err, ErrInvalidOrder) {
			t.Errorf("expected ErrInvalidOrder, got %v", err)
		}
		if err := s.RemoveSegment(ctx, "missing"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestUpdateSegmentCompareAndSwap(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		_, segs := createProject(t, s, "a")
		id := segs[0].ID

		queued, err := s.UpdateSegment(ctx, id, ExpectStatus(model.SegmentPending), func(seg *model.Segment) {
			seg.Status = model.SegmentQueued
			seg.JobID = "job-1"
			seg.Attempts = 1
		})
		if err != nil {
			t.Fatalf("pending→queued: %v", err)
		}
		if queued.Version != 2 {
			t.Errorf("expected version bump, got %d", queued.Version)
		}

		_, err = s.UpdateSegment(ctx, id, ExpectStatus(model.SegmentPending), func(seg *model.Segment) {
			seg.Status = model.SegmentQueued
		})
		if !errors.Is(err, ErrConflict) {
			t.Errorf("stale status: expected ErrConflict, got %v", err)
		}

		_, err = s.UpdateSegment(ctx, id, ExpectStatus(model.SegmentQueued).WithJob("job-0"), func(seg *model.Segment) {
			seg.Status = model.SegmentGenerating
		})
		if !errors.Is(err, ErrConflict) {
			t.Errorf("stale job: expected ErrConflict, got %v", err)
		}

		_, err = s.UpdateSegment(ctx, id, ExpectStatus(model.SegmentQueued).WithJob("job-1"), func(seg *model.Segment) {
			seg.Status = model.SegmentGenerating
		})
		if err != nil {
			t.Fatalf("queued→generating: %v", err)
		}

		got, _ := s.GetSegment(ctx, id)
		if got.Status != model.SegmentGenerating || got.JobID != "job-1" || got.Attempts != 1 {
			t.Errorf("unexpected segment: %+v", got)
		}
	})
}

func TestUpdateSegmentRejectsInconsistentState(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		_, segs := createProject(t, s, "a")

		_, err := s.UpdateSegment(ctx, segs[0].ID, Expect{}, func(seg *model.Segment) {
			seg.Status = model.SegmentCompleted
		})
		if !errors.Is(err, ErrInvalidSegment) {
			t.Errorf("completed without artifact: expected ErrInvalidSegment, got %v", err)
		}

		_, err = s.UpdateSegment(ctx, segs[0].ID, Expect{}, func(seg *model.Segment) {
			seg.Status = model.SegmentFailed
		})
		if !errors.Is(err, ErrInvalidSegment) {
			t.Errorf("failed without error: expected ErrInvalidSegment, got %v", err)
		}

		done, err := s.UpdateSegment(ctx, segs[0].ID, Expect{}, func(seg *model.Segment) {
			seg.Status = model.SegmentFailed
			seg.Error = &model.ErrorRecord{Message: "bad prompt", Permanent: true, Attempts: 1}
		})
		if err != nil {
			t.Fatalf("UpdateSegment: %v", err)
		}
		if done.Error == nil || done.Error.Message != "bad prompt" {
			t.Errorf("error record not stored: %+v", done.Error)
		}

		reloaded, _ := s.GetSegment(ctx, segs[0].ID)
		if reloaded.Error == nil || !reloaded.Error.Permanent {
			t.Errorf("error record not persisted: %+v", reloaded.Error)
		}
	})
}

func TestConcurrentTransitionsExactlyOneWins(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		_, segs := createProject(t, s, "a")
		id := segs[0].ID
		_, err := s.UpdateSegment(ctx, id, Expect{}, func(seg *model.Segment) {
			seg.Status = model.SegmentGenerating
			seg.JobID = "job-1"
		})
		if err != nil {
			t.Fatal(err)
		}

		const writers = 8
		var wg sync.WaitGroup
		errs := make([]error, writers)
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = s.UpdateSegment(ctx, id, ExpectStatus(model.SegmentGenerating), func(seg *model.Segment) {
					seg.Status = model.SegmentCompleted
					seg.ArtifactRef = "ref"
					seg.Fingerprint = "fp"
				})
			}(i)
		}
		wg.Wait()

		wins := 0
		for _, err := range errs {
			switch {
			case err == nil:
				wins++
			case errors.Is(err, ErrConflict):
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}
		if wins != 1 {
			t.Errorf("expected exactly one winner, got %d", wins)
		}
	})
}

func TestDifferentExpectationsOneConflict(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		_, segs := createProject(t, s, "a")
		id := segs[0].ID
		s.UpdateSegment(ctx, id, Expect{}, func(seg *model.Segment) { seg.Status = model.SegmentGenerating })

		var wg sync.WaitGroup
		var errA, errB error
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, errA = s.UpdateSegment(ctx, id, ExpectStatus(model.SegmentGenerating), func(seg *model.Segment) {
				seg.Status = model.SegmentCompleted
				seg.ArtifactRef, seg.Fingerprint = "ref", "fp"
			})
		}()
		go func() {
			defer wg.Done()
			_, errB = s.UpdateSegment(ctx, id, ExpectStatus(model.SegmentQueued), func(seg *model.Segment) {
				seg.Status = model.SegmentGenerating
			})
		}()
		wg.Wait()

		if errA != nil {
			t.Errorf("matching expectation should win: %v", errA)
		}
		if !errors.Is(errB, ErrConflict) {
			t.Errorf("mismatching expectation should conflict: %v", errB)
		}
	})
}

func TestRenders(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		p, _ := createProject(t, s, "a")

		if _, err := s.LatestRender(ctx, p.ID); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected no render yet, got %v", err)
		}

		first := &model.Render{ID: uuid.New().String(), ProjectID: p.ID}
		if err := s.CreateRender(ctx, first); err != nil {
			t.Fatalf("CreateRender: %v", err)
		}
		second := &model.Render{ID: uuid.New().String(), ProjectID: p.ID, Interactive: true}
		if err := s.CreateRender(ctx, second); err != nil {
			t.Fatalf("CreateRender: %v", err)
		}

		latest, err := s.LatestRender(ctx, p.ID)
		if err != nil || latest.ID != second.ID || !latest.Interactive {
			t.Fatalf("LatestRender = %+v, %v", latest, err)
		}

		errTaken := errors.New("taken")
		claim := func(r *model.Render) error {
			if r.CompositionJobID != "" {
				return errTaken
			}
			r.CompositionJobID = "comp-1"
			r.CompositionStatus = model.CompositionDispatched
			return nil
		}
		updated, err := s.UpdateRender(ctx, second.ID, claim)
		if err != nil {
			t.Fatalf("UpdateRender: %v", err)
		}
		if updated.CompositionJobID != "comp-1" || updated.Version != 2 {
			t.Errorf("unexpected render: %+v", updated)
		}
		if _, err := s.UpdateRender(ctx, second.ID, claim); !errors.Is(err, errTaken) {
			t.Errorf("second claim should be refused, got %v", err)
		}

		if err := s.CreateRender(ctx, &model.Render{ID: uuid.New().String(), ProjectID: "missing"}); !errors.Is(err, ErrNotFound) {
			t.Errorf("render for unknown project: expected ErrNotFound, got %v", err)
		}
	})
}

func TestDeleteProjectCascades(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		p, segs := createProject(t, s, "a", "b")
		r := &model.Render{ID: uuid.New().String(), ProjectID: p.ID}
		s.CreateRender(ctx, r)

		if err := s.DeleteProject(ctx, p.ID); err != nil {
			t.Fatalf("DeleteProject: %v", err)
		}
		if _, err := s.GetSegment(ctx, segs[0].ID); !errors.Is(err, ErrNotFound) {
			t.Errorf("segment survived delete: %v", err)
		}
		if _, err := s.GetRender(ctx, r.ID); !errors.Is(err, ErrNotFound) {
			t.Errorf("render survived delete: %v", err)
		}
		if err := s.DeleteProject(ctx, p.ID); !errors.Is(err, ErrNotFound) {
			t.Errorf("second delete: expected ErrNotFound, got %v", err)
		}
	})
}

func TestUpdateSegmentRejectsStaleVersion(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		_, segs := createProject(t, s, "a")
		read, err := s.GetSegment(ctx, segs[0].ID)
		if err != nil {
			t.Fatal(err)
		}

		// An edit lands after read was taken; the segment is still pending.
		_, err = s.UpdateSegment(ctx, read.ID, ExpectStatus(model.SegmentPending), func(seg *model.Segment) {
			seg.Directive.Prompt = "edited"
		})
		if err != nil {
			t.Fatalf("edit: %v", err)
		}

		_, err = s.UpdateSegment(ctx, read.ID, Unchanged(read), func(seg *model.Segment) {
			seg.Status = model.SegmentQueued
			seg.JobID = "job-1"
			seg.Attempts = 1
		})
		if !errors.Is(err, ErrConflict) {
			t.Fatalf("write based on a stale read: expected ErrConflict, got %v", err)
		}
		got, _ := s.GetSegment(ctx, read.ID)
		if got.Status != model.SegmentPending || got.Directive.Prompt != "edited" {
			t.Errorf("edit was overwritten: %+v", got)
		}
	})
}

func TestActiveProjects(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		createProject(t, s, "a") // idle
		generating, segs := createProject(t, s, "a", "b")
		composing, _ := createProject(t, s, "a")
		superseded, _ := createProject(t, s, "a")

		_, err := s.UpdateSegment(ctx, segs[1].ID, ExpectStatus(model.SegmentPending), func(seg *model.Segment) {
			seg.Status = model.SegmentQueued
			seg.JobID = "job-1"
			seg.Attempts = 1
		})
		if err != nil {
			t.Fatal(err)
		}

		r := &model.Render{ID: uuid.New().String(), ProjectID: composing.ID}
		s.CreateRender(ctx, r)
		s.UpdateRender(ctx, r.ID, func(r *model.Render) error {
			r.CompositionJobID = "comp-1"
			r.CompositionStatus = model.CompositionQueued
			return nil
		})

		// Only the current render counts.
		old := &model.Render{ID: uuid.New().String(), ProjectID: superseded.ID}
		s.CreateRender(ctx, old)
		s.UpdateRender(ctx, old.ID, func(r *model.Render) error {
			r.CompositionJobID = "comp-2"
			r.CompositionStatus = model.CompositionQueued
			return nil
		})
		s.CreateRender(ctx, &model.Render{ID: uuid.New().String(), ProjectID: superseded.ID})

		got, err := s.ActiveProjects(ctx)
		if err != nil {
			t.Fatalf("ActiveProjects: %v", err)
		}
		want := []string{generating.ID, composing.ID}
		if want[0] > want[1] {
			want[0], want[1] = want[1], want[0]
		}
		if !equal(got, want) {
			t.Errorf("ActiveProjects = %v, want %v", got, want)
		}
	})
}
