package runner

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"camclass/pkg/checkpoint"
	"camclass/pkg/classifier"
	errs "camclass/pkg/errors"
	"camclass/pkg/metadata"
	"camclass/pkg/models"
	"camclass/pkg/walker"
)

// testTree writes a small survey tree and returns its root plus the
// absolute image paths in enumeration order.
func testTree(t *testing.T, files ...string) (string, []string) {
	t.Helper()
	root := t.TempDir()
	paths := make([]string, 0, len(files))
	for _, f := range files {
		full := filepath.Join(root, filepath.FromSlash(f))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0755))
		require.NoError(t, os.WriteFile(full, []byte("x"), 0644))
		paths = append(paths, full)
	}
	return root, paths
}

func noTimestamp(string) (time.Time, bool) { return time.Time{}, false }

func constClassifier(label string) classifier.Func {
	return func(ctx context.Context, path string) (models.Prediction, error) {
		return models.Prediction{Label: label, Confidence: 0.95}, nil
	}
}

func newTestRunner(t *testing.T, cls classifier.Classifier, opts ...Option) (*Runner, *checkpoint.Store) {
	t.Helper()
	store := checkpoint.NewStore(filepath.Join(t.TempDir(), "checkpoint.json"))
	r := New(store, walker.New(), cls, metadata.Func(noTimestamp), opts...)
	return r, store
}

func TestRunCompletes(t *testing.T) {
	root, paths := testTree(t,
		"BlockA/Cam1/GaurFolder/1.jpg",
		"BlockA/Cam1/GaurFolder/2.jpg",
		"BlockA/Cam1/TigerFolder/1.jpg",
	)

	captured := time.Date(2026, 3, 14, 6, 30, 0, 0, time.UTC)
	store := checkpoint.NewStore(filepath.Join(t.TempDir(), "checkpoint.json"))
	r := New(store, walker.New(), constClassifier("Bos gaurus"),
		metadata.Func(func(string) (time.Time, bool) { return captured, true }))

	run, err := r.Start(context.Background(), root, nil)
	require.NoError(t, err)

	assert.Equal(t, StateCompleted, run.Wait())
	require.NoError(t, run.Err())

	p := run.Progress()
	assert.Equal(t, 3, p.Total)
	assert.Equal(t, 3, p.Processed)
	assert.Equal(t, 3, p.Succeeded)

	persisted, err := store.Load()
	require.NoError(t, err)
	require.NotNil(t, persisted)
	assert.True(t, persisted.Completed())
	require.Len(t, persisted.Results, 3)

	result := persisted.Results[paths[0]]
	assert.Equal(t, models.StatusSuccess, result.Status)
	assert.Equal(t, "Bos gaurus", result.Label)
	assert.Equal(t, 1, result.Attempts)
	require.NotNil(t, result.CapturedAt)
	assert.True(t, result.CapturedAt.Equal(captured))
}

func TestResumeDoesNotReclassify(t *testing.T) {
	root, _ := testTree(t,
		"BlockA/Cam1/Gaur/1.jpg",
		"BlockA/Cam1/Gaur/2.jpg",
	)

	var calls atomic.Int32
	cls := classifier.Func(func(ctx context.Context, path string) (models.Prediction, error) {
		calls.Add(1)
		return models.Prediction{Label: "Bos gaurus", Confidence: 0.95}, nil
	})
	r, store := newTestRunner(t, cls)

	run, err := r.Start(context.Background(), root, nil)
	require.NoError(t, err)
	require.Equal(t, StateCompleted, run.Wait())
	require.EqualValues(t, 2, calls.Load())

	prior, err := store.Load()
	require.NoError(t, err)

	// Every item is already recorded; the resumed run must finish without
	// a single new classification.
	resumed, err := r.Start(context.Background(), root, prior)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, resumed.Wait())
	assert.EqualValues(t, 2, calls.Load())
}

func TestResumeRetriesFailedItems(t *testing.T) {
	root, paths := testTree(t,
		"BlockA/Cam1/Gaur/1.jpg",
		"BlockA/Cam1/Gaur/2.jpg",
	)
	flaky := paths[0]

	var calls atomic.Int32
	failing := classifier.Func(func(ctx context.Context, path string) (models.Prediction, error) {
		calls.Add(1)
		if path == flaky {
			return models.Prediction{}, errs.New(errs.ErrorTypeNetwork, "connection reset")
		}
		return models.Prediction{Label: "Bos gaurus", Confidence: 0.95}, nil
	})
	r, store := newTestRunner(t, failing)

	run, err := r.Start(context.Background(), root, nil)
	require.NoError(t, err)
	require.Equal(t, StateCompleted, run.Wait())
	assert.Equal(t, 1, run.Progress().Failed)

	prior, err := store.Load()
	require.NoError(t, err)
	require.Equal(t, models.StatusFailed, prior.Results[flaky].Status)

	// Second run with a healthy classifier retries only the failed item.
	healthy, _ := newTestRunner(t, constClassifier("Bos gaurus"))
	resumed, err := healthy.Start(context.Background(), root, prior)
	require.NoError(t, err)
	require.Equal(t, StateCompleted, resumed.Wait())

	final := resumed.Snapshot()
	got := final.Results[flaky]
	assert.Equal(t, models.StatusSuccess, got.Status)
	assert.Equal(t, 2, got.Attempts)
	assert.Empty(t, got.Error)
}

func TestIncompatibleResumeRejected(t *testing.T) {
	root, _ := testTree(t, "BlockA/Cam1/Gaur/1.jpg")

	prior := checkpoint.NewRunState("old-run", "/some/other/root")
	prior.Results["/some/other/root/x.jpg"] = models.ClassificationResult{Status: models.StatusSuccess}

	r, _ := newTestRunner(t, constClassifier("Bos gaurus"))
	_, err := r.Start(context.Background(), root, prior)

	var typed *errs.Error
	require.ErrorAs(t, err, &typed)
	assert.Equal(t, errs.ErrorTypeIncompatibleResume, typed.Type)

	// The rejected prior state must be untouched.
	assert.Equal(t, "/some/other/root", prior.RootPath)
	assert.Len(t, prior.Results, 1)
}

func TestSecondStartRejectedWhileActive(t *testing.T) {
	root, _ := testTree(t, "BlockA/Cam1/Gaur/1.jpg")

	proceed := make(chan struct{})
	blocking := classifier.Func(func(ctx context.Context, path string) (models.Prediction, error) {
		<-proceed
		return models.Prediction{Label: "Bos gaurus", Confidence: 0.95}, nil
	})
	r, _ := newTestRunner(t, blocking)

	run, err := r.Start(context.Background(), root, nil)
	require.NoError(t, err)

	_, err = r.Start(context.Background(), root, nil)
	var typed *errs.Error
	require.ErrorAs(t, err, &typed)
	assert.Equal(t, errs.ErrorTypeRunAlreadyActive, typed.Type)

	close(proceed)
	require.Equal(t, StateCompleted, run.Wait())

	// Once the first run released the lock a new run may start.
	again, err := r.Start(context.Background(), root, run.Snapshot())
	require.NoError(t, err)
	require.Equal(t, StateCompleted, again.Wait())
}

func TestPauseStopsAtItemBoundary(t *testing.T) {
	root, paths := testTree(t,
		"BlockA/Cam1/Gaur/1.jpg",
		"BlockA/Cam1/Gaur/2.jpg",
		"BlockA/Cam1/Gaur/3.jpg",
	)

	started := make(chan string)
	proceed := make(chan struct{}, len(paths))
	var calls atomic.Int32
	cls := classifier.Func(func(ctx context.Context, path string) (models.Prediction, error) {
		calls.Add(1)
		started <- path
		<-proceed
		return models.Prediction{Label: "Bos gaurus", Confidence: 0.95}, nil
	})
	r, store := newTestRunner(t, cls)

	run, err := r.Start(context.Background(), root, nil)
	require.NoError(t, err)

	// Pause while the first item is in flight: it must still complete and
	// be recorded before the run parks.
	<-started
	require.NoError(t, run.Pause())
	proceed <- struct{}{}

	assert.Equal(t, StatePaused, run.Wait())
	require.NoError(t, run.Err())
	assert.EqualValues(t, 1, calls.Load())

	persisted, err := store.Load()
	require.NoError(t, err)
	require.Len(t, persisted.Results, 1)
	assert.Equal(t, models.StatusSuccess, persisted.Results[paths[0]].Status)
	assert.False(t, persisted.Completed())

	// Resume finishes the remaining two without touching the first.
	fast, _ := newTestRunner(t, constClassifier("Bos gaurus"))
	fast.store = store
	resumed, err := fast.Start(context.Background(), root, persisted)
	require.NoError(t, err)
	require.Equal(t, StateCompleted, resumed.Wait())
	assert.Len(t, resumed.Snapshot().Results, 3)
}

func TestCancelKeepsCheckpoint(t *testing.T) {
	root, paths := testTree(t,
		"BlockA/Cam1/Gaur/1.jpg",
		"BlockA/Cam1/Gaur/2.jpg",
	)

	started := make(chan string)
	proceed := make(chan struct{}, len(paths))
	cls := classifier.Func(func(ctx context.Context, path string) (models.Prediction, error) {
		started <- path
		<-proceed
		return models.Prediction{Label: "Bos gaurus", Confidence: 0.95}, nil
	})
	r, store := newTestRunner(t, cls)

	run, err := r.Start(context.Background(), root, nil)
	require.NoError(t, err)

	<-started
	require.NoError(t, run.Cancel())
	proceed <- struct{}{}

	assert.Equal(t, StateCancelled, run.Wait())
	assert.True(t, run.State().Terminal())

	// The checkpoint survives cancellation and remains resumable.
	persisted, err := store.Load()
	require.NoError(t, err)
	require.NotNil(t, persisted)
	require.Len(t, persisted.Results, 1)
	assert.Equal(t, models.StatusSuccess, persisted.Results[paths[0]].Status)
	assert.False(t, persisted.Completed())
}

func TestCancelWhilePaused(t *testing.T) {
	root, _ := testTree(t,
		"BlockA/Cam1/Gaur/1.jpg",
		"BlockA/Cam1/Gaur/2.jpg",
	)

	started := make(chan string)
	proceed := make(chan struct{}, 2)
	cls := classifier.Func(func(ctx context.Context, path string) (models.Prediction, error) {
		started <- path
		<-proceed
		return models.Prediction{Label: "Bos gaurus", Confidence: 0.95}, nil
	})
	r, _ := newTestRunner(t, cls)

	run, err := r.Start(context.Background(), root, nil)
	require.NoError(t, err)

	<-started
	require.NoError(t, run.Pause())
	proceed <- struct{}{}
	require.Equal(t, StatePaused, run.Wait())

	require.NoError(t, run.Cancel())
	assert.Equal(t, StateCancelled, run.State())
}

func TestControlsRejectedOnTerminalRun(t *testing.T) {
	root, _ := testTree(t, "BlockA/Cam1/Gaur/1.jpg")

	r, _ := newTestRunner(t, constClassifier("Bos gaurus"))
	run, err := r.Start(context.Background(), root, nil)
	require.NoError(t, err)
	require.Equal(t, StateCompleted, run.Wait())

	var typed *errs.Error
	require.ErrorAs(t, run.Pause(), &typed)
	assert.Equal(t, errs.ErrorTypeRunNotActive, typed.Type)

	require.ErrorAs(t, run.Cancel(), &typed)
	assert.Equal(t, errs.ErrorTypeRunNotActive, typed.Type)
}

func TestGiveUpConvertsRepeatedFailuresToSkipped(t *testing.T) {
	root, paths := testTree(t,
		"BlockA/Cam1/Gaur/1.jpg",
		"BlockA/Cam1/Gaur/2.jpg",
	)
	hopeless := paths[0]

	absRoot, err := filepath.Abs(root)
	require.NoError(t, err)

	prior := checkpoint.NewRunState("old-run", absRoot)
	prior.Results[hopeless] = models.ClassificationResult{
		Item:     models.WorkItem{Path: hopeless},
		Status:   models.StatusFailed,
		Error:    "corrupt image data",
		Attempts: 2,
	}

	var calls atomic.Int32
	var classifiedHopeless atomic.Bool
	cls := classifier.Func(func(ctx context.Context, path string) (models.Prediction, error) {
		calls.Add(1)
		if path == hopeless {
			classifiedHopeless.Store(true)
		}
		return models.Prediction{Label: "Bos gaurus", Confidence: 0.95}, nil
	})
	r, store := newTestRunner(t, cls, WithGiveUpAfter(2))

	run, err := r.Start(context.Background(), root, prior)
	require.NoError(t, err)
	require.Equal(t, StateCompleted, run.Wait())
	assert.EqualValues(t, 1, calls.Load())
	assert.False(t, classifiedHopeless.Load(), "given-up item must not be reclassified")

	persisted, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, models.StatusSkipped, persisted.Results[hopeless].Status)
}

func TestStartFailsWhenCheckpointUnwritable(t *testing.T) {
	root, _ := testTree(t, "BlockA/Cam1/Gaur/1.jpg")

	// The checkpoint parent "directory" is a regular file, so the very
	// first save fails before any classification happens.
	blocker := filepath.Join(t.TempDir(), "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0644))
	store := checkpoint.NewStore(filepath.Join(blocker, "checkpoint.json"))

	var calls atomic.Int32
	cls := classifier.Func(func(ctx context.Context, path string) (models.Prediction, error) {
		calls.Add(1)
		return models.Prediction{Label: "Bos gaurus", Confidence: 0.95}, nil
	})
	r := New(store, walker.New(), cls, metadata.Func(noTimestamp))

	_, err := r.Start(context.Background(), root, nil)
	require.Error(t, err)
	assert.EqualValues(t, 0, calls.Load())
}

func TestContextCancellationStopsRun(t *testing.T) {
	root, _ := testTree(t,
		"BlockA/Cam1/Gaur/1.jpg",
		"BlockA/Cam1/Gaur/2.jpg",
	)

	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan string)
	cls := classifier.Func(func(ctx context.Context, path string) (models.Prediction, error) {
		started <- path
		<-ctx.Done()
		return models.Prediction{}, ctx.Err()
	})
	r, store := newTestRunner(t, cls)

	run, err := r.Start(ctx, root, nil)
	require.NoError(t, err)

	<-started
	cancel()

	assert.Equal(t, StateCancelled, run.Wait())

	// The interrupted in-flight item is abandoned unrecorded.
	persisted, err := store.Load()
	require.NoError(t, err)
	assert.Empty(t, persisted.Results)
}

func TestSnapshotWhileRunning(t *testing.T) {
	root, _ := testTree(t,
		"BlockA/Cam1/Gaur/1.jpg",
		"BlockA/Cam1/Gaur/2.jpg",
		"BlockA/Cam1/Gaur/3.jpg",
		"BlockA/Cam1/Gaur/4.jpg",
		"BlockA/Cam1/Gaur/5.jpg",
		"BlockA/Cam1/Gaur/6.jpg",
		"BlockA/Cam1/Gaur/7.jpg",
		"BlockA/Cam1/Gaur/8.jpg",
	)

	cls := classifier.Func(func(ctx context.Context, path string) (models.Prediction, error) {
		time.Sleep(time.Millisecond)
		return models.Prediction{Label: "Bos gaurus", Confidence: 0.95}, nil
	})
	r, _ := newTestRunner(t, cls)

	run, err := r.Start(context.Background(), root, nil)
	require.NoError(t, err)

	// Hammer the read side while the worker records and saves. Every
	// snapshot must be internally consistent; under the race detector this
	// also proves the worker never touches shared state outside the lock.
	observed := make(chan int, 1)
	go func() {
		maxSeen := 0
		for {
			select {
			case <-run.Done():
				observed <- maxSeen
				return
			default:
				s := run.Snapshot()
				if len(s.Results) > maxSeen {
					maxSeen = len(s.Results)
				}
				p := run.Progress()
				if p.Processed > p.Total {
					t.Errorf("Processed %d exceeds total %d", p.Processed, p.Total)
					observed <- maxSeen
					return
				}
			}
		}
	}()

	require.Equal(t, StateCompleted, run.Wait())
	maxSeen := <-observed
	assert.LessOrEqual(t, maxSeen, 8)
	assert.Len(t, run.Snapshot().Results, 8)
}

func TestResumeCompletedRunWithNewImages(t *testing.T) {
	root, _ := testTree(t, "BlockA/Cam1/Gaur/1.jpg")

	r, store := newTestRunner(t, constClassifier("Bos gaurus"))
	run, err := r.Start(context.Background(), root, nil)
	require.NoError(t, err)
	require.Equal(t, StateCompleted, run.Wait())

	// New images arrive under the same root after the run finished.
	writeFile := filepath.Join(root, "BlockA", "Cam1", "Gaur", "2.jpg")
	require.NoError(t, os.WriteFile(writeFile, []byte("x"), 0644))

	prior, err := store.Load()
	require.NoError(t, err)
	require.True(t, prior.Completed())

	started := make(chan string)
	proceed := make(chan struct{})
	blocking := classifier.Func(func(ctx context.Context, path string) (models.Prediction, error) {
		started <- path
		<-proceed
		return models.Prediction{Label: "Bos gaurus", Confidence: 0.95}, nil
	})
	r2, _ := newTestRunner(t, blocking)
	r2.store = store

	resumed, err := r2.Start(context.Background(), root, prior)
	require.NoError(t, err)

	// With work pending the run is not complete, in memory or on disk.
	<-started
	assert.False(t, resumed.Snapshot().Completed())
	midRun, err := store.Load()
	require.NoError(t, err)
	assert.False(t, midRun.Completed())

	close(proceed)
	require.Equal(t, StateCompleted, resumed.Wait())

	final := resumed.Snapshot()
	assert.Len(t, final.Results, 2)
	assert.True(t, final.Completed())
}

func TestResumeWithoutCheckpoint(t *testing.T) {
	r, _ := newTestRunner(t, constClassifier("Bos gaurus"))

	_, err := r.Resume(context.Background())
	var typed *errs.Error
	require.ErrorAs(t, err, &typed)
	assert.Equal(t, errs.ErrorTypeNotFound, typed.Type)
}

func TestResumeFromDisk(t *testing.T) {
	root, _ := testTree(t,
		"BlockA/Cam1/Gaur/1.jpg",
		"BlockA/Cam1/Gaur/2.jpg",
	)

	r, store := newTestRunner(t, constClassifier("Bos gaurus"))
	run, err := r.Start(context.Background(), root, nil)
	require.NoError(t, err)
	require.Equal(t, StateCompleted, run.Wait())

	resumed, err := r.Resume(context.Background())
	require.NoError(t, err)
	require.Equal(t, StateCompleted, resumed.Wait())

	persisted, err := store.Load()
	require.NoError(t, err)
	assert.Len(t, persisted.Results, 2)
	assert.True(t, persisted.Completed())
}
