package runner

import (
	"context"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"camclass/pkg/checkpoint"
	"camclass/pkg/classifier"
	errs "camclass/pkg/errors"
	"camclass/pkg/logger"
	"camclass/pkg/metadata"
	"camclass/pkg/models"
	"camclass/pkg/walker"
)

// Runner drives batch classification runs. It wires the enumerator,
// classifier, metadata extractor and checkpoint store together and
// enforces that at most one run is active per checkpoint at a time.
type Runner struct {
	store       *checkpoint.Store
	walker      *walker.Walker
	classifier  classifier.Classifier
	extractor   metadata.Extractor
	giveUpAfter int
	logger      logger.Logger
}

// Option configures a Runner
type Option func(*Runner)

// WithGiveUpAfter marks items Skipped once they have failed in n runs.
// Zero disables the policy; failed items then retry on every resume.
func WithGiveUpAfter(n int) Option {
	return func(r *Runner) {
		r.giveUpAfter = n
	}
}

// New creates a batch runner
func New(store *checkpoint.Store, w *walker.Walker, cls classifier.Classifier, ext metadata.Extractor, opts ...Option) *Runner {
	r := &Runner{
		store:      store,
		walker:     w,
		classifier: cls,
		extractor:  ext,
		logger:     logger.GetLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// pendingItem is one unit of work the background worker still has to do
type pendingItem struct {
	item     models.WorkItem
	index    int
	attempts int
}

// Start begins a run over rootPath, optionally resuming from prior state.
//
// The resume contract: items already recorded Success or Skipped in prior
// are never reclassified; previously Failed items are retried (unless the
// give-up policy converts them to Skipped). Prior state for a different
// root is rejected with an incompatible-resume error and prior is left
// unmodified. A second Start while a run holds the checkpoint lock fails
// with run-already-active.
func (r *Runner) Start(ctx context.Context, rootPath string, prior *checkpoint.RunState) (*Run, error) {
	absRoot, err := filepath.Abs(rootPath)
	if err != nil {
		return nil, errs.Wrap(errs.ErrorTypeEnumeration, "failed to resolve root path", err)
	}

	if prior != nil && prior.RootPath != absRoot {
		return nil, errs.Newf(errs.ErrorTypeIncompatibleResume,
			"checkpoint covers %s, not %s; clear it to start fresh", prior.RootPath, absRoot)
	}

	// The lock file next to the checkpoint serializes writers, in this
	// process and across processes.
	lock := flock.New(r.store.Path() + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, errs.Wrap(errs.ErrorTypeStorage, "failed to acquire run lock", err)
	}
	if !locked {
		return nil, errs.New(errs.ErrorTypeRunAlreadyActive, "another run is already active on this checkpoint")
	}

	items, err := r.walker.Enumerate(absRoot)
	if err != nil {
		lock.Unlock()
		return nil, err
	}

	var state *checkpoint.RunState
	if prior != nil {
		// Work on a copy so a rejected or cancelled run never mutates
		// the caller's state.
		state = prior.Clone()
	} else {
		state = checkpoint.NewRunState(uuid.NewString(), absRoot)
	}

	run := &Run{
		ID:       uuid.NewString(),
		runner:   r,
		lock:     lock,
		state:    StateRunning,
		runState: state,
		total:    len(items),
		pause:    make(chan struct{}, 1),
		cancel:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	state.RunID = run.ID

	pending := r.merge(state, items)

	// A completed checkpoint can acquire new work when images are added
	// under the same root; while items are pending the run is not complete.
	if len(pending) > 0 {
		state.CompletedAt = nil
	}

	// Persist the merged state up front: it applies give-up conversions
	// and proves the checkpoint is writable before any inference is spent.
	if err := r.store.Save(state); err != nil {
		lock.Unlock()
		return nil, err
	}

	r.logger.InfoWithFields("Run starting", map[string]interface{}{
		"run_id":    run.ID,
		"root":      absRoot,
		"items":     len(items),
		"pending":   len(pending),
		"resumed":   prior != nil,
	})

	go run.loop(ctx, pending)

	return run, nil
}

// Resume loads the persisted checkpoint and continues it. A missing
// checkpoint is a typed not-found error; a corrupt one propagates so the
// caller can decide whether to start fresh.
func (r *Runner) Resume(ctx context.Context) (*Run, error) {
	state, err := r.store.Load()
	if err != nil {
		return nil, err
	}
	if state == nil {
		return nil, errs.New(errs.ErrorTypeNotFound, "no checkpoint to resume")
	}
	return r.Start(ctx, state.RootPath, state)
}

// merge computes the pending work for this run. Items with a Success or
// Skipped record are dropped; Failed records are queued for retry, or
// converted to Skipped in place once the give-up policy applies.
func (r *Runner) merge(state *checkpoint.RunState, items []models.WorkItem) []pendingItem {
	var pending []pendingItem
	for i, item := range items {
		existing, ok := state.Results[item.Path]
		if ok && existing.Done() {
			continue
		}

		attempts := 0
		if ok {
			attempts = existing.Attempts
			if r.giveUpAfter > 0 && attempts >= r.giveUpAfter {
				existing.Status = models.StatusSkipped
				existing.Index = i
				state.Results[item.Path] = existing
				r.logger.WarnWithFields("Giving up on repeatedly failing item", map[string]interface{}{
					"path":     item.Path,
					"attempts": attempts,
				})
				continue
			}
		}

		pending = append(pending, pendingItem{item: item, index: i, attempts: attempts})
	}
	return pending
}
