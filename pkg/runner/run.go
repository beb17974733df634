package runner

import (
	"context"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"camclass/pkg/checkpoint"
	errs "camclass/pkg/errors"
	"camclass/pkg/logger"
	"camclass/pkg/models"
)

// State is the lifecycle state of a run
type State string

const (
	StateRunning   State = "running"
	StatePaused    State = "paused"
	StateCompleted State = "completed"
	StateCancelled State = "cancelled"
)

// Terminal reports whether the run can never process another item.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateCancelled
}

// Progress is a point-in-time summary of a run
type Progress struct {
	Total     int
	Processed int
	Succeeded int
	Failed    int
	Skipped   int
}

// Run is the handle for one batch run. It is returned by Start/Resume and
// passed to every subsequent control call; there is no process-wide
// "current run". The background worker owns the run state exclusively;
// everyone else observes it through Snapshot and Progress copies.
type Run struct {
	ID     string
	runner *Runner
	lock   *flock.Flock

	mu       sync.Mutex
	state    State
	runState *checkpoint.RunState
	err      error
	total    int

	// pause and cancel are asynchronous signals consumed by the worker
	// at item boundaries; an in-flight classification is never interrupted.
	pause  chan struct{}
	cancel chan struct{}
	done   chan struct{}
}

// State returns the current lifecycle state
func (run *Run) State() State {
	run.mu.Lock()
	defer run.mu.Unlock()
	return run.state
}

// Err returns the error that paused the run, if any
func (run *Run) Err() error {
	run.mu.Lock()
	defer run.mu.Unlock()
	return run.err
}

// Wait blocks until the worker has stopped (paused, completed or
// cancelled) and returns the resulting state.
func (run *Run) Wait() State {
	<-run.done
	return run.State()
}

// Done exposes the worker's completion channel for select loops.
func (run *Run) Done() <-chan struct{} {
	return run.done
}

// Snapshot returns a deep copy of the run state safe for concurrent use,
// e.g. for an in-progress export.
func (run *Run) Snapshot() *checkpoint.RunState {
	run.mu.Lock()
	defer run.mu.Unlock()
	return run.runState.Clone()
}

// Progress returns current counters
func (run *Run) Progress() Progress {
	run.mu.Lock()
	defer run.mu.Unlock()

	p := Progress{Total: run.total}
	for _, r := range run.runState.Results {
		p.Processed++
		switch r.Status {
		case models.StatusSuccess:
			p.Succeeded++
		case models.StatusFailed:
			p.Failed++
		case models.StatusSkipped:
			p.Skipped++
		}
	}
	return p
}

// Pause requests a stop at the next item boundary. The checkpoint is
// persisted before the state transition, so everything processed so far
// survives. The in-flight item either completes and is recorded or is
// abandoned unrecorded.
func (run *Run) Pause() error {
	run.mu.Lock()
	defer run.mu.Unlock()

	if run.state != StateRunning {
		return errs.Newf(errs.ErrorTypeRunNotActive, "cannot pause a %s run", run.state)
	}

	select {
	case run.pause <- struct{}{}:
	default: // pause already requested
	}
	return nil
}

// Cancel stops the run without saving in-memory progress beyond the last
// successful checkpoint save. The saved checkpoint stays on disk and
// remains eligible for resume or export.
func (run *Run) Cancel() error {
	run.mu.Lock()
	defer run.mu.Unlock()

	switch run.state {
	case StateRunning:
		select {
		case run.cancel <- struct{}{}:
		default:
		}
		return nil
	case StatePaused:
		run.state = StateCancelled
		return nil
	default:
		return errs.Newf(errs.ErrorTypeRunNotActive, "cannot cancel a %s run", run.state)
	}
}

// loop is the single background worker driving the run. Items are
// processed strictly in enumeration order and the checkpoint is saved
// after every item, so the on-disk state is always prefix-consistent.
func (run *Run) loop(ctx context.Context, pending []pendingItem) {
	defer close(run.done)
	defer run.lock.Unlock()

	log := run.runner.logger.WithField("run_id", run.ID)

	for _, p := range pending {
		select {
		case <-run.cancel:
			log.Info("Run cancelled")
			run.setState(StateCancelled, nil)
			return
		case <-ctx.Done():
			log.Info("Run context cancelled")
			run.setState(StateCancelled, ctx.Err())
			return
		case <-run.pause:
			run.pauseAndSave(log)
			return
		default:
		}

		result, ok := run.processItem(ctx, p)
		if !ok {
			// Classification was interrupted by cancellation; abandon the
			// in-flight item unrecorded.
			run.setState(StateCancelled, nil)
			return
		}

		run.mu.Lock()
		run.runState.Results[p.item.Path] = result
		run.mu.Unlock()

		if err := run.saveSnapshot(); err != nil {
			// Storage failures are fatal to the run: stop here with the
			// last known-good checkpoint intact.
			log.WithError(err).Error("Checkpoint save failed, pausing run")
			run.setState(StatePaused, err)
			return
		}
	}

	// Drain a pause that arrived after the last item; the run completed.
	select {
	case <-run.pause:
	default:
	}

	now := time.Now()
	run.mu.Lock()
	run.runState.CompletedAt = &now
	run.mu.Unlock()

	if err := run.saveSnapshot(); err != nil {
		log.WithError(err).Error("Final checkpoint save failed, pausing run")
		run.setState(StatePaused, err)
		return
	}

	log.InfoWithFields("Run completed", map[string]interface{}{
		"results": len(run.runState.Results),
	})
	run.setState(StateCompleted, nil)
}

// processItem classifies one image and builds its immutable result.
// Per-item failures are recorded, never fatal. The second return value is
// false only when the run was cancelled mid-classification.
func (run *Run) processItem(ctx context.Context, p pendingItem) (models.ClassificationResult, bool) {
	result := models.ClassificationResult{
		Item:     p.item,
		Index:    p.index,
		Attempts: p.attempts + 1,
	}

	prediction, err := run.runner.classifier.Classify(ctx, p.item.Path)
	if err != nil {
		if ctx.Err() != nil {
			return models.ClassificationResult{}, false
		}
		run.runner.logger.WarnWithFields("Classification failed", map[string]interface{}{
			"path":  p.item.Path,
			"error": err.Error(),
		})
		result.Status = models.StatusFailed
		result.Error = err.Error()
		return result, true
	}

	result.Status = models.StatusSuccess
	result.Label = prediction.Label
	result.Confidence = prediction.Confidence

	if capturedAt, ok := run.runner.extractor.CapturedAt(p.item.Path); ok {
		result.CapturedAt = &capturedAt
	}

	return result, true
}

// pauseAndSave persists the current state and parks the run as Paused
func (run *Run) pauseAndSave(log logger.Logger) {
	if err := run.saveSnapshot(); err != nil {
		run.setState(StatePaused, err)
		return
	}
	log.Info("Run paused, checkpoint saved")
	run.setState(StatePaused, nil)
}

// saveSnapshot persists a copy of the run state taken under the lock.
// The worker must never hand the live state to the store: Save stamps
// UpdatedAt and serializes the results map while Snapshot readers may be
// cloning the same fields concurrently.
func (run *Run) saveSnapshot() error {
	run.mu.Lock()
	run.runState.UpdatedAt = time.Now()
	snapshot := run.runState.Clone()
	run.mu.Unlock()

	return run.runner.store.Save(snapshot)
}

func (run *Run) setState(s State, err error) {
	run.mu.Lock()
	defer run.mu.Unlock()
	run.state = s
	run.err = err
}
