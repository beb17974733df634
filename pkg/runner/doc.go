// Package runner orchestrates batch classification runs.
//
// A run walks the survey tree, merges the enumeration with any prior
// checkpoint state, and classifies the remaining items on a single
// background worker. Control calls (Pause, Cancel) signal the worker
// asynchronously and take effect at item boundaries; the checkpoint is
// saved after every item so interruption loses at most the in-flight
// image. Runs are addressed through the *Run handle returned by Start,
// and a lock file beside the checkpoint keeps two runs from ever racing
// on the same state.
package runner
