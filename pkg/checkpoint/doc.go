// Package checkpoint persists batch run progress as a single versioned
// JSON document, replaced atomically on every save.
//
// The checkpoint is the source of truth for resume: the batch runner
// records each classification outcome here before moving to the next
// item, so an interrupted run loses at most the in-flight image. Loading
// distinguishes three cases the caller must handle differently: an absent
// file (nil state), a readable state, and a corrupt or incompatible file
// surfaced as a typed corrupt-state error.
package checkpoint
