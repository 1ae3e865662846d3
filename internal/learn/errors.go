// Package learn implements the online-learning core: the variational
// encoder, the event predictor, the feedback coupling between them, the
// per-team Bayesian belief updater, and the performance monitor.
package learn

import "errors"

// Error taxonomy for the learning loop. The orchestrator matches these with
// errors.Is to decide between retry, skip, and aborting the run.
var (
	// ErrData marks missing or malformed feature/ground-truth data for a
	// game. Recoverable by skipping the game.
	ErrData = errors.New("invalid game data")

	// ErrNumericInstability marks a non-finite loss or gradient.
	// Recoverable by skipping the update for that game.
	ErrNumericInstability = errors.New("numeric instability")

	// ErrAlreadyRunning is returned by a second start() while a run is in
	// flight. Never retried.
	ErrAlreadyRunning = errors.New("training run already in progress")

	// ErrPersistence marks a storage failure while saving posteriors or
	// weights. Retried with backoff; the game stays unmarked on final
	// failure so the run is resumable.
	ErrPersistence = errors.New("persistence failure")

	// ErrConfig marks invalid thresholds or rates. Fatal at construction.
	ErrConfig = errors.New("invalid configuration")

	// ErrPosteriorUnavailable means a team posterior could not be loaded or
	// repaired; the predictor must not be invoked for that game.
	ErrPosteriorUnavailable = errors.New("team posterior unavailable")
)
