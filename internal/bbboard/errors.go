package bbboard

import "errors"

// Sentinel errors surfaced by the bulletin-board core (§7). Backend-level
// errors (ErrNoSuchHash, ErrCanOnlyCensorLeaves, ...) live in
// boardbackend and are passed through unwrapped or wrapped with %w.
var (
	// ErrIdenticalDataAlreadySubmitted is returned when a Leaf with the
	// identical (timestamp, data) pre-image already exists.
	ErrIdenticalDataAlreadySubmitted = errors.New("bbboard: identical data already submitted")
	// ErrPublishingNewRootInstantlyAfterLastRoot is returned on a
	// same-second republish with no intervening changes.
	ErrPublishingNewRootInstantlyAfterLastRoot = errors.New("bbboard: publishing new root instantly after last root")
	// ErrProofChainCorrupt is returned when a parent walked to during
	// get_proof_chain is absent from the backend.
	ErrProofChainCorrupt = errors.New("bbboard: proof chain corrupt, missing published node")
	// ErrPublishedRootIsNotARoot is returned when a hash registered as
	// a published root is not of Root kind.
	ErrPublishedRootIsNotARoot = errors.New("bbboard: published root is not a root")
	// ErrCouldNotInitializeFromDatabase is returned when the cached
	// forest could not be (re)built from the backend.
	ErrCouldNotInitializeFromDatabase = errors.New("bbboard: could not initialize from database")
)
