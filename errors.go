package taskmesh

import "errors"

// Namespace prefixes every sentinel error this package defines,
// matching the teacher's own errors.go convention.
const Namespace = "taskmesh"

var (
	// ErrNotInitialized is returned by any public verb called on a
	// *Cluster whose mesh has already been torn down by Shutdown.
	ErrNotInitialized = errors.New(Namespace + ": cluster is not initialized or has been shut down")

	// ErrTooManyReturns is returned by Wait when num_returns exceeds
	// the number of ids supplied (spec §8 boundary behavior).
	ErrTooManyReturns = errors.New(Namespace + ": num_returns exceeds number of ids")

	// ErrUnknownRank is returned by Init when config.Config.Rank does
	// not identify the controller, the monitor, or a worker.
	ErrUnknownRank = errors.New(Namespace + ": rank is neither controller, monitor, nor worker")
)
