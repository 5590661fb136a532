package tree

import "errors"

// Error taxonomy surfaced by the tree engine. pkg re-exports these
// directly so callers never need to import internal/tree.
var (
	// ErrAgain signals a concurrent structural change invalidated the
	// in-flight operation; the caller should retry from the top.
	ErrAgain = errors.New("tree: concurrent structural change, retry")
	// ErrCorrupted marks a persisted or in-memory page that failed an
	// integrity check (unexpected kind, truncated chain, decode failure).
	ErrCorrupted = errors.New("tree: page failed integrity validation")
	// ErrInvalidArgument marks a caller-side contract violation (empty
	// key, zero LSN where a nonzero one is required).
	ErrInvalidArgument = errors.New("tree: invalid argument")
	// ErrMemoryLimit names a cache capacity refusal. The tree's page
	// cache is best-effort and a refused page is served uncached, so no
	// tree operation returns it.
	ErrMemoryLimit = errors.New("tree: cache capacity exceeded")
	// ErrIO wraps a page store failure.
	ErrIO = errors.New("tree: page store I/O error")
)
