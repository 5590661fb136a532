package bwtreekv

import "github.com/Voskan/bwtreekv/internal/tree"

// Re-exported so callers never need to import internal/tree directly.
var (
	ErrAgain           = tree.ErrAgain
	ErrCorrupted       = tree.ErrCorrupted
	ErrInvalidArgument = tree.ErrInvalidArgument
	ErrMemoryLimit     = tree.ErrMemoryLimit
	ErrIO              = tree.ErrIO
)
