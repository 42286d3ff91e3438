package flushmanager

import "errors"

// --- Error Definitions ---

var (
	ErrAllocationTimeout = errors.New("buffer pool allocation timed out: no frame became available")
	ErrMisuse            = errors.New("buffer pool misuse")
	ErrIO                = errors.New("i/o error")
	ErrInvalidBlockSize  = errors.New("block size must be positive")
	ErrBlockSizeMismatch = errors.New("page size does not match block size")
	ErrInvalidBlock      = errors.New("invalid block id")
	ErrFileManagerClosed = errors.New("file manager is closed")
)
