package objstore

import (
	"github.com/sourcekit/objstore/pkg/core"
)

var (
	ErrNotFound     = core.ErrNotFound
	ErrInvalidInput = core.ErrInvalidInput
	ErrCorrupt      = core.ErrCorrupt
	ErrTooLarge     = core.ErrTooLarge
	ErrClosed       = core.ErrClosed
)
