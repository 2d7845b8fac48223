package tuplebox

import "errors"

// Storage-layer error taxonomy (spec §7 "Storage").
var (
	ErrNotFound          = errors.New("tuplebox: not found")
	ErrDuplicate         = errors.New("tuplebox: duplicate")
	ErrVersionConflict   = errors.New("tuplebox: version conflict")
	ErrContentionConflict = errors.New("tuplebox: contention conflict")
	ErrDurableWriteFailed = errors.New("tuplebox: durable write failed")
	ErrNotIndexed        = errors.New("tuplebox: relation has no secondary index")
	ErrTxClosed          = errors.New("tuplebox: transaction already committed or rolled back")
)
