package recorder

import (
	"context"
	"fmt"

	"github.com/hazyhaar/domreplay/event"
)

// Storage persists records of a session. Implementations must be safe for
// concurrent use.
type Storage interface {
	Clear(ctx context.Context) error
	AddRecord(ctx context.Context, rec event.RecordData) error
}

// ReadyStorage is implemented by storages that open asynchronously. Start
// waits on Ready before anything else touches the storage.
type ReadyStorage interface {
	Ready(ctx context.Context) error
}

// StorageError wraps a failed storage call.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return fmt.Sprintf("recorder: storage %s: %v", e.Op, e.Err) }
func (e *StorageError) Unwrap() error { return e.Err }

// Transmitter receives every record after the emit hooks. It must not block.
type Transmitter interface {
	Transmit(rec event.RecordData)
}

// TransmitterFunc adapts a function to Transmitter.
type TransmitterFunc func(rec event.RecordData)

func (f TransmitterFunc) Transmit(rec event.RecordData) { f(rec) }
