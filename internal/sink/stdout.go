package sink

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"

	"github.com/hazyhaar/domreplay/event"
)

// Stdout writes one JSON line per record to an io.Writer (default
// os.Stdout). Each line carries the session so several recordings can
// share one stream.
type Stdout struct {
	mu      sync.Mutex
	session string
	enc     *json.Encoder
}

// NewStdout creates a Stdout sink. If w is nil, os.Stdout is used.
func NewStdout(w io.Writer, session string) *Stdout {
	if w == nil {
		w = os.Stdout
	}
	return &Stdout{session: session, enc: json.NewEncoder(w)}
}

func (s *Stdout) Send(_ context.Context, rec event.RecordData) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enc.Encode(envelope{Session: s.session, Record: rec})
}

func (s *Stdout) Close() error { return nil }

type envelope struct {
	Session string           `json:"session,omitempty"`
	Record  event.RecordData `json:"record"`
}

// DecodeLine parses one line written by Stdout.
func DecodeLine(line []byte) (session string, rec event.RecordData, err error) {
	var env envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return "", rec, err
	}
	return env.Session, env.Record, nil
}
