package recorder

// ContextState is the lifecycle position of one document context.
type ContextState int

const (
	Idle ContextState = iota
	HeadEmitted
	Watching
	Terminated
)

func (s ContextState) String() string {
	switch s {
	case Idle:
		return "idle"
	case HeadEmitted:
		return "head_emitted"
	case Watching:
		return "watching"
	case Terminated:
		return "terminated"
	}
	return "unknown"
}
