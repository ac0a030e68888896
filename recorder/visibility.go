package recorder

// Action is what the recorder does on a visibility transition.
type Action int

const (
	Ignore  Action = iota
	Suspend        // tear down watchers, keep the session
	Resume         // re-record every context without clearing storage
	End            // terminate the session
)

func (a Action) String() string {
	switch a {
	case Ignore:
		return "ignore"
	case Suspend:
		return "suspend"
	case Resume:
		return "resume"
	case End:
		return "end"
	}
	return "unknown"
}

// VisibilityPolicy maps a visibility change to an action. Unloaded always
// ends the session whatever the policy answers.
type VisibilityPolicy func(v Visibility) Action

// ResumeOnVisible suspends while hidden and resumes when the page comes back.
func ResumeOnVisible(v Visibility) Action {
	switch v {
	case Hidden:
		return Suspend
	case Visible:
		return Resume
	}
	return End
}

// TerminalOnHidden ends the session as soon as the page is hidden.
func TerminalOnHidden(v Visibility) Action {
	if v == Visible {
		return Ignore
	}
	return End
}

// PolicyByName resolves a configured policy name. Unknown names fall back to
// TerminalOnHidden.
func PolicyByName(name string) VisibilityPolicy {
	if name == "resume" {
		return ResumeOnVisible
	}
	return TerminalOnHidden
}
