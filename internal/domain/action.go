package domain

// Action is the closed set of lifecycle transitions that trigger subscription
// fan-out. Unknown tags never enter the system: ParseAction is the only way
// in from the wire.
type Action int

const (
	ActionLong Action = iota + 1
	ActionShort
	ActionExtraLong
	ActionExtraShort
	ActionCloseLong
	ActionCloseShort
	ActionClose // close both sides
)

var actionNames = map[Action]string{
	ActionLong:       "Long",
	ActionShort:      "Short",
	ActionExtraLong:  "ExtraLong",
	ActionExtraShort: "ExtraShort",
	ActionCloseLong:  "CloseLong",
	ActionCloseShort: "CloseShort",
	ActionClose:      "Close",
}

func (a Action) String() string {
	if name, ok := actionNames[a]; ok {
		return name
	}
	return "Unknown"
}

func ParseAction(s string) (Action, error) {
	for a, name := range actionNames {
		if name == s {
			return a, nil
		}
	}
	return 0, Validationf("unknown action %q", s)
}

// IsOpen reports whether the action opens a position on the subscriber side.
func (a Action) IsOpen() bool {
	switch a {
	case ActionLong, ActionShort, ActionExtraLong, ActionExtraShort:
		return true
	}
	return false
}

// IsExtra reports whether the action is additive: the dispatcher skips the
// already-open collision guard for these.
func (a Action) IsExtra() bool {
	return a == ActionExtraLong || a == ActionExtraShort
}

// Side returns the traded side for single-sided actions. ActionClose has no
// single side and returns ok=false.
func (a Action) Side() (Side, bool) {
	switch a {
	case ActionLong, ActionExtraLong, ActionCloseLong:
		return SideLong, true
	case ActionShort, ActionExtraShort, ActionCloseShort:
		return SideShort, true
	}
	return "", false
}
