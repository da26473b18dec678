// Package transmission holds the state machine that gates user intents and
// owns the single live session.
package transmission

import (
	"strings"
	"time"
)

// Mode is the top level transmission state.
type Mode int

const (
	Idle Mode = iota
	Casting
	Receiving
)

func (m Mode) String() string {
	switch m {
	case Casting:
		return "casting"
	case Receiving:
		return "receiving"
	default:
		return "idle"
	}
}

// State is a Mode plus the caster sub-flags. Paused and Blanked are only
// ever set while Casting.
type State struct {
	Mode    Mode `json:"-"`
	Paused  bool `json:"paused"`
	Blanked bool `json:"blanked"`
}

func (s State) String() string {
	if s.Mode != Casting {
		return s.Mode.String()
	}
	var flags []string
	if s.Paused {
		flags = append(flags, "paused")
	}
	if s.Blanked {
		flags = append(flags, "blanked")
	}
	if len(flags) == 0 {
		return "casting"
	}
	return "casting (" + strings.Join(flags, ", ") + ")"
}

// Intent names a user request.
type Intent string

const (
	IntentStartCast    Intent = "start-cast"
	IntentStartReceive Intent = "start-receive"
	IntentPause        Intent = "pause"
	IntentResume       Intent = "resume"
	IntentToggleBlank  Intent = "toggle-blank"
	IntentSetRegion    Intent = "set-region"
	IntentStop         Intent = "stop"
)

// Intents lists every intent in a stable order.
var Intents = []Intent{
	IntentStartCast,
	IntentStartReceive,
	IntentPause,
	IntentResume,
	IntentToggleBlank,
	IntentSetRegion,
	IntentStop,
}

// NotificationKind tags a Notification.
type NotificationKind string

const (
	StateChanged     NotificationKind = "state_changed"
	ConnectivityLost NotificationKind = "connectivity_lost"
	Error            NotificationKind = "error"
)

// Notification is a one-shot message for the UI.
type Notification struct {
	Kind  NotificationKind
	State State
	// Involuntary marks a StateChanged to Idle that no intent asked for.
	Involuntary bool
	Err         error
	Time        time.Time
}

// Notifier receives notifications synchronously from the machine's caller
// goroutine.
type Notifier func(Notification)
