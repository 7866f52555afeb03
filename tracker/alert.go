package tracker

type (
	// Alert is a message from the audio thread for the user. The audio thread
	// never logs; alerts travel to the control side in MsgToModel, which
	// decides how to show them.
	Alert struct {
		Name     string
		Priority AlertPriority
		Message  string
	}

	AlertPriority int
)

const (
	None AlertPriority = iota
	Info
	Warning
	Error
)

var priorityNames = []string{"none", "info", "warning", "error"}

func (p AlertPriority) String() string {
	if p >= 0 && int(p) < len(priorityNames) {
		return priorityNames[p]
	}
	return "unknown"
}
