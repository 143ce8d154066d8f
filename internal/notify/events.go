package notify

import "fmt"

// Event type tags. Configure notify.events with a subset to filter what
// operators receive.
const (
	EventIntentFinished = "intent.finished"
	EventIntentFailed   = "intent.failed"
	EventAttemptFilled  = "attempt.filled"
	EventAttemptFailed  = "attempt.failed"
)

// Event is one operator alert from the reconciler. Senders render it per
// channel.
type Event struct {
	Type     string
	IntentID int64
	TxHash   string
	// Fills is how many tokens the transaction moved, for fill events.
	Fills int64
	// Detail carries the failure code or progress summary.
	Detail string
}

// Failure reports whether the event signals something going wrong.
func (e Event) Failure() bool {
	return e.Type == EventIntentFailed || e.Type == EventAttemptFailed
}

// Title returns the one-line headline for the event.
func (e Event) Title() string {
	switch e.Type {
	case EventIntentFinished:
		return fmt.Sprintf("Intent %d finished", e.IntentID)
	case EventIntentFailed:
		return fmt.Sprintf("Intent %d failed", e.IntentID)
	case EventAttemptFilled:
		return fmt.Sprintf("Intent %d filled %d token(s)", e.IntentID, e.Fills)
	case EventAttemptFailed:
		return fmt.Sprintf("Intent %d attempt failed", e.IntentID)
	default:
		return fmt.Sprintf("Intent %d", e.IntentID)
	}
}

// Body returns the message body: the detail line plus the transaction hash
// when one is known.
func (e Event) Body() string {
	switch {
	case e.TxHash == "":
		return e.Detail
	case e.Detail == "":
		return "tx " + e.TxHash
	default:
		return fmt.Sprintf("%s\ntx %s", e.Detail, e.TxHash)
	}
}
