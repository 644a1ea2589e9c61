package domain

// StreamEventType discriminates StreamEvent variants.
type StreamEventType string

const (
	// EventContentDelta carries an incremental text fragment for the
	// in-flight assistant message.
	EventContentDelta StreamEventType = "content-delta"
	// EventSideMessage carries a complete assistant message delivered
	// alongside the main answer, without interrupting the stream.
	EventSideMessage StreamEventType = "side-message"
	// EventMetricUpdate carries a named numeric metric (sentiment, usage).
	EventMetricUpdate StreamEventType = "metric-update"
	// EventTerminal marks the end of the stream.
	EventTerminal StreamEventType = "terminal"
)

// StreamEvent is one decoded record of a streaming response. Events are
// transient: they are folded into Message state and never persisted.
type StreamEvent struct {
	Type StreamEventType

	// Text is set for content-delta events.
	Text string
	// Message is set for side-message events.
	Message *Message
	// Field and Value are set for metric-update events.
	Field string
	Value float64
}
