package relay

// Status is the lifecycle state of a message. A message only ever moves
// forward, queued -> validating -> dispatched -> sent or failed, and once
// accepted by the receiving server it may asynchronously resolve to
// delivered, bounced or blocked. Hard bounces and blocks are final.
type Status string

func (s Status) String() string {
	return string(s)
}

const StatusQueued Status = "queued"
const StatusValidating Status = "validating"
const StatusDispatched Status = "dispatched"
const StatusSent Status = "sent"
const StatusFailed Status = "failed"
const StatusDelivered Status = "delivered"
const StatusBouncedSoft Status = "bounced-soft"
const StatusBouncedHard Status = "bounced-hard"
const StatusBlocked Status = "blocked"

// Terminal reports whether no further transition may occur for the status.
func (s Status) Terminal() bool {
	switch s {
	case StatusFailed, StatusDelivered, StatusBouncedHard, StatusBlocked:
		return true
	}
	return false
}

type EventType string

func (e EventType) String() string {
	return string(e)
}

// EventQueued the message has been accepted by the api and put on the queue.
const EventQueued EventType = "queued"

// EventSenderCorrected the declared sender was rewritten to a platform fallback.
const EventSenderCorrected EventType = "sender_corrected"

// EventSent the receiving server accepted the message.
const EventSent EventType = "sent"

// EventDeferred the receiving server temporarily rejected the message, a retry is scheduled.
const EventDeferred EventType = "deferred"

// EventBounce the receiving server could not or would not accept the message.
const EventBounce EventType = "bounce"

// EventBlocked the message was rejected on sender reputation or policy grounds.
const EventBlocked EventType = "blocked"

// EventFailed sending the message failed terminally.
const EventFailed EventType = "failed"

// EventDelivered an out-of-band notification confirmed final delivery.
const EventDelivered EventType = "delivered"
