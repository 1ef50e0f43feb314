package notify

import "time"

type EventType string

const (
	EventNewRequest       EventType = "NEW_REQUEST"
	EventNewProposal      EventType = "NEW_PROPOSAL"
	EventProposalAccepted EventType = "PROPOSAL_ACCEPTED"
	EventProposalRejected EventType = "PROPOSAL_REJECTED"
	EventPaymentApproved  EventType = "PAYMENT_APPROVED"
)

// channel names the frontend listens on, one per event type
var channelNames = map[EventType]string{
	EventNewRequest:       "new-request",
	EventNewProposal:      "new-proposal",
	EventProposalAccepted: "proposal-accepted",
	EventProposalRejected: "proposal-rejected",
	EventPaymentApproved:  "payment-approved",
}

type Event struct {
	Channel   string    `json:"channel"`
	Type      EventType `json:"type"`
	Message   string    `json:"message"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func newEvent(t EventType, message string, data any) Event {
	return Event{
		Channel:   channelNames[t],
		Type:      t,
		Message:   message,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
}
