// internal/models/events.go
package models

// EventType is the closed set of lender lifecycle events. Webhooks and polls
// both resolve to one of these before any state change.
type EventType int

const (
	EventUnknown EventType = iota
	EventApplicationReceived
	EventApplicationDeclined
	EventOffersCreated
	EventOffersUpdated
	EventContractReady
	EventContractSigned
	EventContractFailed
	EventLoanDisbursed
	EventApplicationWithdrawn
	EventBatchCompleted
)

var eventNames = map[EventType]string{
	EventApplicationReceived:  "applicationReceived",
	EventApplicationDeclined:  "applicationDeclined",
	EventOffersCreated:        "offersCreated",
	EventOffersUpdated:        "offersUpdated",
	EventContractReady:        "contractReady",
	EventContractSigned:       "contractSigned",
	EventContractFailed:       "contractFailed",
	EventLoanDisbursed:        "loanDisbursed",
	EventApplicationWithdrawn: "applicationWithdrawn",
	EventBatchCompleted:       "batchCompleted",
}

var eventsByName = func() map[string]EventType {
	m := make(map[string]EventType, len(eventNames))
	for t, name := range eventNames {
		m[name] = t
	}
	return m
}()

// ParseEvent maps a lender-supplied event name onto EventType. Unrecognised
// names return EventUnknown.
func ParseEvent(name string) EventType {
	if t, ok := eventsByName[name]; ok {
		return t
	}
	return EventUnknown
}

func (e EventType) String() string {
	if name, ok := eventNames[e]; ok {
		return name
	}
	return "unknown"
}
