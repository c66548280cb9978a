package messaging

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event types
const (
	EventTypeAirlineRegistered = "airline.registered"
	EventTypeAirlineVoted      = "airline.voted"
	EventTypeAirlineFunded     = "airline.funded"

	EventTypeFlightRegistered = "flight.registered"
	EventTypeFlightFinalized  = "flight.finalized"

	EventTypeOracleRegistered = "oracle.registered"
	EventTypeOracleRequest    = "oracle.request"
	EventTypeOracleReport     = "oracle.report"

	EventTypeInsurancePurchased = "insurance.purchased"

	EventTypeLedgerCredit = "ledger.credit"
	EventTypeLedgerDebit  = "ledger.debit"
)

// Event is the envelope every feed entry is wrapped in. Offset is the
// position in the append-only log and is assigned by the log itself,
// never by the publisher.
type Event struct {
	ID        uuid.UUID       `json:"id"`
	Type      string          `json:"type"`
	Offset    uint64          `json:"offset"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// AirlineEvent describes airline registration, voting and funding.
type AirlineEvent struct {
	Airline      string `json:"airline"`
	Voter        string `json:"voter,omitempty"`
	Votes        int    `json:"votes,omitempty"`
	Contribution string `json:"contribution,omitempty"`
	Registered   bool   `json:"registered"`
}

// FlightEvent describes flight registration and finalization.
type FlightEvent struct {
	FlightKey string `json:"flight_key"`
	Airline   string `json:"airline"`
	Flight    string `json:"flight"`
	Timestamp int64  `json:"timestamp"`
	Status    int    `json:"status,omitempty"`
}

// OracleRequestEvent is the dispatch every oracle agent listens for.
type OracleRequestEvent struct {
	Index     int    `json:"index"`
	Airline   string `json:"airline"`
	Flight    string `json:"flight"`
	Timestamp int64  `json:"timestamp"`
	FlightKey string `json:"flight_key"`
}

// OracleReportEvent is emitted for every accepted oracle response.
type OracleReportEvent struct {
	Airline   string `json:"airline"`
	Flight    string `json:"flight"`
	Timestamp int64  `json:"timestamp"`
	Status    int    `json:"status"`
	Responder string `json:"responder"`
	Responses int    `json:"responses"`
	Finalized bool   `json:"finalized"`
}

// OracleRegisteredEvent is emitted when an oracle completes registration.
// Assigned indexes are deliberately absent: they are private to the
// oracle and must not be observable from the feed.
type OracleRegisteredEvent struct {
	Oracle string `json:"oracle"`
	Fee    string `json:"fee"`
}

// InsuranceEvent describes a policy purchase.
type InsuranceEvent struct {
	PolicyID  uuid.UUID `json:"policy_id"`
	Passenger string    `json:"passenger"`
	FlightKey string    `json:"flight_key"`
	Amount    string    `json:"amount"`
}

// LedgerEntryEvent describes a credit or debit on a passenger balance.
type LedgerEntryEvent struct {
	Passenger string `json:"passenger"`
	Type      string `json:"type"` // "credit" or "debit"
	Amount    string `json:"amount"`
	Balance   string `json:"balance"`
	Reference string `json:"reference"`
}

// NewEvent wraps a payload into an event envelope.
func NewEvent(eventType string, data interface{}) (Event, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return Event{}, err
	}
	return Event{
		ID:        uuid.New(),
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      payload,
	}, nil
}

// ParseEventData parses the event payload into the specified type.
func ParseEventData[T any](event Event) (*T, error) {
	var data T
	if err := json.Unmarshal(event.Data, &data); err != nil {
		return nil, err
	}
	return &data, nil
}

// Publisher is the write side of the feed. Engines publish through this
// interface so tests and single-process deployments can run on the
// in-process log while services fan out to NATS and the journal.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Feed is the read side: a subscription that replays from an offset and
// then tails live events until the context is cancelled.
type Feed interface {
	Subscribe(ctx context.Context, from uint64) <-chan Event
}

// Fanout publishes every event to all targets in order. The first
// failure aborts the publish and is returned to the caller.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, event Event) error {
	for _, p := range f {
		if err := p.Publish(ctx, event); err != nil {
			return err
		}
	}
	return nil
}
