// Package oracles implements the oracle consensus coordinator: oracle
// registration with private index assignment, flight status request
// dispatch, and the response tally that finalizes a flight exactly once.
package oracles

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/terminal-bench/flightsurety/internal/faults"
	"github.com/terminal-bench/flightsurety/internal/ledger"
	"github.com/terminal-bench/flightsurety/internal/metrics"
	"github.com/terminal-bench/flightsurety/internal/operational"
	"github.com/terminal-bench/flightsurety/pkg/messaging"
)

// PayoutHook performs the finalize transition: the terminal status
// write plus every policy credit, as one atomic ledger mutation. The
// insurance engine implements it; it is invoked at most once per flight,
// strictly inside the tally critical section.
type PayoutHook interface {
	FinalizeFlight(ctx context.Context, flightKey string, status ledger.StatusCode) error
}

// Config holds the consensus constants.
type Config struct {
	// RegistrationFee is the minimum fee an oracle must pay to register.
	RegistrationFee decimal.Decimal
	// MinResponses is the number of agreeing responses that finalizes a
	// flight status.
	MinResponses int
	// IndexBuckets is the size of the index space.
	IndexBuckets int
}

type oracleNode struct {
	identity string
	indexes  [3]int
}

func (o *oracleNode) holds(index int) bool {
	return o.indexes[0] == index || o.indexes[1] == index || o.indexes[2] == index
}

// request is one flight status request. There is at most one per flight
// key; once finalized it only rejects.
type request struct {
	flightKey string
	index     int
	airline   string
	flight    string
	timestamp int64
	tally     map[ledger.StatusCode]map[string]bool
	responded map[string]bool
	finalized bool
}

// Coordinator tallies oracle responses and finalizes flights. The
// accept-tally-threshold-finalize step runs as one critical section, so
// concurrent submissions never double-count a response and exactly one
// submission triggers finalization.
type Coordinator struct {
	cfg    Config
	store  *ledger.Store
	guard  *operational.Guard
	bus    messaging.Publisher
	payout PayoutHook
	rec    *metrics.Recorder
	log    *zap.Logger

	mu       sync.Mutex
	oracles  map[string]*oracleNode
	requests map[string]*request
	nonce    uint64
}

// NewCoordinator creates a coordinator. payout may be nil when no
// insurance engine is attached (status-only deployments).
func NewCoordinator(cfg Config, store *ledger.Store, guard *operational.Guard, bus messaging.Publisher, payout PayoutHook, rec *metrics.Recorder, log *zap.Logger) *Coordinator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Coordinator{
		cfg:      cfg,
		store:    store,
		guard:    guard,
		bus:      bus,
		payout:   payout,
		rec:      rec,
		log:      log,
		oracles:  make(map[string]*oracleNode),
		requests: make(map[string]*request),
	}
}

// RegisterOracle registers an oracle and assigns its three private
// indexes. Indexes are immutable once assigned: re-registration fails.
func (c *Coordinator) RegisterOracle(ctx context.Context, identity string, fee decimal.Decimal) ([3]int, error) {
	if err := c.guard.Require(); err != nil {
		return [3]int{}, err
	}
	if fee.LessThan(c.cfg.RegistrationFee) {
		return [3]int{}, fmt.Errorf("registration fee %s below required %s: %w", fee, c.cfg.RegistrationFee, faults.ErrFunding)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.oracles[identity]; exists {
		return [3]int{}, fmt.Errorf("oracle %s already registered: %w", identity, faults.ErrValidation)
	}
	node := &oracleNode{
		identity: identity,
		indexes:  c.deriveIndexes(identity),
	}
	c.oracles[identity] = node

	c.log.Info("oracle registered", zap.String("oracle", identity))
	c.publish(ctx, messaging.EventTypeOracleRegistered, messaging.OracleRegisteredEvent{
		Oracle: identity,
		Fee:    fee.String(),
	})
	return node.indexes, nil
}

// Indexes returns the caller's assigned indexes. Only the oracle itself
// ever sees them; they are never published.
func (c *Coordinator) Indexes(ctx context.Context, identity string) ([3]int, error) {
	if err := ctx.Err(); err != nil {
		return [3]int{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	node, ok := c.oracles[identity]
	if !ok {
		return [3]int{}, fmt.Errorf("oracle %s not registered: %w", identity, faults.ErrValidation)
	}
	return node.indexes, nil
}

// IsRegistered reports whether the identity is a registered oracle.
func (c *Coordinator) IsRegistered(identity string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.oracles[identity]
	return ok
}

// FetchFlightStatus opens a status request for the flight and emits the
// dispatch event every agent observes. The dispatch index limits which
// oracles may answer.
func (c *Coordinator) FetchFlightStatus(ctx context.Context, airline, flight string, timestamp int64) (int, error) {
	if err := c.guard.Require(); err != nil {
		return 0, err
	}
	key := ledger.FlightKey(airline, flight, timestamp)
	f, ok := c.store.Flight(key)
	if !ok {
		return 0, fmt.Errorf("flight %s/%s@%d not registered: %w", airline, flight, timestamp, faults.ErrValidation)
	}
	if f.Finalized {
		return 0, fmt.Errorf("flight %s already finalized: %w", key, faults.ErrValidation)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, open := c.requests[key]; open {
		return 0, fmt.Errorf("status request for flight %s already open: %w", key, faults.ErrValidation)
	}
	req := &request{
		flightKey: key,
		index:     c.deriveDispatchIndex(),
		airline:   airline,
		flight:    flight,
		timestamp: timestamp,
		tally:     make(map[ledger.StatusCode]map[string]bool),
		responded: make(map[string]bool),
	}
	c.requests[key] = req

	c.log.Info("oracle request dispatched",
		zap.String("flight_key", key), zap.Int("index", req.index))
	c.rec.RequestDispatched(key, req.index)
	c.publish(ctx, messaging.EventTypeOracleRequest, messaging.OracleRequestEvent{
		Index:     req.index,
		Airline:   airline,
		Flight:    flight,
		Timestamp: timestamp,
		FlightKey: key,
	})
	return req.index, nil
}

// SubmitOracleResponse records one oracle's status report. When a
// status reaches MinResponses the request finalizes: the flight status
// becomes terminal and the payout hook runs, all before the lock is
// released. It returns whether this submission finalized the flight.
func (c *Coordinator) SubmitOracleResponse(ctx context.Context, index int, airline, flight string, timestamp int64, status ledger.StatusCode, responder string) (bool, error) {
	if err := c.guard.Require(); err != nil {
		return false, err
	}
	if !status.Valid() {
		return false, fmt.Errorf("status code %d not reportable: %w", status, faults.ErrValidation)
	}
	key := ledger.FlightKey(airline, flight, timestamp)

	c.mu.Lock()
	defer c.mu.Unlock()

	node, ok := c.oracles[responder]
	if !ok {
		c.rec.ResponseRejected(key, "unregistered")
		return false, fmt.Errorf("responder %s is not a registered oracle: %w", responder, faults.ErrConsensus)
	}
	if !node.holds(index) {
		c.rec.ResponseRejected(key, "index")
		return false, fmt.Errorf("index %d not assigned to %s: %w", index, responder, faults.ErrConsensus)
	}
	req, ok := c.requests[key]
	if !ok || req.index != index {
		c.rec.ResponseRejected(key, "no_request")
		return false, fmt.Errorf("no matching pending request for index %d flight %s: %w", index, key, faults.ErrConsensus)
	}
	if req.finalized {
		c.rec.ResponseRejected(key, "finalized")
		return false, fmt.Errorf("request for flight %s already finalized: %w", key, faults.ErrConsensus)
	}
	if req.responded[responder] {
		c.rec.ResponseRejected(key, "duplicate")
		return false, fmt.Errorf("oracle %s already responded for flight %s: %w", responder, key, faults.ErrConsensus)
	}

	if req.tally[status] == nil {
		req.tally[status] = make(map[string]bool)
	}
	req.tally[status][responder] = true
	req.responded[responder] = true
	responses := len(req.tally[status])

	finalized := responses >= c.cfg.MinResponses
	if finalized {
		// The payout hook commits the status write and all policy
		// credits atomically. On failure roll the response back so the
		// failed transition leaves no trace and a later submission can
		// retry the threshold.
		var err error
		if c.payout != nil {
			err = c.payout.FinalizeFlight(ctx, key, status)
		} else {
			err = c.store.SetFlightStatus(key, status)
		}
		if err != nil {
			delete(req.tally[status], responder)
			delete(req.responded, responder)
			return false, err
		}
		req.finalized = true
	}

	c.rec.ResponseAccepted(key, int(status))
	c.publish(ctx, messaging.EventTypeOracleReport, messaging.OracleReportEvent{
		Airline:   airline,
		Flight:    flight,
		Timestamp: timestamp,
		Status:    int(status),
		Responder: responder,
		Responses: responses,
		Finalized: finalized,
	})

	if !finalized {
		return false, nil
	}

	c.log.Info("flight finalized",
		zap.String("flight_key", key), zap.Stringer("status", status),
		zap.Int("responses", responses))
	c.rec.Finalized(key, int(status), responses)
	c.publish(ctx, messaging.EventTypeFlightFinalized, messaging.FlightEvent{
		FlightKey: key,
		Airline:   airline,
		Flight:    flight,
		Timestamp: timestamp,
		Status:    int(status),
	})
	return true, nil
}

func (c *Coordinator) publish(ctx context.Context, eventType string, data interface{}) {
	if c.bus == nil {
		return
	}
	event, err := messaging.NewEvent(eventType, data)
	if err != nil {
		return
	}
	if err := c.bus.Publish(ctx, event); err != nil {
		c.log.Warn("failed to publish oracle event", zap.Error(err))
	}
}
