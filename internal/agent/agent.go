// Package agent implements the oracle client: an independent actor that
// registers as an oracle, tails the request feed from a persisted
// cursor, and answers requests addressed to one of its private indexes.
package agent

import (
	"context"
	"errors"
	"math/rand"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/terminal-bench/flightsurety/internal/faults"
	"github.com/terminal-bench/flightsurety/internal/ledger"
	"github.com/terminal-bench/flightsurety/pkg/messaging"
)

// Submitter is the coordinator surface an agent talks to. In-process
// deployments pass the coordinator directly; daemons use HTTPSubmitter.
type Submitter interface {
	RegisterOracle(ctx context.Context, identity string, fee decimal.Decimal) ([3]int, error)
	Indexes(ctx context.Context, identity string) ([3]int, error)
	SubmitOracleResponse(ctx context.Context, index int, airline, flight string, timestamp int64, status ledger.StatusCode, responder string) (bool, error)
}

// Config holds one agent's parameters.
type Config struct {
	Identity string
	Fee      decimal.Decimal

	// StatusFn produces the status this agent reports. Nil picks a
	// uniformly random reportable status, as a simulated oracle does.
	StatusFn func() ledger.StatusCode
}

// Agent is one oracle client. Run drives its whole lifecycle and stops
// cleanly when the context is cancelled.
type Agent struct {
	cfg       Config
	submitter Submitter
	feed      messaging.Feed
	cursors   messaging.CursorStore
	log       *zap.Logger

	mu      sync.RWMutex
	indexes [3]int
	active  bool
}

// New creates an agent.
func New(cfg Config, submitter Submitter, feed messaging.Feed, cursors messaging.CursorStore, log *zap.Logger) *Agent {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.StatusFn == nil {
		cfg.StatusFn = randomStatus
	}
	return &Agent{
		cfg:       cfg,
		submitter: submitter,
		feed:      feed,
		cursors:   cursors,
		log:       log.With(zap.String("oracle", cfg.Identity)),
	}
}

// Identity returns the agent's oracle identity.
func (a *Agent) Identity() string {
	return a.cfg.Identity
}

// Active reports whether the agent has completed registration and index
// retrieval.
func (a *Agent) Active() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.active
}

// Indexes returns the assigned indexes once the agent is active.
func (a *Agent) Indexes() ([3]int, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.indexes, a.active
}

// Run registers the agent, then consumes the request feed until ctx is
// cancelled. Transport errors on individual events are logged and
// skipped; only a failed registration is fatal.
func (a *Agent) Run(ctx context.Context) error {
	if _, err := a.submitter.RegisterOracle(ctx, a.cfg.Identity, a.cfg.Fee); err != nil {
		// Already registered (daemon restart): indexes are immutable,
		// fetch the existing assignment instead.
		if !errors.Is(err, faults.ErrValidation) {
			return err
		}
	}
	indexes, err := a.submitter.Indexes(ctx, a.cfg.Identity)
	if err != nil {
		return err
	}

	a.mu.Lock()
	a.indexes = indexes
	a.active = true
	a.mu.Unlock()
	a.log.Info("oracle agent listening", zap.Ints("indexes", indexes[:]))

	offset, err := a.cursors.Load(ctx, a.cfg.Identity)
	if err != nil {
		a.log.Warn("failed to load cursor, replaying from genesis", zap.Error(err))
		offset = 0
	}

	for event := range a.feed.Subscribe(ctx, offset+1) {
		a.handle(ctx, event)
		if err := a.cursors.Save(ctx, a.cfg.Identity, event.Offset); err != nil {
			a.log.Warn("failed to save cursor", zap.Uint64("offset", event.Offset), zap.Error(err))
		}
	}
	return nil
}

func (a *Agent) handle(ctx context.Context, event messaging.Event) {
	if event.Type != messaging.EventTypeOracleRequest {
		return
	}
	req, err := messaging.ParseEventData[messaging.OracleRequestEvent](event)
	if err != nil {
		a.log.Warn("malformed oracle request event", zap.Error(err))
		return
	}
	if !a.holds(req.Index) {
		return
	}

	status := a.cfg.StatusFn()
	_, err = a.submitter.SubmitOracleResponse(
		ctx, req.Index, req.Airline, req.Flight, req.Timestamp, status, a.cfg.Identity)
	if err != nil {
		// Losing the race to quorum is normal; anything else is worth a log.
		if errors.Is(err, faults.ErrConsensus) {
			a.log.Debug("response rejected", zap.String("flight_key", req.FlightKey), zap.Error(err))
		} else {
			a.log.Warn("failed to submit response", zap.String("flight_key", req.FlightKey), zap.Error(err))
		}
		return
	}
	a.log.Info("response submitted",
		zap.String("flight_key", req.FlightKey), zap.Stringer("status", status))
}

func (a *Agent) holds(index int) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.indexes[0] == index || a.indexes[1] == index || a.indexes[2] == index
}

func randomStatus() ledger.StatusCode {
	return ledger.Statuses[rand.Intn(len(ledger.Statuses))]
}
