// Package governance implements airline admission and funding. Below
// four registered airlines any funded airline admits candidates
// directly; from four on, admission needs votes from at least half of
// the registered airlines.
package governance

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/terminal-bench/flightsurety/internal/faults"
	"github.com/terminal-bench/flightsurety/internal/ledger"
	"github.com/terminal-bench/flightsurety/internal/operational"
	"github.com/terminal-bench/flightsurety/pkg/messaging"
)

// Airlines below this count are admitted directly by any single
// funded airline.
const multipartyThreshold = 4

// Engine is the airline governance quorum machine.
type Engine struct {
	mu sync.Mutex

	store     *ledger.Store
	guard     *operational.Guard
	bus       messaging.Publisher
	threshold decimal.Decimal
	log       *zap.Logger
}

// NewEngine creates a governance engine. threshold is the cumulative
// funding an airline must have contributed before exercising
// registration rights.
func NewEngine(store *ledger.Store, guard *operational.Guard, bus messaging.Publisher, threshold decimal.Decimal, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		store:     store,
		guard:     guard,
		bus:       bus,
		threshold: threshold,
		log:       log,
	}
}

// RegisterAirline admits candidate, called by caller. Below the
// multiparty threshold the candidate is registered immediately; above
// it the call counts as one vote and the candidate is registered the
// instant votes reach half of the registered airlines. It returns
// whether the candidate is now registered and the current vote count.
func (e *Engine) RegisterAirline(ctx context.Context, candidate, caller string) (bool, int, error) {
	if err := e.guard.Require(); err != nil {
		return false, 0, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.store.IsRegisteredAirline(caller) {
		return false, 0, fmt.Errorf("caller %s is not a registered airline: %w", caller, faults.ErrAuthorization)
	}
	if e.store.FundingContribution(caller).LessThan(e.threshold) {
		return false, 0, fmt.Errorf("caller %s has not met the funding threshold %s: %w", caller, e.threshold, faults.ErrFunding)
	}
	if e.store.IsRegisteredAirline(candidate) {
		return false, 0, fmt.Errorf("airline %s already registered: %w", candidate, faults.ErrValidation)
	}

	registered := e.store.RegisteredAirlines()
	if registered < multipartyThreshold {
		if err := e.store.RegisterAirline(candidate); err != nil {
			return false, 0, err
		}
		e.log.Info("airline registered directly",
			zap.String("airline", candidate), zap.String("by", caller))
		e.publishAirline(ctx, messaging.EventTypeAirlineRegistered, messaging.AirlineEvent{
			Airline:    candidate,
			Voter:      caller,
			Registered: true,
		})
		return true, 0, nil
	}

	votes, err := e.store.RecordVote(candidate, caller)
	if err != nil {
		return false, 0, err
	}
	// Half of the current registrants, rounded up.
	quorum := (registered + 1) / 2
	if votes < quorum {
		e.log.Info("airline registration vote recorded",
			zap.String("airline", candidate), zap.String("voter", caller),
			zap.Int("votes", votes), zap.Int("quorum", quorum))
		e.publishAirline(ctx, messaging.EventTypeAirlineVoted, messaging.AirlineEvent{
			Airline: candidate,
			Voter:   caller,
			Votes:   votes,
		})
		return false, votes, nil
	}

	if err := e.store.RegisterAirline(candidate); err != nil {
		return false, votes, err
	}
	e.log.Info("airline registered by quorum",
		zap.String("airline", candidate), zap.Int("votes", votes))
	e.publishAirline(ctx, messaging.EventTypeAirlineRegistered, messaging.AirlineEvent{
		Airline:    candidate,
		Votes:      votes,
		Registered: true,
	})
	return true, votes, nil
}

// Fund adds amount to the airline's cumulative contribution.
func (e *Engine) Fund(ctx context.Context, airline string, amount decimal.Decimal) error {
	if err := e.guard.Require(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	total, err := e.store.AddFunding(airline, amount)
	if err != nil {
		return err
	}
	e.log.Info("airline funded",
		zap.String("airline", airline), zap.String("amount", amount.String()),
		zap.String("contribution", total.String()))
	e.publishAirline(ctx, messaging.EventTypeAirlineFunded, messaging.AirlineEvent{
		Airline:      airline,
		Contribution: total.String(),
		Registered:   e.store.IsRegisteredAirline(airline),
	})
	return nil
}

// IsRegistered reports whether the address is a registered airline.
func (e *Engine) IsRegistered(airline string) bool {
	return e.store.IsRegisteredAirline(airline)
}

// Contribution returns the airline's cumulative funding contribution.
func (e *Engine) Contribution(airline string) decimal.Decimal {
	return e.store.FundingContribution(airline)
}

// RegisteredCount returns the number of registered airlines.
func (e *Engine) RegisteredCount() int {
	return e.store.RegisteredAirlines()
}

func (e *Engine) publishAirline(ctx context.Context, eventType string, data messaging.AirlineEvent) {
	if e.bus == nil {
		return
	}
	event, err := messaging.NewEvent(eventType, data)
	if err != nil {
		return
	}
	if err := e.bus.Publish(ctx, event); err != nil {
		e.log.Warn("failed to publish airline event", zap.Error(err))
	}
}
