// Package insurance implements underwriting and payout: flight
// registration, policy purchase, the payout credit applied when
// consensus confirms an airline-fault delay, and withdrawal.
package insurance

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

// TransferFunc performs the external transfer of withdrawn funds. The
// ledger debit is recorded before this runs; a transfer failure is
// reported upward and never retried or re-credited here.
type TransferFunc func(ctx context.Context, passenger string, amount decimal.Decimal) error

// Engine is the insurance and payout engine.
type Engine struct {
	mu sync.Mutex

	store      *ledger.Store
	guard      *operational.Guard
	bus        messaging.Publisher
	rec        *metrics.Recorder
	multiplier decimal.Decimal
	transfer   TransferFunc
	log        *zap.Logger
}

// NewEngine creates an insurance engine. multiplier is the payout
// factor applied to the insured amount (1.5 in production). transfer
// may be nil when no external settlement is wired.
func NewEngine(store *ledger.Store, guard *operational.Guard, bus messaging.Publisher, rec *metrics.Recorder, multiplier decimal.Decimal, transfer TransferFunc, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		store:      store,
		guard:      guard,
		bus:        bus,
		rec:        rec,
		multiplier: multiplier,
		transfer:   transfer,
		log:        log,
	}
}

// RegisterFlight creates a flight instance for a registered airline and
// returns its key.
func (e *Engine) RegisterFlight(ctx context.Context, airline, code string, timestamp int64) (string, error) {
	if err := e.guard.Require(); err != nil {
		return "", err
	}
	if !e.store.IsRegisteredAirline(airline) {
		return "", fmt.Errorf("airline %s is not registered: %w", airline, faults.ErrAuthorization)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	key, err := e.store.CreateFlight(airline, code, timestamp)
	if err != nil {
		return "", err
	}
	e.log.Info("flight registered",
		zap.String("flight_key", key), zap.String("airline", airline), zap.String("code", code))
	e.publish(ctx, messaging.EventTypeFlightRegistered, messaging.FlightEvent{
		FlightKey: key,
		Airline:   airline,
		Flight:    code,
		Timestamp: timestamp,
	})
	return key, nil
}

// BuyInsurance creates a policy for the passenger on the flight.
// Policies can only be created before the flight is finalized.
func (e *Engine) BuyInsurance(ctx context.Context, airline, flight string, timestamp int64, amount decimal.Decimal, passenger string) (ledger.Policy, error) {
	if err := e.guard.Require(); err != nil {
		return ledger.Policy{}, err
	}
	if amount.LessThanOrEqual(decimal.Zero) {
		return ledger.Policy{}, fmt.Errorf("insured amount must be positive: %w", faults.ErrValidation)
	}
	key := ledger.FlightKey(airline, flight, timestamp)

	e.mu.Lock()
	defer e.mu.Unlock()

	f, ok := e.store.Flight(key)
	if !ok {
		return ledger.Policy{}, fmt.Errorf("flight %s/%s@%d not registered: %w", airline, flight, timestamp, faults.ErrValidation)
	}
	if f.Finalized {
		return ledger.Policy{}, fmt.Errorf("flight %s already finalized: %w", key, faults.ErrValidation)
	}

	policy, err := e.store.CreatePolicy(passenger, key, amount)
	if err != nil {
		return ledger.Policy{}, err
	}
	e.log.Info("insurance purchased",
		zap.String("flight_key", key), zap.String("passenger", passenger),
		zap.String("amount", amount.String()))
	e.publish(ctx, messaging.EventTypeInsurancePurchased, messaging.InsuranceEvent{
		PolicyID:  policy.ID,
		Passenger: passenger,
		FlightKey: key,
		Amount:    amount.String(),
	})
	return policy, nil
}

// FinalizeFlight is the finalize hook invoked by the consensus
// coordinator, exactly once per flight. It writes the terminal status
// and, when the confirmed status is an airline-fault delay, credits
// every uncredited policy with amountPaid times the payout multiplier.
// The status write and all credits commit as one ledger mutation, so a
// paused data layer rejects the whole transition instead of leaving a
// finalized flight with lost payouts.
func (e *Engine) FinalizeFlight(ctx context.Context, flightKey string, status ledger.StatusCode) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	multiplier := decimal.Zero
	if status == ledger.StatusLateAirline {
		multiplier = e.multiplier
	}
	credits, err := e.store.FinalizeFlight(flightKey, status, multiplier)
	if err != nil {
		return err
	}
	for _, credit := range credits {
		e.log.Info("payout credited",
			zap.String("flight_key", flightKey), zap.String("passenger", credit.Policy.Passenger),
			zap.String("payout", credit.Payout.String()))
		e.rec.PayoutCredited(flightKey, credit.Policy.Passenger, credit.Payout)
		e.publish(ctx, messaging.EventTypeLedgerCredit, messaging.LedgerEntryEvent{
			Passenger: credit.Policy.Passenger,
			Type:      "credit",
			Amount:    credit.Payout.String(),
			Balance:   credit.Balance.String(),
			Reference: flightKey,
		})
	}
	return nil
}

// FundsBalance returns the passenger's credit balance. Pure read.
func (e *Engine) FundsBalance(passenger string) decimal.Decimal {
	return e.store.Balance(passenger)
}

// Withdraw debits the passenger's balance, then signals the external
// transfer. The debit is committed before the transfer so a re-entrant
// withdrawal observes the reduced balance; a failed transfer is
// surfaced as a funding error and is not retried here.
func (e *Engine) Withdraw(ctx context.Context, amount decimal.Decimal, passenger string) error {
	if err := e.guard.Require(); err != nil {
		return err
	}
	if amount.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("withdrawal amount must be positive: %w", faults.ErrValidation)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	balance, err := e.store.Debit(passenger, amount)
	if err != nil {
		return err
	}
	e.publish(ctx, messaging.EventTypeLedgerDebit, messaging.LedgerEntryEvent{
		Passenger: passenger,
		Type:      "debit",
		Amount:    amount.String(),
		Balance:   balance.String(),
		Reference: "withdrawal",
	})

	if e.transfer != nil {
		if err := e.transfer(ctx, passenger, amount); err != nil {
			e.log.Error("external transfer failed",
				zap.String("passenger", passenger), zap.String("amount", amount.String()),
				zap.Error(err))
			return fmt.Errorf("external transfer of %s failed: %w", amount, faults.ErrFunding)
		}
	}
	e.log.Info("withdrawal completed",
		zap.String("passenger", passenger), zap.String("amount", amount.String()))
	return nil
}

func (e *Engine) publish(ctx context.Context, eventType string, data interface{}) {
	if e.bus == nil {
		return
	}
	event, err := messaging.NewEvent(eventType, data)
	if err != nil {
		return
	}
	if err := e.bus.Publish(ctx, event); err != nil {
		e.log.Warn("failed to publish insurance event", zap.Error(err))
	}
}
