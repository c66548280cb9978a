// Package ledger is the canonical state store: airlines, flights,
// policies and passenger credit balances. It enforces structural
// invariants only; registration rules, consensus and payout policy live
// in the engines above it. Every mutation is serialized and atomic: a
// failed precondition leaves no trace.
package ledger

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/terminal-bench/flightsurety/internal/faults"
	"github.com/terminal-bench/flightsurety/internal/operational"
)

// Store holds all persistent state behind one mutex. Writes require the
// data layer to be operational; reads are never gated.
type Store struct {
	guard *operational.Guard

	mu       sync.RWMutex
	airlines map[string]*Airline
	flights  map[string]*Flight
	policies map[uuid.UUID]*Policy
	byFlight map[string][]uuid.UUID
	byHolder map[string]uuid.UUID // passenger|flightKey -> policy
	credits  map[string]decimal.Decimal
}

// NewStore creates the store and registers the genesis airline
// unconditionally. The genesis airline is the trust anchor for early
// governance growth.
func NewStore(guard *operational.Guard, genesisAirline string) *Store {
	s := &Store{
		guard:    guard,
		airlines: make(map[string]*Airline),
		flights:  make(map[string]*Flight),
		policies: make(map[uuid.UUID]*Policy),
		byFlight: make(map[string][]uuid.UUID),
		byHolder: make(map[string]uuid.UUID),
		credits:  make(map[string]decimal.Decimal),
	}
	s.airlines[genesisAirline] = &Airline{
		Address:      genesisAirline,
		Registered:   true,
		Contribution: decimal.Zero,
		Votes:        make(map[string]bool),
	}
	return s
}

// Guard returns the data-layer guard.
func (s *Store) Guard() *operational.Guard {
	return s.guard
}

func (s *Store) airline(addr string) *Airline {
	a, ok := s.airlines[addr]
	if !ok {
		a = &Airline{
			Address:      addr,
			Contribution: decimal.Zero,
			Votes:        make(map[string]bool),
		}
		s.airlines[addr] = a
	}
	return a
}

// IsRegisteredAirline reports whether the address is a registered airline.
func (s *Store) IsRegisteredAirline(addr string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.airlines[addr]
	return ok && a.Registered
}

// RegisteredAirlines returns the number of registered airlines.
func (s *Store) RegisteredAirlines() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, a := range s.airlines {
		if a.Registered {
			n++
		}
	}
	return n
}

// FundingContribution returns the cumulative contribution of an airline.
func (s *Store) FundingContribution(addr string) decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if a, ok := s.airlines[addr]; ok {
		return a.Contribution
	}
	return decimal.Zero
}

// RegisterAirline marks the address as registered and clears its
// pending votes. Registering an already registered airline fails.
func (s *Store) RegisterAirline(addr string) error {
	if err := s.guard.Require(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	a := s.airline(addr)
	if a.Registered {
		return fmt.Errorf("airline %s already registered: %w", addr, faults.ErrValidation)
	}
	a.Registered = true
	a.Votes = make(map[string]bool)
	return nil
}

// AddFunding adds amount to the airline's cumulative contribution and
// returns the new total. Contributions never decrease.
func (s *Store) AddFunding(addr string, amount decimal.Decimal) (decimal.Decimal, error) {
	if err := s.guard.Require(); err != nil {
		return decimal.Zero, err
	}
	if amount.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, fmt.Errorf("funding amount must be positive: %w", faults.ErrValidation)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	a := s.airline(addr)
	a.Contribution = a.Contribution.Add(amount)
	return a.Contribution, nil
}

// RecordVote adds voter to the candidate's vote set and returns the new
// vote count. A duplicate vote from the same voter fails without effect.
func (s *Store) RecordVote(candidate, voter string) (int, error) {
	if err := s.guard.Require(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	a := s.airline(candidate)
	if a.Registered {
		return 0, fmt.Errorf("airline %s already registered: %w", candidate, faults.ErrValidation)
	}
	if a.Votes[voter] {
		return 0, fmt.Errorf("duplicate vote from %s for %s: %w", voter, candidate, faults.ErrValidation)
	}
	a.Votes[voter] = true
	return len(a.Votes), nil
}

// CreateFlight registers a flight instance and returns its key.
func (s *Store) CreateFlight(airline, code string, timestamp int64) (string, error) {
	if err := s.guard.Require(); err != nil {
		return "", err
	}
	key := FlightKey(airline, code, timestamp)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.flights[key]; exists {
		return "", fmt.Errorf("flight %s/%s@%d already registered: %w", airline, code, timestamp, faults.ErrValidation)
	}
	s.flights[key] = &Flight{
		Key:       key,
		Airline:   airline,
		Code:      code,
		Timestamp: timestamp,
		Status:    StatusUnknown,
	}
	return key, nil
}

// Flight returns a copy of the flight.
func (s *Store) Flight(key string) (Flight, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.flights[key]
	if !ok {
		return Flight{}, false
	}
	return *f, true
}

// SetFlightStatus writes the terminal status. The status is write-once:
// any second call for the same flight fails.
func (s *Store) SetFlightStatus(key string, status StatusCode) error {
	_, err := s.FinalizeFlight(key, status, decimal.Zero)
	return err
}

// PayoutCredit is one policy credit applied during finalization.
type PayoutCredit struct {
	Policy  Policy
	Payout  decimal.Decimal
	Balance decimal.Decimal
}

// FinalizeFlight writes the terminal status and, when multiplier is
// positive, credits every uncredited policy on the flight with
// amountPaid times multiplier. Status write, payout flags and balance
// credits commit as one mutation under one guard check: a pause or a
// failed precondition aborts the whole transition with no trace.
func (s *Store) FinalizeFlight(key string, status StatusCode, multiplier decimal.Decimal) ([]PayoutCredit, error) {
	if err := s.guard.Require(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.flights[key]
	if !ok {
		return nil, fmt.Errorf("flight %s not found: %w", key, faults.ErrValidation)
	}
	if f.Finalized {
		return nil, fmt.Errorf("flight %s already finalized: %w", key, faults.ErrValidation)
	}

	var credits []PayoutCredit
	if multiplier.IsPositive() {
		for _, id := range s.byFlight[key] {
			p := s.policies[id]
			if p.PayoutCredited {
				continue
			}
			payout := p.AmountPaid.Mul(multiplier)
			p.PayoutCredited = true
			balance := s.credits[p.Passenger].Add(payout)
			s.credits[p.Passenger] = balance
			credits = append(credits, PayoutCredit{Policy: *p, Payout: payout, Balance: balance})
		}
	}
	f.Status = status
	f.Finalized = true
	return credits, nil
}

// CreatePolicy creates one passenger's policy on a flight. A second
// policy for the same passenger and flight fails.
func (s *Store) CreatePolicy(passenger, flightKey string, amount decimal.Decimal) (Policy, error) {
	if err := s.guard.Require(); err != nil {
		return Policy{}, err
	}
	holder := passenger + "|" + flightKey

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byHolder[holder]; exists {
		return Policy{}, fmt.Errorf("policy for %s on flight %s already exists: %w", passenger, flightKey, faults.ErrValidation)
	}
	p := &Policy{
		ID:         uuid.New(),
		Passenger:  passenger,
		FlightKey:  flightKey,
		AmountPaid: amount,
		CreatedAt:  time.Now(),
	}
	s.policies[p.ID] = p
	s.byFlight[flightKey] = append(s.byFlight[flightKey], p.ID)
	s.byHolder[holder] = p.ID
	return *p, nil
}

// PoliciesForFlight returns copies of all policies on a flight.
func (s *Store) PoliciesForFlight(flightKey string) []Policy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byFlight[flightKey]
	out := make([]Policy, 0, len(ids))
	for _, id := range ids {
		out = append(out, *s.policies[id])
	}
	return out
}

// Balance returns the passenger's credit balance.
func (s *Store) Balance(passenger string) decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if b, ok := s.credits[passenger]; ok {
		return b
	}
	return decimal.Zero
}

// Credit increases the passenger's balance and returns the new balance.
func (s *Store) Credit(passenger string, amount decimal.Decimal) (decimal.Decimal, error) {
	if err := s.guard.Require(); err != nil {
		return decimal.Zero, err
	}
	if amount.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, fmt.Errorf("credit amount must be positive: %w", faults.ErrValidation)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	balance := s.credits[passenger].Add(amount)
	s.credits[passenger] = balance
	return balance, nil
}

// Debit decreases the passenger's balance and returns the new balance.
// A debit exceeding the balance fails with ErrFunding.
func (s *Store) Debit(passenger string, amount decimal.Decimal) (decimal.Decimal, error) {
	if err := s.guard.Require(); err != nil {
		return decimal.Zero, err
	}
	if amount.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, fmt.Errorf("debit amount must be positive: %w", faults.ErrValidation)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	balance := s.credits[passenger]
	if balance.LessThan(amount) {
		return decimal.Zero, fmt.Errorf("balance %s below debit %s: %w", balance, amount, faults.ErrFunding)
	}
	balance = balance.Sub(amount)
	s.credits[passenger] = balance
	return balance, nil
}
