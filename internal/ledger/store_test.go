package ledger_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terminal-bench/flightsurety/internal/faults"
	"github.com/terminal-bench/flightsurety/internal/ledger"
	"github.com/terminal-bench/flightsurety/internal/operational"
)

const (
	dataOwner = "0xD0"
	genesis   = "0xA1"
)

func newStore() *ledger.Store {
	return ledger.NewStore(operational.NewGuard(dataOwner), genesis)
}

func TestGenesisAirline(t *testing.T) {
	s := newStore()

	assert.True(t, s.IsRegisteredAirline(genesis))
	assert.Equal(t, 1, s.RegisteredAirlines())
	assert.True(t, s.FundingContribution(genesis).IsZero())
}

func TestRegisterAirline(t *testing.T) {
	t.Run("registers once", func(t *testing.T) {
		s := newStore()

		require.NoError(t, s.RegisterAirline("0xA2"))
		assert.True(t, s.IsRegisteredAirline("0xA2"))
		assert.Equal(t, 2, s.RegisteredAirlines())

		err := s.RegisterAirline("0xA2")
		assert.ErrorIs(t, err, faults.ErrValidation)
	})

	t.Run("clears pending votes", func(t *testing.T) {
		s := newStore()

		count, err := s.RecordVote("0xA5", genesis)
		require.NoError(t, err)
		assert.Equal(t, 1, count)

		require.NoError(t, s.RegisterAirline("0xA5"))

		// A registered airline can no longer be voted for.
		_, err = s.RecordVote("0xA5", "0xA2")
		assert.ErrorIs(t, err, faults.ErrValidation)
	})
}

func TestFunding(t *testing.T) {
	s := newStore()

	t.Run("accumulates", func(t *testing.T) {
		total, err := s.AddFunding(genesis, decimal.NewFromInt(4))
		require.NoError(t, err)
		assert.True(t, total.Equal(decimal.NewFromInt(4)))

		total, err = s.AddFunding(genesis, decimal.NewFromInt(6))
		require.NoError(t, err)
		assert.True(t, total.Equal(decimal.NewFromInt(10)))
		assert.True(t, s.FundingContribution(genesis).Equal(decimal.NewFromInt(10)))
	})

	t.Run("rejects non-positive amounts", func(t *testing.T) {
		_, err := s.AddFunding(genesis, decimal.Zero)
		assert.ErrorIs(t, err, faults.ErrValidation)

		_, err = s.AddFunding(genesis, decimal.NewFromInt(-1))
		assert.ErrorIs(t, err, faults.ErrValidation)

		assert.True(t, s.FundingContribution(genesis).Equal(decimal.NewFromInt(10)))
	})
}

func TestVotes(t *testing.T) {
	s := newStore()

	count, err := s.RecordVote("0xA5", genesis)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	_, err = s.RecordVote("0xA5", genesis)
	assert.ErrorIs(t, err, faults.ErrValidation)

	count, err = s.RecordVote("0xA5", "0xA2")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestFlights(t *testing.T) {
	s := newStore()

	key, err := s.CreateFlight(genesis, "ND1309", 1700000000)
	require.NoError(t, err)
	assert.Equal(t, ledger.FlightKey(genesis, "ND1309", 1700000000), key)

	t.Run("duplicate flight rejected", func(t *testing.T) {
		_, err := s.CreateFlight(genesis, "ND1309", 1700000000)
		assert.ErrorIs(t, err, faults.ErrValidation)
	})

	t.Run("same code at another time is distinct", func(t *testing.T) {
		other, err := s.CreateFlight(genesis, "ND1309", 1700003600)
		require.NoError(t, err)
		assert.NotEqual(t, key, other)
	})

	t.Run("status is write-once", func(t *testing.T) {
		f, ok := s.Flight(key)
		require.True(t, ok)
		assert.Equal(t, ledger.StatusUnknown, f.Status)
		assert.False(t, f.Finalized)

		require.NoError(t, s.SetFlightStatus(key, ledger.StatusLateAirline))

		f, ok = s.Flight(key)
		require.True(t, ok)
		assert.Equal(t, ledger.StatusLateAirline, f.Status)
		assert.True(t, f.Finalized)

		err := s.SetFlightStatus(key, ledger.StatusOnTime)
		assert.ErrorIs(t, err, faults.ErrValidation)

		f, _ = s.Flight(key)
		assert.Equal(t, ledger.StatusLateAirline, f.Status)
	})

	t.Run("unknown flight", func(t *testing.T) {
		_, ok := s.Flight("missing")
		assert.False(t, ok)
		assert.ErrorIs(t, s.SetFlightStatus("missing", ledger.StatusOnTime), faults.ErrValidation)
	})
}

func TestPolicies(t *testing.T) {
	s := newStore()
	key, err := s.CreateFlight(genesis, "ND1309", 1700000000)
	require.NoError(t, err)

	p, err := s.CreatePolicy("0xP1", key, decimal.NewFromInt(1))
	require.NoError(t, err)
	assert.Equal(t, "0xP1", p.Passenger)
	assert.False(t, p.PayoutCredited)

	t.Run("one policy per passenger and flight", func(t *testing.T) {
		_, err := s.CreatePolicy("0xP1", key, decimal.NewFromInt(1))
		assert.ErrorIs(t, err, faults.ErrValidation)

		_, err = s.CreatePolicy("0xP2", key, decimal.NewFromInt(1))
		assert.NoError(t, err)
		assert.Len(t, s.PoliciesForFlight(key), 2)
	})
}

func TestFinalizeFlight(t *testing.T) {
	multiplier := decimal.RequireFromString("1.5")

	t.Run("credits every policy with the status write", func(t *testing.T) {
		s := newStore()
		key, err := s.CreateFlight(genesis, "ND1309", 1700000000)
		require.NoError(t, err)
		_, err = s.CreatePolicy("0xP1", key, decimal.NewFromInt(1))
		require.NoError(t, err)
		_, err = s.CreatePolicy("0xP2", key, decimal.NewFromInt(2))
		require.NoError(t, err)

		credits, err := s.FinalizeFlight(key, ledger.StatusLateAirline, multiplier)
		require.NoError(t, err)
		require.Len(t, credits, 2)

		f, _ := s.Flight(key)
		assert.True(t, f.Finalized)
		assert.Equal(t, ledger.StatusLateAirline, f.Status)
		assert.True(t, s.Balance("0xP1").Equal(decimal.RequireFromString("1.5")))
		assert.True(t, s.Balance("0xP2").Equal(decimal.NewFromInt(3)))
		for _, p := range s.PoliciesForFlight(key) {
			assert.True(t, p.PayoutCredited)
		}

		_, err = s.FinalizeFlight(key, ledger.StatusLateAirline, multiplier)
		assert.ErrorIs(t, err, faults.ErrValidation)
		assert.True(t, s.Balance("0xP1").Equal(decimal.RequireFromString("1.5")))
	})

	t.Run("zero multiplier finalizes without credits", func(t *testing.T) {
		s := newStore()
		key, err := s.CreateFlight(genesis, "ND1309", 1700000000)
		require.NoError(t, err)
		_, err = s.CreatePolicy("0xP1", key, decimal.NewFromInt(1))
		require.NoError(t, err)

		credits, err := s.FinalizeFlight(key, ledger.StatusOnTime, decimal.Zero)
		require.NoError(t, err)
		assert.Empty(t, credits)
		assert.True(t, s.Balance("0xP1").IsZero())
		assert.False(t, s.PoliciesForFlight(key)[0].PayoutCredited)
	})

	t.Run("data pause aborts the whole transition", func(t *testing.T) {
		guard := operational.NewGuard(dataOwner)
		s := ledger.NewStore(guard, genesis)
		key, err := s.CreateFlight(genesis, "ND1309", 1700000000)
		require.NoError(t, err)
		_, err = s.CreatePolicy("0xP1", key, decimal.NewFromInt(1))
		require.NoError(t, err)

		require.NoError(t, guard.SetOperational(false, dataOwner))
		_, err = s.FinalizeFlight(key, ledger.StatusLateAirline, multiplier)
		assert.ErrorIs(t, err, faults.ErrOperational)

		f, _ := s.Flight(key)
		assert.False(t, f.Finalized)
		assert.False(t, s.PoliciesForFlight(key)[0].PayoutCredited)
		assert.True(t, s.Balance("0xP1").IsZero())
	})
}

func TestCredits(t *testing.T) {
	s := newStore()

	assert.True(t, s.Balance("0xP1").IsZero())

	balance, err := s.Credit("0xP1", decimal.RequireFromString("1.5"))
	require.NoError(t, err)
	assert.True(t, balance.Equal(decimal.RequireFromString("1.5")))

	t.Run("debit within balance", func(t *testing.T) {
		balance, err := s.Debit("0xP1", decimal.NewFromInt(1))
		require.NoError(t, err)
		assert.True(t, balance.Equal(decimal.RequireFromString("0.5")))
	})

	t.Run("debit beyond balance fails without effect", func(t *testing.T) {
		_, err := s.Debit("0xP1", decimal.NewFromInt(1))
		assert.ErrorIs(t, err, faults.ErrFunding)
		assert.True(t, s.Balance("0xP1").Equal(decimal.RequireFromString("0.5")))
	})

	t.Run("non-positive amounts rejected", func(t *testing.T) {
		_, err := s.Credit("0xP1", decimal.Zero)
		assert.ErrorIs(t, err, faults.ErrValidation)
		_, err = s.Debit("0xP1", decimal.Zero)
		assert.ErrorIs(t, err, faults.ErrValidation)
	})
}

func TestDataPauseGatesWritesOnly(t *testing.T) {
	guard := operational.NewGuard(dataOwner)
	s := ledger.NewStore(guard, genesis)

	key, err := s.CreateFlight(genesis, "ND1309", 1700000000)
	require.NoError(t, err)
	_, err = s.Credit("0xP1", decimal.NewFromInt(2))
	require.NoError(t, err)

	require.NoError(t, guard.SetOperational(false, dataOwner))

	t.Run("writes blocked", func(t *testing.T) {
		assert.ErrorIs(t, s.RegisterAirline("0xA2"), faults.ErrOperational)
		_, err := s.AddFunding(genesis, decimal.NewFromInt(1))
		assert.ErrorIs(t, err, faults.ErrOperational)
		_, err = s.CreateFlight(genesis, "ND1310", 1700000000)
		assert.ErrorIs(t, err, faults.ErrOperational)
		assert.ErrorIs(t, s.SetFlightStatus(key, ledger.StatusOnTime), faults.ErrOperational)
		_, err = s.Debit("0xP1", decimal.NewFromInt(1))
		assert.ErrorIs(t, err, faults.ErrOperational)
	})

	t.Run("reads still served", func(t *testing.T) {
		assert.True(t, s.IsRegisteredAirline(genesis))
		_, ok := s.Flight(key)
		assert.True(t, ok)
		assert.True(t, s.Balance("0xP1").Equal(decimal.NewFromInt(2)))
	})

	t.Run("writes resume after unpause", func(t *testing.T) {
		require.NoError(t, guard.SetOperational(true, dataOwner))
		assert.NoError(t, s.RegisterAirline("0xA2"))
	})
}
