package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// StatusCode is a flight status as reported by oracles.
type StatusCode int

const (
	StatusUnknown       StatusCode = 0
	StatusOnTime        StatusCode = 10
	StatusLateAirline   StatusCode = 20
	StatusLateWeather   StatusCode = 30
	StatusLateTechnical StatusCode = 40
	StatusLateOther     StatusCode = 50
)

// Statuses lists every status an oracle may report.
var Statuses = []StatusCode{
	StatusOnTime,
	StatusLateAirline,
	StatusLateWeather,
	StatusLateTechnical,
	StatusLateOther,
}

// Valid reports whether the code is one an oracle may submit.
func (s StatusCode) Valid() bool {
	for _, code := range Statuses {
		if s == code {
			return true
		}
	}
	return false
}

func (s StatusCode) String() string {
	switch s {
	case StatusUnknown:
		return "unknown"
	case StatusOnTime:
		return "on_time"
	case StatusLateAirline:
		return "late_airline"
	case StatusLateWeather:
		return "late_weather"
	case StatusLateTechnical:
		return "late_technical"
	case StatusLateOther:
		return "late_other"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Airline is a governance-eligible identity. Contribution only grows;
// Votes holds pending registration votes and is cleared on registration.
type Airline struct {
	Address      string
	Registered   bool
	Contribution decimal.Decimal
	Votes        map[string]bool
}

// Flight identifies one flight instance. Status is write-once.
type Flight struct {
	Key       string
	Airline   string
	Code      string
	Timestamp int64
	Status    StatusCode
	Finalized bool
}

// Policy is one passenger's insurance on one flight.
type Policy struct {
	ID             uuid.UUID
	Passenger      string
	FlightKey      string
	AmountPaid     decimal.Decimal
	PayoutCredited bool
	CreatedAt      time.Time
}

// FlightKey derives the unique key for a flight instance.
func FlightKey(airline, code string, timestamp int64) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d", airline, code, timestamp)))
	return hex.EncodeToString(h[:])
}
