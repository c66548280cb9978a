// Package metrics records consensus telemetry as InfluxDB points. A nil
// Recorder is valid and drops everything, so engines never branch on
// whether telemetry is configured.
package metrics

import (
	"context"
	"strconv"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/shopspring/decimal"
)

// Recorder writes consensus measurements.
type Recorder struct {
	write api.WriteAPIBlocking
}

// New creates a recorder on the given influx client.
func New(client influxdb2.Client, org, bucket string) *Recorder {
	return &Recorder{write: client.WriteAPIBlocking(org, bucket)}
}

func (r *Recorder) point(measurement string, tags map[string]string, fields map[string]interface{}) {
	if r == nil || r.write == nil {
		return
	}
	p := influxdb2.NewPoint(measurement, tags, fields, time.Now())
	// Telemetry is best-effort; a write failure never fails the operation.
	_ = r.write.WritePoint(context.Background(), p)
}

// RequestDispatched records an oracle request dispatch.
func (r *Recorder) RequestDispatched(flightKey string, index int) {
	r.point("oracle_request",
		map[string]string{"flight": flightKey},
		map[string]interface{}{"index": index})
}

// ResponseAccepted records an accepted oracle response.
func (r *Recorder) ResponseAccepted(flightKey string, status int) {
	r.point("oracle_response",
		map[string]string{"flight": flightKey, "status": strconv.Itoa(status), "outcome": "accepted"},
		map[string]interface{}{"count": 1})
}

// ResponseRejected records a rejected oracle response.
func (r *Recorder) ResponseRejected(flightKey, reason string) {
	r.point("oracle_response",
		map[string]string{"flight": flightKey, "outcome": "rejected", "reason": reason},
		map[string]interface{}{"count": 1})
}

// Finalized records a consensus finalization.
func (r *Recorder) Finalized(flightKey string, status, responses int) {
	r.point("flight_finalized",
		map[string]string{"flight": flightKey, "status": strconv.Itoa(status)},
		map[string]interface{}{"responses": responses})
}

// PayoutCredited records one policy payout.
func (r *Recorder) PayoutCredited(flightKey, passenger string, amount decimal.Decimal) {
	f, _ := amount.Float64()
	r.point("payout",
		map[string]string{"flight": flightKey, "passenger": passenger},
		map[string]interface{}{"amount": f})
}
