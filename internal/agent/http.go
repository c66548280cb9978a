package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/terminal-bench/flightsurety/internal/faults"
	"github.com/terminal-bench/flightsurety/internal/gateway"
	"github.com/terminal-bench/flightsurety/internal/ledger"
	"github.com/terminal-bench/flightsurety/pkg/circuit"
)

// HTTPSubmitter talks to the app gateway over HTTP, presenting each
// oracle identity with its own bearer token. It maps gateway status
// codes back onto the error taxonomy so agents handle remote and
// in-process rejections identically. A circuit breaker guards the
// transport: repeated connection failures open it and the fleet backs
// off instead of hammering a downed gateway.
type HTTPSubmitter struct {
	baseURL string
	secret  string
	client  *http.Client
	breaker *circuit.Breaker
}

// NewHTTPSubmitter creates a submitter for the gateway at baseURL.
func NewHTTPSubmitter(baseURL, jwtSecret string) *HTTPSubmitter {
	return &HTTPSubmitter{
		baseURL: baseURL,
		secret:  jwtSecret,
		client:  &http.Client{Timeout: 10 * time.Second},
		breaker: circuit.New(circuit.Config{MaxFailures: 5, Cooldown: 10 * time.Second}),
	}
}

// RegisterOracle registers the identity and returns its indexes.
func (h *HTTPSubmitter) RegisterOracle(ctx context.Context, identity string, fee decimal.Decimal) ([3]int, error) {
	var resp struct {
		Indexes [3]int `json:"indexes"`
	}
	err := h.do(ctx, http.MethodPost, "/api/v1/oracles", identity,
		map[string]interface{}{"fee": fee.String()}, &resp)
	if err != nil {
		return [3]int{}, err
	}
	return resp.Indexes, nil
}

// Indexes fetches the identity's assigned indexes.
func (h *HTTPSubmitter) Indexes(ctx context.Context, identity string) ([3]int, error) {
	var resp struct {
		Indexes [3]int `json:"indexes"`
	}
	err := h.do(ctx, http.MethodGet, "/api/v1/oracles/indexes", identity, nil, &resp)
	if err != nil {
		return [3]int{}, err
	}
	return resp.Indexes, nil
}

// SubmitOracleResponse submits one status report.
func (h *HTTPSubmitter) SubmitOracleResponse(ctx context.Context, index int, airline, flight string, timestamp int64, status ledger.StatusCode, responder string) (bool, error) {
	var resp struct {
		Finalized bool `json:"finalized"`
	}
	err := h.do(ctx, http.MethodPost, "/api/v1/oracles/responses", responder,
		map[string]interface{}{
			"index":     index,
			"airline":   airline,
			"flight":    flight,
			"timestamp": timestamp,
			"status":    int(status),
		}, &resp)
	if err != nil {
		return false, err
	}
	return resp.Finalized, nil
}

func (h *HTTPSubmitter) do(ctx context.Context, method, path, identity string, body interface{}, out interface{}) error {
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, h.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	token, err := gateway.IssueToken(h.secret, identity, time.Hour)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	// Only transport failures trip the breaker: any HTTP response, even
	// a rejection, means the gateway is reachable.
	var res *http.Response
	if err := h.breaker.Do(func() error {
		var reqErr error
		res, reqErr = h.client.Do(req)
		return reqErr
	}); err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(res.Body).Decode(&apiErr)
		return fmt.Errorf("%s %s: %s: %w", method, path, apiErr.Error, faultFor(res.StatusCode))
	}
	if out != nil {
		return json.NewDecoder(res.Body).Decode(out)
	}
	return nil
}

// faultFor inverts the gateway's error-to-status mapping.
func faultFor(status int) error {
	switch status {
	case http.StatusForbidden:
		return faults.ErrAuthorization
	case http.StatusPaymentRequired:
		return faults.ErrFunding
	case http.StatusServiceUnavailable:
		return faults.ErrOperational
	case http.StatusConflict:
		return faults.ErrConsensus
	case http.StatusBadRequest:
		return faults.ErrValidation
	default:
		return fmt.Errorf("http status %d", status)
	}
}
