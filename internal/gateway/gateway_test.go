package gateway_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terminal-bench/flightsurety/internal/gateway"
	"github.com/terminal-bench/flightsurety/internal/governance"
	"github.com/terminal-bench/flightsurety/internal/insurance"
	"github.com/terminal-bench/flightsurety/internal/ledger"
	"github.com/terminal-bench/flightsurety/internal/operational"
	"github.com/terminal-bench/flightsurety/internal/oracles"
	"github.com/terminal-bench/flightsurety/pkg/messaging"
)

const (
	appOwner  = "0xA0"
	dataOwner = "0xD0"
	genesis   = "0xA1"
	secret    = "test-secret"
)

type api struct {
	t      *testing.T
	router *gin.Engine
	store  *ledger.Store
}

func newAPI(t *testing.T) *api {
	t.Helper()
	gin.SetMode(gin.TestMode)

	appGuard := operational.NewGuard(appOwner)
	dataGuard := operational.NewGuard(dataOwner)
	store := ledger.NewStore(dataGuard, genesis)
	feed := messaging.NewLog()

	gov := governance.NewEngine(store, appGuard, feed, decimal.NewFromInt(10), nil)
	ins := insurance.NewEngine(store, appGuard, feed, nil, decimal.RequireFromString("1.5"), nil, nil)
	coord := oracles.NewCoordinator(oracles.Config{
		RegistrationFee: decimal.NewFromInt(1),
		MinResponses:    2,
		IndexBuckets:    10,
	}, store, appGuard, feed, ins, nil, nil)

	gw := gateway.New(gov, ins, coord, appGuard, dataGuard, feed, secret, nil)
	return &api{t: t, router: gw.Router(), store: store}
}

// do performs a request as the given identity; identity "" sends no token.
func (a *api) do(method, path, identity string, body interface{}) *httptest.ResponseRecorder {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if identity != "" {
		token, err := gateway.IssueToken(secret, identity, time.Hour)
		require.NoError(a.t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func (a *api) decode(rec *httptest.ResponseRecorder) map[string]interface{} {
	a.t.Helper()
	var out map[string]interface{}
	require.NoError(a.t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealth(t *testing.T) {
	a := newAPI(t)
	rec := a.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthRequired(t *testing.T) {
	a := newAPI(t)

	t.Run("missing token", func(t *testing.T) {
		rec := a.do(http.MethodPost, "/api/v1/airlines", "", map[string]string{"candidate": "0xA2"})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("garbage token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/funds", nil)
		req.Header.Set("Authorization", "Bearer not-a-token")
		rec := httptest.NewRecorder()
		a.router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("token signed with another secret", func(t *testing.T) {
		token, err := gateway.IssueToken("wrong-secret", genesis, time.Hour)
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodGet, "/api/v1/funds", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		a.router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("public reads need no token", func(t *testing.T) {
		rec := a.do(http.MethodGet, "/api/v1/operational", "", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		body := a.decode(rec)
		assert.Equal(t, true, body["app"])
		assert.Equal(t, true, body["data"])
	})
}

func TestFaultsMapToStatusCodes(t *testing.T) {
	a := newAPI(t)

	t.Run("unfunded caller registering an airline gets 402", func(t *testing.T) {
		rec := a.do(http.MethodPost, "/api/v1/airlines", genesis, map[string]string{"candidate": "0xA2"})
		assert.Equal(t, http.StatusPaymentRequired, rec.Code)
	})

	t.Run("unregistered caller gets 403", func(t *testing.T) {
		rec := a.do(http.MethodPost, "/api/v1/airlines", "0xstranger", map[string]string{"candidate": "0xA2"})
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("non-owner toggling operational gets 403", func(t *testing.T) {
		rec := a.do(http.MethodPut, "/api/v1/operational", genesis,
			map[string]interface{}{"mode": false, "is_app": true})
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("paused app answers 503", func(t *testing.T) {
		rec := a.do(http.MethodPut, "/api/v1/operational", appOwner,
			map[string]interface{}{"mode": false, "is_app": true})
		require.Equal(t, http.StatusOK, rec.Code)

		rec = a.do(http.MethodPost, "/api/v1/airlines/fund", genesis, map[string]string{"amount": "10"})
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

		rec = a.do(http.MethodPut, "/api/v1/operational", appOwner,
			map[string]interface{}{"mode": true, "is_app": true})
		require.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("malformed body gets 400", func(t *testing.T) {
		rec := a.do(http.MethodPost, "/api/v1/airlines", genesis, map[string]string{})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestAirlineLifecycleOverHTTP(t *testing.T) {
	a := newAPI(t)

	rec := a.do(http.MethodPost, "/api/v1/airlines/fund", genesis, map[string]string{"amount": "10"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "10", a.decode(rec)["contribution"])

	rec = a.do(http.MethodPost, "/api/v1/airlines", genesis, map[string]string{"candidate": "0xA2"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, a.decode(rec)["registered"])

	rec = a.do(http.MethodGet, "/api/v1/airlines/0xA2", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := a.decode(rec)
	assert.Equal(t, true, body["registered"])
	assert.Equal(t, "0", body["contribution"])

	rec = a.do(http.MethodGet, "/api/v1/airlines", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), a.decode(rec)["count"])
}

func TestOracleAndInsuranceOverHTTP(t *testing.T) {
	a := newAPI(t)
	timestamp := int64(1700000000)

	rec := a.do(http.MethodPost, "/api/v1/flights", genesis,
		map[string]interface{}{"code": "ND1309", "timestamp": timestamp})
	require.Equal(t, http.StatusCreated, rec.Code)
	flightKey := a.decode(rec)["flight_key"].(string)
	require.NotEmpty(t, flightKey)

	rec = a.do(http.MethodPost, "/api/v1/insurance", "0xP1", map[string]interface{}{
		"airline": genesis, "flight": "ND1309", "timestamp": timestamp, "amount": "1",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, flightKey, a.decode(rec)["flight_key"])

	rec = a.do(http.MethodPost, "/api/v1/oracles", "0xoracle-001", map[string]string{"fee": "1"})
	require.Equal(t, http.StatusCreated, rec.Code)
	registered := a.decode(rec)["indexes"].([]interface{})
	assert.Len(t, registered, 3)

	rec = a.do(http.MethodGet, "/api/v1/oracles/indexes", "0xoracle-001", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, registered, a.decode(rec)["indexes"])

	rec = a.do(http.MethodPost, "/api/v1/flights/status", "0xP1", map[string]interface{}{
		"airline": genesis, "flight": "ND1309", "timestamp": timestamp,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	index := int(a.decode(rec)["index"].(float64))
	assert.GreaterOrEqual(t, index, 0)
	assert.Less(t, index, 10)

	t.Run("response on an unassigned index gets 409", func(t *testing.T) {
		held := make(map[int]bool, 3)
		for _, v := range registered {
			held[int(v.(float64))] = true
		}
		unassigned := 0
		for held[unassigned] {
			unassigned++
		}
		rec := a.do(http.MethodPost, "/api/v1/oracles/responses", "0xoracle-001", map[string]interface{}{
			"index": unassigned, "airline": genesis, "flight": "ND1309", "timestamp": timestamp, "status": 20,
		})
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("funds start empty", func(t *testing.T) {
		rec := a.do(http.MethodGet, "/api/v1/funds", "0xP1", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "0", a.decode(rec)["balance"])

		rec = a.do(http.MethodPost, "/api/v1/funds/withdraw", "0xP1", map[string]string{"amount": "1"})
		assert.Equal(t, http.StatusPaymentRequired, rec.Code)
	})
}

func TestWithdrawOverHTTP(t *testing.T) {
	a := newAPI(t)
	_, err := a.store.Credit("0xP1", decimal.RequireFromString("1.5"))
	require.NoError(t, err)

	rec := a.do(http.MethodPost, "/api/v1/funds/withdraw", "0xP1", map[string]string{"amount": "1.5"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0", a.decode(rec)["balance"])

	rec = a.do(http.MethodPost, "/api/v1/funds/withdraw", "0xP1", map[string]string{"amount": "1.5"})
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
}
