// Package gateway exposes the system's entry points over HTTP for the
// external collaborators: the dapp, the oracle daemons, and the status
// service. The caller's ledger address comes from the bearer token.
package gateway

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/terminal-bench/flightsurety/internal/faults"
	"github.com/terminal-bench/flightsurety/internal/governance"
	"github.com/terminal-bench/flightsurety/internal/insurance"
	"github.com/terminal-bench/flightsurety/internal/ledger"
	"github.com/terminal-bench/flightsurety/internal/operational"
	"github.com/terminal-bench/flightsurety/internal/oracles"
	"github.com/terminal-bench/flightsurety/pkg/messaging"
)

// Gateway is the HTTP surface of the app service.
type Gateway struct {
	router      *gin.Engine
	governance  *governance.Engine
	insurance   *insurance.Engine
	coordinator *oracles.Coordinator
	appGuard    *operational.Guard
	dataGuard   *operational.Guard
	feed        messaging.Feed
	secret      string
	log         *zap.Logger
}

// New creates the gateway. feed may be nil; the websocket stream is
// then unavailable.
func New(gov *governance.Engine, ins *insurance.Engine, coord *oracles.Coordinator, appGuard, dataGuard *operational.Guard, feed messaging.Feed, jwtSecret string, log *zap.Logger) *Gateway {
	if log == nil {
		log = zap.NewNop()
	}
	g := &Gateway{
		router:      gin.New(),
		governance:  gov,
		insurance:   ins,
		coordinator: coord,
		appGuard:    appGuard,
		dataGuard:   dataGuard,
		feed:        feed,
		secret:      jwtSecret,
		log:         log,
	}
	g.router.Use(gin.Recovery())
	g.setupRoutes()
	return g
}

// Router returns the underlying gin engine, for serving and for tests.
func (g *Gateway) Router() *gin.Engine {
	return g.router
}

func (g *Gateway) setupRoutes() {
	g.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})
	g.router.GET("/ws/events", g.streamEvents)

	v1 := g.router.Group("/api/v1")
	v1.GET("/operational", g.getOperational)
	v1.GET("/airlines", g.getAirlines)
	v1.GET("/airlines/:address", g.getAirline)

	auth := v1.Group("", g.authMiddleware())
	auth.PUT("/operational", g.setOperational)
	auth.POST("/airlines", g.registerAirline)
	auth.POST("/airlines/fund", g.fund)
	auth.POST("/flights", g.registerFlight)
	auth.POST("/flights/status", g.fetchFlightStatus)
	auth.POST("/oracles", g.registerOracle)
	auth.GET("/oracles/indexes", g.getIndexes)
	auth.POST("/oracles/responses", g.submitResponse)
	auth.POST("/insurance", g.buyInsurance)
	auth.GET("/funds", g.getFunds)
	auth.POST("/funds/withdraw", g.withdraw)
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, faults.ErrAuthorization):
		return http.StatusForbidden
	case errors.Is(err, faults.ErrFunding):
		return http.StatusPaymentRequired
	case errors.Is(err, faults.ErrOperational):
		return http.StatusServiceUnavailable
	case errors.Is(err, faults.ErrConsensus):
		return http.StatusConflict
	case errors.Is(err, faults.ErrValidation):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func fail(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}

func (g *Gateway) getOperational(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"app":  g.appGuard.IsOperational(),
		"data": g.dataGuard.IsOperational(),
	})
}

func (g *Gateway) setOperational(c *gin.Context) {
	var req struct {
		Mode  bool `json:"mode"`
		IsApp bool `json:"is_app"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	guard := g.dataGuard
	if req.IsApp {
		guard = g.appGuard
	}
	if err := guard.SetOperational(req.Mode, identity(c)); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"operational": req.Mode})
}

func (g *Gateway) getAirlines(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"count": g.governance.RegisteredCount()})
}

func (g *Gateway) getAirline(c *gin.Context) {
	address := c.Param("address")
	c.JSON(http.StatusOK, gin.H{
		"address":      address,
		"registered":   g.governance.IsRegistered(address),
		"contribution": g.governance.Contribution(address).String(),
	})
}

func (g *Gateway) registerAirline(c *gin.Context) {
	var req struct {
		Candidate string `json:"candidate" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	registered, votes, err := g.governance.RegisterAirline(c.Request.Context(), req.Candidate, identity(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"registered": registered, "votes": votes})
}

func (g *Gateway) fund(c *gin.Context) {
	var req struct {
		Amount string `json:"amount" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
		return
	}
	if err := g.governance.Fund(c.Request.Context(), identity(c), amount); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"airline":      identity(c),
		"contribution": g.governance.Contribution(identity(c)).String(),
	})
}

func (g *Gateway) registerFlight(c *gin.Context) {
	var req struct {
		Code      string `json:"code" binding:"required"`
		Timestamp int64  `json:"timestamp" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	key, err := g.insurance.RegisterFlight(c.Request.Context(), identity(c), req.Code, req.Timestamp)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"flight_key": key})
}

func (g *Gateway) fetchFlightStatus(c *gin.Context) {
	var req struct {
		Airline   string `json:"airline" binding:"required"`
		Flight    string `json:"flight" binding:"required"`
		Timestamp int64  `json:"timestamp" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	index, err := g.coordinator.FetchFlightStatus(c.Request.Context(), req.Airline, req.Flight, req.Timestamp)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"index": index})
}

func (g *Gateway) registerOracle(c *gin.Context) {
	var req struct {
		Fee string `json:"fee" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	fee, err := decimal.NewFromString(req.Fee)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid fee"})
		return
	}
	indexes, err := g.coordinator.RegisterOracle(c.Request.Context(), identity(c), fee)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"indexes": indexes})
}

func (g *Gateway) getIndexes(c *gin.Context) {
	indexes, err := g.coordinator.Indexes(c.Request.Context(), identity(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"indexes": indexes})
}

func (g *Gateway) submitResponse(c *gin.Context) {
	var req struct {
		Index     int    `json:"index"`
		Airline   string `json:"airline" binding:"required"`
		Flight    string `json:"flight" binding:"required"`
		Timestamp int64  `json:"timestamp" binding:"required"`
		Status    int    `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	finalized, err := g.coordinator.SubmitOracleResponse(
		c.Request.Context(), req.Index, req.Airline, req.Flight, req.Timestamp,
		ledger.StatusCode(req.Status), identity(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"finalized": finalized})
}

func (g *Gateway) buyInsurance(c *gin.Context) {
	var req struct {
		Airline   string `json:"airline" binding:"required"`
		Flight    string `json:"flight" binding:"required"`
		Timestamp int64  `json:"timestamp" binding:"required"`
		Amount    string `json:"amount" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
		return
	}
	policy, err := g.insurance.BuyInsurance(
		c.Request.Context(), req.Airline, req.Flight, req.Timestamp, amount, identity(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"policy_id":  policy.ID,
		"flight_key": policy.FlightKey,
		"amount":     policy.AmountPaid.String(),
	})
}

func (g *Gateway) getFunds(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"passenger": identity(c),
		"balance":   g.insurance.FundsBalance(identity(c)).String(),
	})
}

func (g *Gateway) withdraw(c *gin.Context) {
	var req struct {
		Amount string `json:"amount" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
		return
	}
	if err := g.insurance.Withdraw(c.Request.Context(), amount, identity(c)); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"passenger": identity(c),
		"balance":   g.insurance.FundsBalance(identity(c)).String(),
	})
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// streamEvents upgrades to a websocket and streams feed events from the
// requested offset (query parameter "from", default: live tail only).
func (g *Gateway) streamEvents(c *gin.Context) {
	if g.feed == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "event feed unavailable"})
		return
	}
	from, _ := strconv.ParseUint(c.DefaultQuery("from", "0"), 10, 64)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// Cancel the subscription when the peer goes away.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	for event := range g.feed.Subscribe(ctx, from+1) {
		if err := conn.WriteJSON(event); err != nil {
			return
		}
	}
}
