package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"repello/internal/matching"
	"repello/internal/metrics"
	"repello/internal/models"
	"repello/internal/money"
)

// --- Request/Response structs ---
//
// Unlike the teacher's int64-cents wire format, prices and quantities
// cross the HTTP boundary as decimal strings, matching spec.md §6's
// JSON contract and avoiding float round-trip error.

type CreateOrderRequest struct {
	Symbol    string           `json:"symbol"`
	Side      models.Side      `json:"side"`
	Type      models.OrderType `json:"type"`
	Price     *string          `json:"price,omitempty"`
	StopPrice *string          `json:"stop_price,omitempty"`
	Quantity  string           `json:"quantity"`
	OrderID   string           `json:"order_id,omitempty"`
	Owner     string           `json:"owner,omitempty"`
}

type TradeResponse struct {
	TradeID   string `json:"trade_id"`
	Price     string `json:"price"`
	Quantity  string `json:"quantity"`
	Timestamp int64  `json:"timestamp"`
	MakerFee  string `json:"maker_fee"`
	TakerFee  string `json:"taker_fee"`
}

type CreateOrderResponse struct {
	OrderID           string          `json:"order_id"`
	Status            string          `json:"status"`
	FilledQuantity    string          `json:"filled_quantity,omitempty"`
	RemainingQuantity string          `json:"remaining_quantity,omitempty"`
	Trades            []TradeResponse `json:"trades,omitempty"`
}

type CancelOrderResponse struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
}

type LevelResponse struct {
	Price    string `json:"price"`
	Quantity string `json:"quantity"`
}

type OrderBookResponse struct {
	Symbol    string          `json:"symbol"`
	Timestamp int64           `json:"timestamp"`
	BestBid   *string         `json:"best_bid,omitempty"`
	BestAsk   *string         `json:"best_ask,omitempty"`
	Bids      []LevelResponse `json:"bids"`
	Asks      []LevelResponse `json:"asks"`
}

type GetOrderResponse struct {
	OrderID           string  `json:"order_id"`
	Symbol            string  `json:"symbol"`
	Side              string  `json:"side"`
	Type              string  `json:"type"`
	Price             *string `json:"price,omitempty"`
	StopPrice         *string `json:"stop_price,omitempty"`
	Quantity          string  `json:"quantity"`
	FilledQuantity    string  `json:"filled_quantity"`
	RemainingQuantity string  `json:"remaining_quantity"`
	Status            string  `json:"status"`
	Timestamp         int64   `json:"timestamp"`
}

type HealthResponse struct {
	Status          string `json:"status"`
	UptimeSeconds   int64  `json:"uptime_seconds"`
	OrdersProcessed int64  `json:"orders_processed"`
}

// Server is the HTTP ingress adapter over the matching engine. It is
// an external collaborator per spec.md §1's scope cut — it owns none
// of the matching semantics, only request parsing and status mapping.
type Server struct {
	listenAddr string
	engine     *matching.Engine
	metrics    *metrics.Metrics
	registry   *prometheus.Registry
	snapDepth  int
	startTime  time.Time
	httpServer *http.Server
}

// NewServer creates a Server, registering m's Collector with a fresh
// Prometheus registry for the /metrics/prom endpoint.
func NewServer(listenAddr string, engine *matching.Engine, m *metrics.Metrics, snapDepth int) *Server {
	registry := prometheus.NewRegistry()
	registry.MustRegister(metrics.NewCollector(m))

	return &Server{
		listenAddr: listenAddr,
		engine:     engine,
		metrics:    m,
		registry:   registry,
		snapDepth:  snapDepth,
		startTime:  time.Now(),
	}
}

// Router builds the gorilla/mux router, replacing the teacher's
// stdlib http.ServeMux with the dependency the rest of the example
// pack reaches for.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/api/v1/orders", s.handleCreateOrder).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/orders/{id}", s.handleCancelOrder).Methods(http.MethodDelete)
	r.HandleFunc("/api/v1/orders/{id}", s.handleGetOrder).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/orderbook/{symbol}", s.handleGetOrderBook).Methods(http.MethodGet)
	r.HandleFunc("/health", s.handleHealthCheck).Methods(http.MethodGet)
	r.HandleFunc("/metrics", s.handleGetMetrics).Methods(http.MethodGet)
	r.Handle("/metrics/prom", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	return r
}

// Run starts the HTTP server, blocking until it stops or Shutdown is
// called from another goroutine.
func (s *Server) Run() error {
	log.Info().Str("addr", s.listenAddr).Msg("starting api server")
	s.httpServer = &http.Server{Addr: s.listenAddr, Handler: s.Router()}
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully drains in-flight requests, bounded by ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	quantity, err := money.Parse(req.Quantity)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid quantity")
		return
	}
	price, err := parseOptionalDecimal(req.Price)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid price")
		return
	}
	stopPrice, err := parseOptionalDecimal(req.StopPrice)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid stop_price")
		return
	}

	orderID := req.OrderID
	if orderID == "" {
		orderID = uuid.New().String()
	}

	order := models.New(orderID, req.Symbol, req.Side, req.Type, quantity, price, stopPrice)
	order.Owner = req.Owner

	trades, err := s.engine.Process(order)
	if err != nil {
		log.Error().Err(err).Str("order_id", orderID).Msg("order rejected")
		if errors.Is(err, models.ErrInconsistentState) {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	response := CreateOrderResponse{
		OrderID: order.ID,
		Status:  order.Status.String(),
	}
	if len(trades) > 0 {
		response.Trades = make([]TradeResponse, len(trades))
		for i, trade := range trades {
			response.Trades[i] = TradeResponse{
				TradeID:   trade.ID,
				Price:     trade.Price.String(),
				Quantity:  trade.Quantity.String(),
				Timestamp: trade.Timestamp,
				MakerFee:  trade.MakerFee.String(),
				TakerFee:  trade.TakerFee.String(),
			}
		}
	}
	response.FilledQuantity = order.FilledQuantity.String()
	response.RemainingQuantity = order.RemainingQuantity.String()

	writeJSON(w, statusForOrder(order.Status), response)
}

func statusForOrder(status models.OrderStatus) int {
	switch status {
	case models.Rejected:
		return http.StatusBadRequest
	case models.Open:
		return http.StatusCreated
	default:
		return http.StatusOK
	}
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["id"]

	order, err := s.engine.Cancel(orderID)
	if err != nil {
		if errors.Is(err, models.ErrUnknownOrder) {
			writeError(w, http.StatusNotFound, "order not found")
			return
		}
		if errors.Is(err, models.ErrInconsistentState) {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, CancelOrderResponse{
		OrderID: order.ID,
		Status:  order.Status.String(),
	})
}

func (s *Server) handleGetOrderBook(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]

	depth := s.snapDepth
	if raw := r.URL.Query().Get("depth"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			depth = v
		}
	}

	snap := s.engine.Snapshot(symbol, depth)
	writeJSON(w, http.StatusOK, toOrderBookResponse(snap))
}

func toOrderBookResponse(snap matching.Snapshot) OrderBookResponse {
	resp := OrderBookResponse{
		Symbol:    snap.Symbol,
		Timestamp: snap.Timestamp,
		Bids:      make([]LevelResponse, len(snap.Bids)),
		Asks:      make([]LevelResponse, len(snap.Asks)),
	}
	for i, l := range snap.Bids {
		resp.Bids[i] = LevelResponse{Price: l.Price.String(), Quantity: l.Quantity.String()}
	}
	for i, l := range snap.Asks {
		resp.Asks[i] = LevelResponse{Price: l.Price.String(), Quantity: l.Quantity.String()}
	}
	if snap.BestBid != nil {
		s := snap.BestBid.String()
		resp.BestBid = &s
	}
	if snap.BestAsk != nil {
		s := snap.BestAsk.String()
		resp.BestAsk = &s
	}
	return resp
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["id"]

	order, err := s.engine.GetOrder(orderID)
	if err != nil {
		writeError(w, http.StatusNotFound, "order not found")
		return
	}

	resp := GetOrderResponse{
		OrderID:           order.ID,
		Symbol:            order.Symbol,
		Side:              order.Side.String(),
		Type:              order.Type.String(),
		Quantity:          order.Quantity.String(),
		FilledQuantity:    order.FilledQuantity.String(),
		RemainingQuantity: order.RemainingQuantity.String(),
		Status:            order.Status.String(),
		Timestamp:         order.Timestamp,
	}
	if order.Price != nil {
		p := order.Price.String()
		resp.Price = &p
	}
	if order.StopPrice != nil {
		p := order.StopPrice.String()
		resp.StopPrice = &p
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:          "healthy",
		UptimeSeconds:   int64(time.Since(s.startTime).Seconds()),
		OrdersProcessed: s.metrics.OrdersReceived.Load(),
	})
}

func (s *Server) handleGetMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.metrics)
}

func parseOptionalDecimal(s *string) (*decimal.Decimal, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	d, err := money.Parse(*s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
