// server.go - REST surface of the pickup daemon.
//
// Transport glue only: handlers decode DTOs, call the registry, and map the
// stable error kinds onto HTTP statuses. Proof bundles arrive CBOR-encoded
// and base64-wrapped in JSON.

package main

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"anonpickup/internal/pickup"
)

// Server wires the registry behind HTTP handlers.
type Server struct {
	registry *pickup.Registry
	metrics  *MetricsCollector
	health   *HealthChecker
	limiter  *ClientRateLimiter
	log      zerolog.Logger
}

// NewServer builds the server with its middleware dependencies.
func NewServer(registry *pickup.Registry, metrics *MetricsCollector, health *HealthChecker, limiter *ClientRateLimiter, log zerolog.Logger) *Server {
	return &Server{
		registry: registry,
		metrics:  metrics,
		health:   health,
		limiter:  limiter,
		log:      log.With().Str("component", "http").Logger(),
	}
}

// Router assembles all routes and middleware.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/sellers", s.handleRegisterSeller).Methods(http.MethodPost)
	r.HandleFunc("/sellers/{addr}", s.handleGetSeller).Methods(http.MethodGet)
	r.HandleFunc("/stores", s.handleAuthorizeStore).Methods(http.MethodPost)
	r.HandleFunc("/stores/{addr}", s.handleGetStore).Methods(http.MethodGet)
	r.HandleFunc("/stores/{addr}", s.handleDeauthorizeStore).Methods(http.MethodDelete)
	r.HandleFunc("/packages", s.handleRegisterPackage).Methods(http.MethodPost)
	r.HandleFunc("/packages/{id}", s.handleGetPackage).Methods(http.MethodGet)
	r.HandleFunc("/packages/{id}/can-pickup", s.handleCanPickup).Methods(http.MethodGet)
	r.HandleFunc("/packages/{id}/pickup", s.handleExecutePickup).Methods(http.MethodPost)
	r.HandleFunc("/packages/{id}/reclaim", s.handleReclaim).Methods(http.MethodPost)
	r.HandleFunc("/nullifiers/{value}", s.handleNullifier).Methods(http.MethodGet)
	r.HandleFunc("/balances/{account}", s.handleBalance).Methods(http.MethodGet)
	r.HandleFunc("/events", s.handleEvents).Methods(http.MethodGet)
	r.HandleFunc("/platform-fee", s.handleSetPlatformFee).Methods(http.MethodPut)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/metrics", s.handleMetrics).Methods(http.MethodGet)

	return s.limiter.Middleware(s.loggingMiddleware(s.recoveryMiddleware(r)))
}

// recoveryMiddleware turns handler panics into 500s instead of dropped
// connections.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.log.Error().Interface("panic", rec).Str("path", r.URL.Path).Msg("handler panic")
				writeError(w, http.StatusInternalServerError, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware records duration and status for every request.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w}
		next.ServeHTTP(sw, r)
		elapsed := time.Since(start)
		s.metrics.Observe(MetricRequestDuration, elapsed)
		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", sw.status).
			Dur("elapsed", elapsed).
			Msg("request")
	})
}

// statusWriter captures the final HTTP status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

// --- DTOs ----------------------------------------------------------------

type registerSellerRequest struct {
	Address string `json:"address"`
}

type authorizeStoreRequest struct {
	Caller        string `json:"caller"`
	Address       string `json:"address"`
	Name          string `json:"name"`
	Location      string `json:"location"`
	CommissionBps uint32 `json:"commission_bps"`
}

type registerPackageRequest struct {
	TrackingCode       string `json:"tracking_code,omitempty"` // content-addressed into the id when set
	PackageID          string `json:"package_id,omitempty"`    // decimal field element, alternative to tracking_code
	BuyerCommitment    string `json:"buyer_commitment"`
	Seller             string `json:"seller"`
	Store              string `json:"store"`
	ItemPrice          uint64 `json:"item_price"`
	ShippingFee        uint64 `json:"shipping_fee"`
	MinAge             uint32 `json:"min_age"`
	SellerPaysShipping bool   `json:"seller_pays_shipping"`
	PickupDays         int    `json:"pickup_days"`
	Funds              uint64 `json:"funds"`
}

type executePickupRequest struct {
	Caller          string `json:"caller"`
	Bundle          string `json:"bundle"` // base64 CBOR proof bundle
	ShippingPayment uint64 `json:"shipping_payment"`
	BuyerRef        string `json:"buyer_ref,omitempty"`
}

type reclaimRequest struct {
	Caller string `json:"caller"`
}

type setPlatformFeeRequest struct {
	Caller string `json:"caller"`
	Bps    uint32 `json:"bps"`
}

// --- Handlers ------------------------------------------------------------

func (s *Server) handleRegisterSeller(w http.ResponseWriter, r *http.Request) {
	var req registerSellerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Address == "" {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.registry.RegisterSeller(r.Context(), pickup.Address(req.Address)); err != nil {
		s.writeRegistryError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"address": req.Address, "status": "registered"})
}

func (s *Server) handleGetSeller(w http.ResponseWriter, r *http.Request) {
	seller, err := s.registry.GetSellerInfo(r.Context(), pickup.Address(mux.Vars(r)["addr"]))
	if err != nil {
		s.writeRegistryError(w, err)
		return
	}
	if seller == nil {
		writeError(w, http.StatusNotFound, "unknown seller")
		return
	}
	writeJSON(w, http.StatusOK, seller)
}

func (s *Server) handleAuthorizeStore(w http.ResponseWriter, r *http.Request) {
	var req authorizeStoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Address == "" {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	err := s.registry.AuthorizeStore(r.Context(), pickup.Address(req.Caller), pickup.Address(req.Address),
		req.Name, req.Location, req.CommissionBps)
	if err != nil {
		s.writeRegistryError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"address": req.Address, "status": "authorized"})
}

func (s *Server) handleGetStore(w http.ResponseWriter, r *http.Request) {
	store, err := s.registry.GetStoreInfo(r.Context(), pickup.Address(mux.Vars(r)["addr"]))
	if err != nil {
		s.writeRegistryError(w, err)
		return
	}
	if store == nil {
		writeError(w, http.StatusNotFound, "unknown store")
		return
	}
	writeJSON(w, http.StatusOK, store)
}

func (s *Server) handleDeauthorizeStore(w http.ResponseWriter, r *http.Request) {
	caller := r.URL.Query().Get("caller")
	err := s.registry.DeauthorizeStore(r.Context(), pickup.Address(caller), pickup.Address(mux.Vars(r)["addr"]))
	if err != nil {
		s.writeRegistryError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRegisterPackage(w http.ResponseWriter, r *http.Request) {
	var req registerPackageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	id := pickup.PackageID(req.PackageID)
	if req.TrackingCode != "" {
		id = pickup.PackageIDFromTrackingCode(req.TrackingCode)
	}
	commitment, ok := new(big.Int).SetString(req.BuyerCommitment, 10)
	if !ok {
		writeError(w, http.StatusBadRequest, "buyer_commitment is not a decimal field element")
		return
	}
	pkg, err := s.registry.RegisterPackage(r.Context(), pickup.RegisterParams{
		PackageID:          id,
		BuyerCommitment:    commitment,
		Seller:             pickup.Address(req.Seller),
		Store:              pickup.Address(req.Store),
		ItemPrice:          req.ItemPrice,
		ShippingFee:        req.ShippingFee,
		MinAge:             req.MinAge,
		SellerPaysShipping: req.SellerPaysShipping,
		PickupDays:         req.PickupDays,
		Funds:              req.Funds,
	})
	if err != nil {
		s.writeRegistryError(w, err)
		return
	}
	s.metrics.Inc(MetricRegistrationCount)
	writeJSON(w, http.StatusCreated, pkg)
}

func (s *Server) handleGetPackage(w http.ResponseWriter, r *http.Request) {
	pkg, err := s.registry.GetPackage(r.Context(), pickup.PackageID(mux.Vars(r)["id"]))
	if err != nil {
		s.writeRegistryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pkg)
}

func (s *Server) handleCanPickup(w http.ResponseWriter, r *http.Request) {
	ok, err := s.registry.CanPickup(r.Context(), pickup.PackageID(mux.Vars(r)["id"]))
	if err != nil {
		s.writeRegistryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"can_pickup": ok})
}

func (s *Server) handleExecutePickup(w http.ResponseWriter, r *http.Request) {
	var req executePickupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	raw, err := base64.StdEncoding.DecodeString(req.Bundle)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bundle is not valid base64")
		return
	}
	bundle, err := pickup.DecodeProofBundle(raw)
	if err != nil {
		s.writeRegistryError(w, err)
		return
	}
	start := time.Now()
	split, err := s.registry.ExecutePickup(r.Context(), pickup.PickupParams{
		PackageID:       pickup.PackageID(mux.Vars(r)["id"]),
		Caller:          pickup.Address(req.Caller),
		Bundle:          bundle,
		ShippingPayment: req.ShippingPayment,
		BuyerRef:        pickup.Address(req.BuyerRef),
	})
	s.metrics.Observe(MetricProofVerificationTime, time.Since(start))
	if err != nil {
		if errors.Is(err, pickup.ErrInvalidProof) {
			s.metrics.Inc(MetricRejectedProofCount)
		}
		s.writeRegistryError(w, err)
		return
	}
	s.metrics.Inc(MetricPickupCount)
	writeJSON(w, http.StatusOK, split)
}

func (s *Server) handleReclaim(w http.ResponseWriter, r *http.Request) {
	var req reclaimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	refund, err := s.registry.ReclaimExpired(r.Context(), pickup.PackageID(mux.Vars(r)["id"]), pickup.Address(req.Caller))
	if err != nil {
		s.writeRegistryError(w, err)
		return
	}
	s.metrics.Inc(MetricReclaimCount)
	writeJSON(w, http.StatusOK, map[string]uint64{"refund": refund})
}

func (s *Server) handleNullifier(w http.ResponseWriter, r *http.Request) {
	used, err := s.registry.IsNullifierUsed(r.Context(), pickup.Nullifier(mux.Vars(r)["value"]))
	if err != nil {
		s.writeRegistryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"used": used})
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	balance, err := s.registry.GetBalance(r.Context(), pickup.Address(mux.Vars(r)["account"]))
	if err != nil {
		s.writeRegistryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"balance": balance})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.registry.Events(r.Context())
	if err != nil {
		s.writeRegistryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleSetPlatformFee(w http.ResponseWriter, r *http.Request) {
	var req setPlatformFeeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.registry.SetPlatformFeeRate(r.Context(), pickup.Address(req.Caller), req.Bps); err != nil {
		s.writeRegistryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint32{"platform_fee_bps": req.Bps})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := s.health.Check()
	status := http.StatusOK
	if health.OverallStatus != Healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, health)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.metrics.Snapshot())
}

// --- Error mapping -------------------------------------------------------

func (s *Server) writeRegistryError(w http.ResponseWriter, err error) {
	s.metrics.Inc(MetricErrorCount)
	switch {
	case errors.Is(err, pickup.ErrPackageNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, pickup.ErrNotOwner),
		errors.Is(err, pickup.ErrUnauthorizedSeller),
		errors.Is(err, pickup.ErrUnauthorizedStore),
		errors.Is(err, pickup.ErrWrongStore):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, pickup.ErrDuplicatePackage),
		errors.Is(err, pickup.ErrAlreadyPickedUp),
		errors.Is(err, pickup.ErrNullifierUsed),
		errors.Is(err, pickup.ErrPackageExpired),
		errors.Is(err, pickup.ErrNotExpired):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, pickup.ErrInsufficientFunds),
		errors.Is(err, pickup.ErrInsufficientShipping):
		writeError(w, http.StatusPaymentRequired, err.Error())
	case errors.Is(err, pickup.ErrInvalidProof):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, pickup.ErrZeroCommitment),
		errors.Is(err, pickup.ErrInvalidPackageID),
		errors.Is(err, pickup.ErrInvalidWindow),
		errors.Is(err, pickup.ErrInvalidRate),
		errors.Is(err, pickup.ErrInvalidBundle):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.log.Error().Err(err).Msg("internal error")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
