package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/punchamoorthee/walletsaga/internal/domain"
	"github.com/punchamoorthee/walletsaga/internal/models"
	"github.com/punchamoorthee/walletsaga/internal/retry"
	"github.com/punchamoorthee/walletsaga/internal/store"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wallet_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "endpoint", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "wallet_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"method", "endpoint"})
)

// Wallet is the saga facade surface served over HTTP.
type Wallet interface {
	ReserveWager(ctx context.Context, p domain.Placement) (domain.Placement, error)
	ReverseWager(ctx context.Context, p domain.Placement) (domain.Placement, error)
	TransferPayout(ctx context.Context, s domain.Settlement) (domain.Settlement, error)
	CreateAccounts(ctx context.Context, r domain.Registration) (domain.Registration, error)
	ReverseAccounts(ctx context.Context, r domain.Registration) (domain.Registration, error)
}

// Reader serves the read-side lookups.
type Reader interface {
	GetAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error)
	GetTransfer(ctx context.Context, id uuid.UUID) (*domain.Transfer, error)
}

type Handler struct {
	wallet Wallet
	reader Reader
	logger *zap.Logger
}

func NewHandler(wallet Wallet, reader Reader, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{wallet: wallet, reader: reader, logger: logger}
}

func NewRouter(h *Handler) *mux.Router {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", h.HealthCheckHandler).Methods("GET")

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/placements", handleCommand[models.PlacementCommand](h, "/placements", h.wallet.ReserveWager)).Methods("POST")
	v1.HandleFunc("/placements/reversals", handleCommand[models.PlacementCommand](h, "/placements/reversals", h.wallet.ReverseWager)).Methods("POST")
	v1.HandleFunc("/settlements", handleCommand[models.SettlementCommand](h, "/settlements", h.wallet.TransferPayout)).Methods("POST")
	v1.HandleFunc("/registrations", handleCommand[models.RegistrationCommand](h, "/registrations", h.wallet.CreateAccounts)).Methods("POST")
	v1.HandleFunc("/registrations/reversals", handleCommand[models.RegistrationCommand](h, "/registrations/reversals", h.wallet.ReverseAccounts)).Methods("POST")
	v1.HandleFunc("/accounts/{id}", h.GetAccountHandler).Methods("GET")
	v1.HandleFunc("/transfers/{id}", h.GetTransferHandler).Methods("GET")
	return r
}

func (h *Handler) HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	record("GET", "/health", http.StatusOK)
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type command[R any] interface {
	ToDomain() R
}

// handleCommand decodes a C, hands its saga record to fn and answers with the
// updated record. Approved and rejected records are both a 200.
func handleCommand[C command[R], R any](h *Handler, endpoint string, fn func(context.Context, R) (R, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("POST", endpoint))
		defer timer.ObserveDuration()

		var cmd C
		body := io.LimitReader(r.Body, maxBodyBytes)
		if err := json.NewDecoder(body).Decode(&cmd); err != nil {
			record("POST", endpoint, http.StatusBadRequest)
			respondWithError(w, http.StatusBadRequest, "Malformed JSON body")
			return
		}

		out, err := fn(r.Context(), cmd.ToDomain())
		if err != nil {
			code := statusFor(err)
			record("POST", endpoint, code)
			if code == http.StatusInternalServerError {
				h.logger.Error("command failed", zap.String("endpoint", endpoint), zap.Error(err))
				respondWithError(w, code, "Internal Server Error")
				return
			}
			h.logger.Warn("command refused", zap.String("endpoint", endpoint), zap.Int("status", code), zap.Error(err))
			respondWithError(w, code, err.Error())
			return
		}

		record("POST", endpoint, http.StatusOK)
		respondWithJSON(w, http.StatusOK, out)
	}
}

// statusFor maps the fault taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, retry.ErrExhausted):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrInsufficientFunds):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrDataIntegrity):
		return http.StatusConflict
	case errors.Is(err, domain.ErrAccountNotFound), errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func (h *Handler) GetAccountHandler(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		record("GET", "/accounts/{id}", http.StatusBadRequest)
		respondWithError(w, http.StatusBadRequest, "Invalid account id")
		return
	}

	account, err := h.reader.GetAccount(r.Context(), id)
	if err != nil {
		code := statusFor(err)
		record("GET", "/accounts/{id}", code)
		respondWithError(w, code, "Account not found")
		return
	}

	record("GET", "/accounts/{id}", http.StatusOK)
	respondWithJSON(w, http.StatusOK, account)
}

func (h *Handler) GetTransferHandler(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		record("GET", "/transfers/{id}", http.StatusBadRequest)
		respondWithError(w, http.StatusBadRequest, "Invalid transfer id")
		return
	}

	transfer, err := h.reader.GetTransfer(r.Context(), id)
	if err != nil {
		code := statusFor(err)
		record("GET", "/transfers/{id}", code)
		respondWithError(w, code, "Transfer not found")
		return
	}

	record("GET", "/transfers/{id}", http.StatusOK)
	respondWithJSON(w, http.StatusOK, transfer)
}

func record(method, endpoint string, code int) {
	httpRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(code)).Inc()
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, models.ErrorResponse{Error: message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}
