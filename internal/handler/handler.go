package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/honeynil/venue-ledger/internal/models"
	pkgerrors "github.com/honeynil/venue-ledger/pkg/errors"
	"github.com/shopspring/decimal"
)

type PaymentService interface {
	CreateWithBonusEarning(ctx context.Context, draft models.Payment, bonusPercent decimal.Decimal) (*models.Payment, error)
	CreateWithBonusSpending(ctx context.Context, draft models.Payment, pointsToSpend int64) (*models.Payment, error)
	UpdateStatusWithBonusHandling(ctx context.Context, paymentID int64, newStatus models.PaymentStatus, bonusPercent decimal.Decimal) (*models.Payment, error)
	GetPaymentBonusTransactions(ctx context.Context, paymentID int64) ([]models.BonusTransaction, error)
	GetPayment(ctx context.Context, paymentID int64) (*models.Payment, error)
}

type SessionService interface {
	UseSession(ctx context.Context, packageID int64) (*models.UserTrainingPackage, error)
	ReturnSession(ctx context.Context, packageID int64) (*models.UserTrainingPackage, error)
	MarkExpiredPackages(ctx context.Context) (int64, error)
	FindUsablePackageForUser(ctx context.Context, userID int64, definitionID *int64) (*models.UserTrainingPackage, error)
	CreatePackage(ctx context.Context, pkg *models.UserTrainingPackage) (*models.UserTrainingPackage, error)
	CancelPackage(ctx context.Context, packageID int64) (*models.UserTrainingPackage, error)
	ActivatePackage(ctx context.Context, packageID int64) (*models.UserTrainingPackage, error)
	GetPackage(ctx context.Context, packageID int64) (*models.UserTrainingPackage, error)
}

type BalanceService interface {
	CachedBalance(ctx context.Context, userID int64) (int64, error)
	History(ctx context.Context, userID int64, limit, offset int) ([]models.BonusTransaction, error)
}

type Handler struct {
	payments     PaymentService
	sessions     SessionService
	balances     BalanceService
	bonusPercent decimal.Decimal
}

// NewHandler wires the operator API. bonusPercent applies when a request
// does not carry its own rate.
func NewHandler(payments PaymentService, sessions SessionService, balances BalanceService, bonusPercent decimal.Decimal) *Handler {
	return &Handler{
		payments:     payments,
		sessions:     sessions,
		balances:     balances,
		bonusPercent: bonusPercent,
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorResponse{Error: err.Error()})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeServiceError maps ledger errors onto HTTP status codes.
func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, pkgerrors.ErrPaymentNotFound),
		errors.Is(err, pkgerrors.ErrPackageNotFound),
		errors.Is(err, pkgerrors.ErrNoUsablePackage):
		h.writeError(w, http.StatusNotFound, err)
	case errors.Is(err, pkgerrors.ErrInvalidStatusTransition),
		errors.Is(err, pkgerrors.ErrDuplicateGatewayTransaction),
		errors.Is(err, pkgerrors.ErrInsufficientBalance),
		errors.Is(err, pkgerrors.ErrPackageSessionExhausted),
		errors.Is(err, pkgerrors.ErrNoSessionToReturn),
		errors.Is(err, pkgerrors.ErrConcurrencyConflict):
		h.writeError(w, http.StatusConflict, err)
	case errors.Is(err, pkgerrors.ErrInvalidPayment),
		errors.Is(err, pkgerrors.ErrInvalidReference),
		errors.Is(err, pkgerrors.ErrInvalidPoints),
		errors.Is(err, pkgerrors.ErrInvalidPackage),
		errors.Is(err, pkgerrors.ErrNilPayment),
		errors.Is(err, pkgerrors.ErrNilPackage),
		errors.Is(err, pkgerrors.ErrInvalidInput):
		h.writeError(w, http.StatusBadRequest, err)
	default:
		h.writeError(w, http.StatusInternalServerError, err)
	}
}

func (h *Handler) RegisterProtectedRoutes(r *mux.Router) {
	r.HandleFunc("/payments", h.CreatePayment).Methods("POST")
	r.HandleFunc("/payments/with-bonus", h.CreatePaymentWithBonus).Methods("POST")
	r.HandleFunc("/payments/{id:[0-9]+}", h.GetPayment).Methods("GET")
	r.HandleFunc("/payments/{id:[0-9]+}/status", h.UpdatePaymentStatus).Methods("PATCH")
	r.HandleFunc("/payments/{id:[0-9]+}/bonus-transactions", h.GetPaymentBonusTransactions).Methods("GET")

	r.HandleFunc("/users/{id:[0-9]+}/bonus-balance", h.GetBonusBalance).Methods("GET")
	r.HandleFunc("/users/{id:[0-9]+}/bonus-transactions", h.GetBonusHistory).Methods("GET")
	r.HandleFunc("/users/{id:[0-9]+}/usable-package", h.FindUsablePackage).Methods("GET")

	r.HandleFunc("/packages", h.CreatePackage).Methods("POST")
	r.HandleFunc("/packages/expire", h.ExpirePackages).Methods("POST")
	r.HandleFunc("/packages/{id:[0-9]+}", h.GetPackage).Methods("GET")
	r.HandleFunc("/packages/{id:[0-9]+}/use", h.UseSession).Methods("POST")
	r.HandleFunc("/packages/{id:[0-9]+}/return", h.ReturnSession).Methods("POST")
	r.HandleFunc("/packages/{id:[0-9]+}/cancel", h.CancelPackage).Methods("POST")
	r.HandleFunc("/packages/{id:[0-9]+}/activate", h.ActivatePackage).Methods("POST")
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		return 0, pkgerrors.ErrInvalidInput
	}
	return id, nil
}

func (h *Handler) percentOrDefault(p *decimal.Decimal) decimal.Decimal {
	if p == nil {
		return h.bonusPercent
	}
	return *p
}

func (h *Handler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Payment      models.Payment   `json:"payment"`
		BonusPercent *decimal.Decimal `json:"bonus_percent"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	payment, err := h.payments.CreateWithBonusEarning(r.Context(), req.Payment, h.percentOrDefault(req.BonusPercent))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, payment)
}

func (h *Handler) CreatePaymentWithBonus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Payment models.Payment `json:"payment"`
		Points  int64          `json:"points"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	payment, err := h.payments.CreateWithBonusSpending(r.Context(), req.Payment, req.Points)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	if payment == nil {
		h.writeError(w, http.StatusConflict, pkgerrors.ErrInsufficientBalance)
		return
	}
	h.writeJSON(w, http.StatusCreated, payment)
}

func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	payment, err := h.payments.GetPayment(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, payment)
}

func (h *Handler) UpdatePaymentStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	var req struct {
		Status       models.PaymentStatus `json:"status"`
		BonusPercent *decimal.Decimal     `json:"bonus_percent"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	if !req.Status.Valid() {
		h.writeError(w, http.StatusBadRequest, errors.New("unknown payment status"))
		return
	}

	payment, err := h.payments.UpdateStatusWithBonusHandling(r.Context(), id, req.Status, h.percentOrDefault(req.BonusPercent))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, payment)
}

func (h *Handler) GetPaymentBonusTransactions(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	transactions, err := h.payments.GetPaymentBonusTransactions(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	if transactions == nil {
		transactions = []models.BonusTransaction{}
	}
	h.writeJSON(w, http.StatusOK, transactions)
}

func (h *Handler) GetBonusBalance(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	balance, err := h.balances.CachedBalance(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int64{"user_id": userID, "balance": balance})
}

func (h *Handler) GetBonusHistory(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	transactions, err := h.balances.History(r.Context(), userID, limit, offset)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	if transactions == nil {
		transactions = []models.BonusTransaction{}
	}
	h.writeJSON(w, http.StatusOK, transactions)
}

func (h *Handler) FindUsablePackage(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	var definitionID *int64
	if raw := r.URL.Query().Get("definition_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, errors.New("invalid definition_id"))
			return
		}
		definitionID = &id
	}

	pkg, err := h.sessions.FindUsablePackageForUser(r.Context(), userID, definitionID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	if pkg == nil {
		h.writeError(w, http.StatusNotFound, pkgerrors.ErrNoUsablePackage)
		return
	}
	h.writeJSON(w, http.StatusOK, pkg)
}

func (h *Handler) CreatePackage(w http.ResponseWriter, r *http.Request) {
	var req models.UserTrainingPackage
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	pkg, err := h.sessions.CreatePackage(r.Context(), &req)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, pkg)
}

func (h *Handler) GetPackage(w http.ResponseWriter, r *http.Request) {
	h.packageAction(w, r, h.sessions.GetPackage, nil)
}

func (h *Handler) UseSession(w http.ResponseWriter, r *http.Request) {
	h.packageAction(w, r, h.sessions.UseSession, pkgerrors.ErrPackageSessionExhausted)
}

func (h *Handler) ReturnSession(w http.ResponseWriter, r *http.Request) {
	h.packageAction(w, r, h.sessions.ReturnSession, pkgerrors.ErrNoSessionToReturn)
}

func (h *Handler) CancelPackage(w http.ResponseWriter, r *http.Request) {
	h.packageAction(w, r, h.sessions.CancelPackage, nil)
}

func (h *Handler) ActivatePackage(w http.ResponseWriter, r *http.Request) {
	h.packageAction(w, r, h.sessions.ActivatePackage, nil)
}

// packageAction runs op on the package from the path. A nil package with a
// nil error is reported as 409 with onNil.
func (h *Handler) packageAction(w http.ResponseWriter, r *http.Request, op func(context.Context, int64) (*models.UserTrainingPackage, error), onNil error) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	pkg, err := op(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	if pkg == nil {
		if onNil == nil {
			h.writeError(w, http.StatusNotFound, pkgerrors.ErrPackageNotFound)
			return
		}
		h.writeError(w, http.StatusConflict, onNil)
		return
	}
	h.writeJSON(w, http.StatusOK, pkg)
}

func (h *Handler) ExpirePackages(w http.ResponseWriter, r *http.Request) {
	count, err := h.sessions.MarkExpiredPackages(r.Context())
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int64{"expired": count})
}
