// Package handler содержит HTTP-обработчики API сервиса подарочных карт.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/nstepanov/giftcards-system/internal/codegen"
	"github.com/nstepanov/giftcards-system/internal/middleware"
	"github.com/nstepanov/giftcards-system/internal/model"
	"github.com/nstepanov/giftcards-system/internal/money"
	"github.com/nstepanov/giftcards-system/internal/repository"
	"github.com/nstepanov/giftcards-system/internal/service"
	"github.com/nstepanov/giftcards-system/internal/validation"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	ValidateForCart(ctx context.Context, code, currency string, appliedCodes []string) (*model.GiftCard, error)
	IsGiftCardCode(ctx context.Context, code string) (bool, error)
	GetCardByCode(ctx context.Context, code string) (*model.GiftCard, error)
	GetCardByID(ctx context.Context, id int64) (*model.GiftCard, error)
	GetAccountCards(ctx context.Context, customerID *int64, email string) ([]model.GiftCard, error)
	GetCardTransactions(ctx context.Context, giftCardID int64) ([]model.Transaction, error)
	GetOrderCards(ctx context.Context, orderRef string) ([]model.GiftCard, []model.Transaction, error)
	ListCards(ctx context.Context, f repository.ListFilter) ([]model.GiftCard, int64, error)
	GetStats(ctx context.Context) (*model.CardStats, error)
	SetCardStatus(ctx context.Context, id int64, status model.CardStatus) error
	DeleteCard(ctx context.Context, id int64) error
	CreateManual(ctx context.Context, p service.ManualCardParams) (int64, error)
	HandleOrderEvent(ctx context.Context, ev *model.OrderEvent) error
}

// Handler реализует HTTP-обработчики API сервиса подарочных карт.
type Handler struct {
	service   Service
	logger    *zap.Logger
	signature *middleware.SignatureMiddleware
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, signature *middleware.SignatureMiddleware) *Handler {
	return &Handler{
		service:   s,
		logger:    logger,
		signature: signature,
	}
}

type validateRequest struct {
	Code         string   `json:"code"`
	Currency     string   `json:"currency"`
	AppliedCodes []string `json:"applied_codes"`
}

type validateResponse struct {
	Code     string  `json:"code"`
	Masked   string  `json:"masked"`
	Balance  float64 `json:"balance"`
	Currency string  `json:"currency"`
}

// ValidateCart решает, применим ли код подарочной карты к корзине витрины.
// Все причины отказа, кроме повторного применения, отвечают одинаково.
func (h *Handler) ValidateCart(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	req.Code = strings.TrimSpace(req.Code)
	if req.Code == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	card, err := h.service.ValidateForCart(r.Context(), req.Code, req.Currency, req.AppliedCodes)
	if err != nil {
		switch {
		case errors.Is(err, validation.ErrAlreadyApplied):
			http.Error(w, "gift card already applied", http.StatusConflict)
		case errors.Is(err, validation.ErrCardNotRedeemable):
			http.Error(w, "gift card is not valid", http.StatusUnprocessableEntity)
		default:
			h.logger.Error("validate cart error", zap.Error(err))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, h.logger, validateResponse{
		Code:     card.Code,
		Masked:   codegen.Mask(card.Code),
		Balance:  money.Float(card.Balance),
		Currency: card.Currency,
	})
}

type existsResponse struct {
	Exists bool `json:"exists"`
}

// CheckCode сообщает витрине, является ли введённый код кодом подарочной
// карты, чтобы отличить его от обычного купона. Деталей карты не раскрывает.
func (h *Handler) CheckCode(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")

	exists, err := h.service.IsGiftCardCode(r.Context(), code)
	if err != nil {
		h.logger.Error("check code error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, h.logger, existsResponse{Exists: exists})
}

type cardResponse struct {
	Masked    string  `json:"masked"`
	Balance   float64 `json:"balance"`
	Status    string  `json:"status"`
	Currency  string  `json:"currency"`
	ExpiresAt *string `json:"expires_at,omitempty"`
}

// GetCard возвращает публичную информацию о карте по коду, без полного номинала.
func (h *Handler) GetCard(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")

	card, err := h.service.GetCardByCode(r.Context(), code)
	if err != nil {
		if errors.Is(err, repository.ErrCardNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("get card error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, h.logger, cardResponse{
		Masked:    codegen.Mask(card.Code),
		Balance:   money.Float(card.Balance),
		Status:    string(card.Status),
		Currency:  card.Currency,
		ExpiresAt: formatTimePtr(card.ExpiresAt),
	})
}

type orderItemRequest struct {
	ItemRef        string  `json:"item_ref"`
	Kind           string  `json:"kind"`
	UnitAmount     float64 `json:"unit_amount"`
	Quantity       int     `json:"quantity"`
	SenderName     string  `json:"sender_name"`
	SenderEmail    string  `json:"sender_email"`
	RecipientName  string  `json:"recipient_name"`
	RecipientEmail string  `json:"recipient_email"`
	Message        string  `json:"message"`
}

type orderEventRequest struct {
	Event        string             `json:"event"`
	OrderRef     string             `json:"order_ref"`
	Currency     string             `json:"currency"`
	CustomerID   *int64             `json:"customer_id"`
	BillingName  string             `json:"billing_name"`
	BillingEmail string             `json:"billing_email"`
	OrderTotal   float64            `json:"order_total"`
	RefundAmount float64            `json:"refund_amount"`
	Deductions   map[string]float64 `json:"deductions"`
	Items        []orderItemRequest `json:"items"`
}

// OrderEvent принимает событие жизненного цикла заказа от торговой системы.
// Повторная доставка события безопасна, обработка идемпотентна.
func (h *Handler) OrderEvent(w http.ResponseWriter, r *http.Request) {
	var req orderEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Event == "" || req.OrderRef == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	deductions := make(map[string]int64, len(req.Deductions))
	for code, amount := range req.Deductions {
		deductions[code] = money.Cents(amount)
	}

	items := make([]model.OrderItem, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, model.OrderItem{
			ItemRef:        it.ItemRef,
			Kind:           it.Kind,
			UnitAmount:     money.Cents(it.UnitAmount),
			Quantity:       it.Quantity,
			SenderName:     it.SenderName,
			SenderEmail:    it.SenderEmail,
			RecipientName:  it.RecipientName,
			RecipientEmail: it.RecipientEmail,
			Message:        it.Message,
		})
	}

	ev := &model.OrderEvent{
		Event:        model.OrderEventType(req.Event),
		OrderRef:     req.OrderRef,
		Currency:     req.Currency,
		CustomerID:   req.CustomerID,
		BillingName:  req.BillingName,
		BillingEmail: req.BillingEmail,
		OrderTotal:   money.Cents(req.OrderTotal),
		RefundAmount: money.Cents(req.RefundAmount),
		Deductions:   deductions,
		Items:        items,
	}

	if err := h.service.HandleOrderEvent(r.Context(), ev); err != nil {
		if errors.Is(err, service.ErrUnknownEvent) {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		h.logger.Error("order event error", zap.Error(err),
			zap.String("event", req.Event), zap.String("order", req.OrderRef))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

type accountCardResponse struct {
	ID        int64   `json:"id"`
	Masked    string  `json:"masked"`
	Balance   float64 `json:"balance"`
	Initial   float64 `json:"initial_amount"`
	Status    string  `json:"status"`
	Currency  string  `json:"currency"`
	ExpiresAt *string `json:"expires_at,omitempty"`
	CreatedAt string  `json:"created_at"`
}

// GetAccountCards возвращает карты личного кабинета: купленные покупателем
// и полученные на его e-mail.
func (h *Handler) GetAccountCards(w http.ResponseWriter, r *http.Request) {
	var customerID *int64
	if raw := r.URL.Query().Get("customer_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		customerID = &id
	}
	email := r.URL.Query().Get("email")

	if customerID == nil && email == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	cards, err := h.service.GetAccountCards(r.Context(), customerID, email)
	if err != nil {
		h.logger.Error("get account cards error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if len(cards) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]accountCardResponse, 0, len(cards))
	for _, c := range cards {
		resp = append(resp, accountCardResponse{
			ID:        c.ID,
			Masked:    codegen.Mask(c.Code),
			Balance:   money.Float(c.Balance),
			Initial:   money.Float(c.InitialAmount),
			Status:    string(c.Status),
			Currency:  c.Currency,
			ExpiresAt: formatTimePtr(c.ExpiresAt),
			CreatedAt: c.CreatedAt.Format(time.RFC3339),
		})
	}

	writeJSON(w, h.logger, resp)
}

type transactionResponse struct {
	Type         string  `json:"type"`
	Amount       float64 `json:"amount"`
	BalanceAfter float64 `json:"balance_after"`
	OrderRef     *string `json:"order_ref,omitempty"`
	Note         string  `json:"note,omitempty"`
	CreatedAt    string  `json:"created_at"`
}

// GetCardTransactions возвращает журнал операций по карте.
func (h *Handler) GetCardTransactions(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if _, err := h.service.GetCardByID(r.Context(), id); err != nil {
		if errors.Is(err, repository.ErrCardNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("get card error", zap.Error(err), zap.Int64("cardID", id))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	txs, err := h.service.GetCardTransactions(r.Context(), id)
	if err != nil {
		h.logger.Error("get transactions error", zap.Error(err), zap.Int64("cardID", id))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	resp := make([]transactionResponse, 0, len(txs))
	for _, tx := range txs {
		resp = append(resp, transactionResponse{
			Type:         string(tx.Type),
			Amount:       money.Float(tx.Amount),
			BalanceAfter: money.Float(tx.BalanceAfter),
			OrderRef:     tx.OrderRef,
			Note:         tx.Note,
			CreatedAt:    tx.CreatedAt.Format(time.RFC3339),
		})
	}

	writeJSON(w, h.logger, resp)
}

func writeJSON(w http.ResponseWriter, logger *zap.Logger, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("encode response error", zap.Error(err))
	}
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}
