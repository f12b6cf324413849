package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/nstepanov/giftcards-system/internal/codegen"
	"github.com/nstepanov/giftcards-system/internal/model"
	"github.com/nstepanov/giftcards-system/internal/money"
	"github.com/nstepanov/giftcards-system/internal/repository"
	"github.com/nstepanov/giftcards-system/internal/service"
)

const (
	defaultPerPage = 20
	maxPerPage     = 100
)

type createCardRequest struct {
	Amount         float64 `json:"amount"`
	Currency       string  `json:"currency"`
	SenderName     string  `json:"sender_name"`
	SenderEmail    string  `json:"sender_email"`
	RecipientName  string  `json:"recipient_name"`
	RecipientEmail string  `json:"recipient_email"`
	Message        string  `json:"message"`
}

// CreateCard выполняет ручной выпуск карты администратором.
func (h *Handler) CreateCard(w http.ResponseWriter, r *http.Request) {
	var req createCardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Amount <= 0 {
		http.Error(w, "amount must be positive", http.StatusBadRequest)
		return
	}

	id, err := h.service.CreateManual(r.Context(), service.ManualCardParams{
		AmountCents:    money.Cents(req.Amount),
		Currency:       req.Currency,
		SenderName:     req.SenderName,
		SenderEmail:    req.SenderEmail,
		RecipientName:  req.RecipientName,
		RecipientEmail: req.RecipientEmail,
		Message:        req.Message,
	})
	if err != nil {
		h.logger.Error("create card error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	card, err := h.service.GetCardByID(r.Context(), id)
	if err != nil {
		h.logger.Error("get created card error", zap.Error(err), zap.Int64("cardID", id))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(adminCard(card)); err != nil {
		h.logger.Error("encode response error", zap.Error(err))
	}
}

type adminCardResponse struct {
	ID             int64   `json:"id"`
	Code           string  `json:"code"`
	Masked         string  `json:"masked"`
	Balance        float64 `json:"balance"`
	Initial        float64 `json:"initial_amount"`
	Currency       string  `json:"currency"`
	Status         string  `json:"status"`
	SenderName     string  `json:"sender_name,omitempty"`
	SenderEmail    string  `json:"sender_email,omitempty"`
	RecipientName  string  `json:"recipient_name,omitempty"`
	RecipientEmail string  `json:"recipient_email,omitempty"`
	Message        string  `json:"message,omitempty"`
	OrderRef       *string `json:"order_ref,omitempty"`
	CustomerID     *int64  `json:"customer_id,omitempty"`
	ExpiresAt      *string `json:"expires_at,omitempty"`
	CreatedAt      string  `json:"created_at"`
}

func adminCard(c *model.GiftCard) adminCardResponse {
	return adminCardResponse{
		ID:             c.ID,
		Code:           c.Code,
		Masked:         codegen.Mask(c.Code),
		Balance:        money.Float(c.Balance),
		Initial:        money.Float(c.InitialAmount),
		Currency:       c.Currency,
		Status:         string(c.Status),
		SenderName:     c.SenderName,
		SenderEmail:    c.SenderEmail,
		RecipientName:  c.RecipientName,
		RecipientEmail: c.RecipientEmail,
		Message:        c.Message,
		OrderRef:       c.OrderRef,
		CustomerID:     c.CustomerID,
		ExpiresAt:      formatTimePtr(c.ExpiresAt),
		CreatedAt:      c.CreatedAt.Format(time.RFC3339),
	}
}

type listResponse struct {
	Cards []adminCardResponse `json:"cards"`
	Total int64               `json:"total"`
	Page  int                 `json:"page"`
}

// ListCards возвращает страницу карт для административного списка.
func (h *Handler) ListCards(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	page, _ := strconv.Atoi(q.Get("page"))
	if page < 1 {
		page = 1
	}
	perPage, _ := strconv.Atoi(q.Get("per_page"))
	if perPage < 1 {
		perPage = defaultPerPage
	}
	if perPage > maxPerPage {
		perPage = maxPerPage
	}

	f := repository.ListFilter{
		Status:  q.Get("status"),
		Search:  strings.TrimSpace(q.Get("search")),
		OrderBy: q.Get("orderby"),
		Desc:    strings.EqualFold(q.Get("order"), "desc"),
		Limit:   perPage,
		Offset:  (page - 1) * perPage,
	}

	cards, total, err := h.service.ListCards(r.Context(), f)
	if err != nil {
		h.logger.Error("list cards error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	resp := listResponse{
		Cards: make([]adminCardResponse, 0, len(cards)),
		Total: total,
		Page:  page,
	}
	for i := range cards {
		resp.Cards = append(resp.Cards, adminCard(&cards[i]))
	}

	writeJSON(w, h.logger, resp)
}

// GetAdminCard возвращает карту для административной панели, включая полный код.
func (h *Handler) GetAdminCard(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	card, err := h.service.GetCardByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrCardNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("get card error", zap.Error(err), zap.Int64("cardID", id))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, h.logger, adminCard(card))
}

type statusRequest struct {
	Status string `json:"status"`
}

// SetCardStatus обновляет статус карты из административной панели.
func (h *Handler) SetCardStatus(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	status := model.CardStatus(req.Status)
	if !model.ValidStatus(status) {
		http.Error(w, "invalid status", http.StatusBadRequest)
		return
	}

	if err := h.service.SetCardStatus(r.Context(), id, status); err != nil {
		if errors.Is(err, repository.ErrCardNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("set status error", zap.Error(err), zap.Int64("cardID", id))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// DeleteCard удаляет карту вместе с её журналом операций.
func (h *Handler) DeleteCard(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.DeleteCard(r.Context(), id); err != nil {
		if errors.Is(err, repository.ErrCardNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("delete card error", zap.Error(err), zap.Int64("cardID", id))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type orderViewResponse struct {
	Cards        []adminCardResponse   `json:"cards"`
	Transactions []transactionResponse `json:"transactions"`
}

// GetOrderCards возвращает карты, выпущенные по заказу, и связанные с ним
// операции для карточки заказа в административной панели.
func (h *Handler) GetOrderCards(w http.ResponseWriter, r *http.Request) {
	orderRef := chi.URLParam(r, "orderRef")

	cards, txs, err := h.service.GetOrderCards(r.Context(), orderRef)
	if err != nil {
		h.logger.Error("get order cards error", zap.Error(err), zap.String("order", orderRef))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	resp := orderViewResponse{
		Cards:        make([]adminCardResponse, 0, len(cards)),
		Transactions: make([]transactionResponse, 0, len(txs)),
	}
	for i := range cards {
		resp.Cards = append(resp.Cards, adminCard(&cards[i]))
	}
	for _, tx := range txs {
		resp.Transactions = append(resp.Transactions, transactionResponse{
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

type statsResponse struct {
	TotalIssued        int64   `json:"total_issued"`
	OutstandingBalance float64 `json:"outstanding_balance"`
	TotalRedeemed      int64   `json:"total_redeemed"`
	TotalExpired       int64   `json:"total_expired"`
}

// GetStats возвращает сводные показатели по картам.
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.GetStats(r.Context())
	if err != nil {
		h.logger.Error("get stats error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, h.logger, statsResponse{
		TotalIssued:        stats.TotalIssued,
		OutstandingBalance: money.Float(stats.OutstandingBalance),
		TotalRedeemed:      stats.TotalRedeemed,
		TotalExpired:       stats.TotalExpired,
	})
}
