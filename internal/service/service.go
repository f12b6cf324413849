// Package service реализует бизнес-логику сервиса подарочных карт.
package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/nstepanov/giftcards-system/internal/codegen"
	"github.com/nstepanov/giftcards-system/internal/model"
	"github.com/nstepanov/giftcards-system/internal/repository"
	"github.com/nstepanov/giftcards-system/internal/validation"
)

// сколько раз повторять выпуск при гонке за код
const maxInsertAttempts = 3

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	CodeExists(ctx context.Context, code string) (bool, error)
	CreateGiftCard(ctx context.Context, card *model.GiftCard) (int64, error)
	GetGiftCardByCode(ctx context.Context, code string) (*model.GiftCard, error)
	GetGiftCardByID(ctx context.Context, id int64) (*model.GiftCard, error)
	GetGiftCardsByOrder(ctx context.Context, orderRef string) ([]model.GiftCard, error)
	GetGiftCardsByCustomer(ctx context.Context, customerID int64) ([]model.GiftCard, error)
	GetGiftCardsByRecipient(ctx context.Context, email string) ([]model.GiftCard, error)
	ListGiftCards(ctx context.Context, f repository.ListFilter) ([]model.GiftCard, int64, error)
	DeductBalance(ctx context.Context, id, amount int64) (oldBalance, newBalance int64, ok bool, err error)
	SetBalance(ctx context.Context, id, balance int64) error
	SetStatus(ctx context.Context, id int64, status model.CardStatus) error
	DeleteGiftCard(ctx context.Context, id int64) error
	ExpireDueCards(ctx context.Context, now time.Time) (int64, error)
	GetStats(ctx context.Context) (*model.CardStats, error)
	AppendTransaction(ctx context.Context, tx *model.Transaction) (int64, error)
	GetTransactionsByCard(ctx context.Context, giftCardID int64) ([]model.Transaction, error)
	GetTransactionsByOrder(ctx context.Context, orderRef string) ([]model.Transaction, error)
	GetOrderRedemption(ctx context.Context, orderRef string) (*model.OrderRedemption, error)
	SavePendingDeductions(ctx context.Context, orderRef, currency string, deductions map[string]int64) error
	UpdateOrderRedemption(ctx context.Context, o *model.OrderRedemption) error
	WithOrderLock(ctx context.Context, orderRef string, fn func(ctx context.Context) error) error
	GetIssuedCount(ctx context.Context, orderRef, itemRef string) (int, error)
	SetIssuedCount(ctx context.Context, orderRef, itemRef string, count int) error
}

// Notifier описывает внешний сервис доставки, которому сообщается о выпуске карт.
type Notifier interface {
	CardCreated(ctx context.Context, cardID int64, orderRef *string) error
}

// Options содержит настройки бизнес-логики.
type Options struct {
	// CodePrefix — префикс генерируемых кодов.
	CodePrefix string
	// ExpiryDays — срок действия новых карт в днях; 0 означает бессрочно.
	ExpiryDays int
	// SweepInterval — период фонового перевода просроченных карт; 0 отключает.
	SweepInterval time.Duration
}

// Service содержит бизнес-логику сервиса подарочных карт.
type Service struct {
	repo     Repository
	notifier Notifier
	gen      *codegen.Generator
	logger   *zap.Logger
	opts     Options

	// now подменяется в тестах.
	now func() time.Time
}

// NewService создаёт новый сервис с указанным репозиторием и клиентом доставки.
// notifier может быть nil — тогда события о выпуске карт не отправляются.
func NewService(repo Repository, notifier Notifier, logger *zap.Logger, opts Options) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:     repo,
		notifier: notifier,
		gen:      codegen.NewGenerator(opts.CodePrefix, repo),
		logger:   logger,
		opts:     opts,
		now:      time.Now,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// ValidateForCart решает, применим ли код к корзине с указанной валютой и
// уже применёнными кодами. При успехе возвращает карту для ответа витрине.
// Все причины отказа, кроме повторного применения, неразличимы снаружи.
func (s *Service) ValidateForCart(ctx context.Context, code, currency string, appliedCodes []string) (*model.GiftCard, error) {
	card, err := s.repo.GetGiftCardByCode(ctx, code)
	if err != nil {
		if errors.Is(err, repository.ErrCardNotFound) {
			return nil, validation.ErrCardNotRedeemable
		}
		return nil, err
	}

	cart := validation.CartContext{Currency: currency, AppliedCodes: appliedCodes}
	if err := validation.ValidateRedemption(card, cart, s.now()); err != nil {
		return nil, err
	}

	return card, nil
}

// IsGiftCardCode сообщает, существует ли подарочная карта с таким кодом.
// Используется адаптером купонов хост-платформы.
func (s *Service) IsGiftCardCode(ctx context.Context, code string) (bool, error) {
	return s.repo.CodeExists(ctx, code)
}

// GetCardByCode возвращает карту по коду.
func (s *Service) GetCardByCode(ctx context.Context, code string) (*model.GiftCard, error) {
	return s.repo.GetGiftCardByCode(ctx, code)
}

// GetCardByID возвращает карту по идентификатору.
func (s *Service) GetCardByID(ctx context.Context, id int64) (*model.GiftCard, error) {
	return s.repo.GetGiftCardByID(ctx, id)
}

// GetAccountCards возвращает карты личного кабинета: купленные покупателем
// и полученные на его e-mail, без дублей, новые первыми.
func (s *Service) GetAccountCards(ctx context.Context, customerID *int64, email string) ([]model.GiftCard, error) {
	var all []model.GiftCard

	if customerID != nil {
		purchased, err := s.repo.GetGiftCardsByCustomer(ctx, *customerID)
		if err != nil {
			return nil, err
		}
		all = append(all, purchased...)
	}

	if email != "" {
		received, err := s.repo.GetGiftCardsByRecipient(ctx, email)
		if err != nil {
			return nil, err
		}
		all = append(all, received...)
	}

	seen := make(map[int64]bool, len(all))
	cards := make([]model.GiftCard, 0, len(all))
	for _, c := range all {
		if seen[c.ID] {
			continue
		}
		seen[c.ID] = true
		cards = append(cards, c)
	}

	sort.SliceStable(cards, func(i, j int) bool {
		return cards[i].CreatedAt.After(cards[j].CreatedAt)
	})

	return cards, nil
}

// GetCardTransactions возвращает журнал операций по карте.
func (s *Service) GetCardTransactions(ctx context.Context, giftCardID int64) ([]model.Transaction, error) {
	return s.repo.GetTransactionsByCard(ctx, giftCardID)
}

// GetOrderCards возвращает карты, выпущенные по заказу, и все операции,
// связанные с ним. Данные для карточки заказа в административной панели.
func (s *Service) GetOrderCards(ctx context.Context, orderRef string) ([]model.GiftCard, []model.Transaction, error) {
	cards, err := s.repo.GetGiftCardsByOrder(ctx, orderRef)
	if err != nil {
		return nil, nil, err
	}
	txs, err := s.repo.GetTransactionsByOrder(ctx, orderRef)
	if err != nil {
		return nil, nil, err
	}
	return cards, txs, nil
}

// ListCards возвращает страницу карт для административного списка.
func (s *Service) ListCards(ctx context.Context, f repository.ListFilter) ([]model.GiftCard, int64, error) {
	return s.repo.ListGiftCards(ctx, f)
}

// GetStats возвращает сводные показатели по картам.
func (s *Service) GetStats(ctx context.Context) (*model.CardStats, error) {
	return s.repo.GetStats(ctx)
}

// SetCardStatus обновляет статус карты из административной панели.
func (s *Service) SetCardStatus(ctx context.Context, id int64, status model.CardStatus) error {
	return s.repo.SetStatus(ctx, id, status)
}

// DeleteCard удаляет карту вместе с её журналом операций.
func (s *Service) DeleteCard(ctx context.Context, id int64) error {
	return s.repo.DeleteGiftCard(ctx, id)
}

// ManualCardParams — параметры ручного выпуска карты администратором.
type ManualCardParams struct {
	AmountCents    int64
	Currency       string
	SenderName     string
	SenderEmail    string
	RecipientName  string
	RecipientEmail string
	Message        string
}

// CreateManual выпускает карту вручную, без привязки к заказу.
// Событие о выпуске отправляется только при заполненном e-mail получателя.
func (s *Service) CreateManual(ctx context.Context, p ManualCardParams) (int64, error) {
	if p.AmountCents <= 0 {
		return 0, errors.New("gift card amount must be positive")
	}

	card := &model.GiftCard{
		InitialAmount:  p.AmountCents,
		Balance:        p.AmountCents,
		Currency:       p.Currency,
		SenderName:     p.SenderName,
		SenderEmail:    p.SenderEmail,
		RecipientName:  p.RecipientName,
		RecipientEmail: p.RecipientEmail,
		Message:        p.Message,
		Status:         model.CardStatusActive,
		ExpiresAt:      s.expiryDate(),
	}

	id, err := s.insertWithFreshCode(ctx, card)
	if err != nil {
		return 0, err
	}

	if _, err := s.repo.AppendTransaction(ctx, &model.Transaction{
		GiftCardID:   id,
		Type:         model.TransactionTypeCredit,
		Amount:       p.AmountCents,
		BalanceAfter: p.AmountCents,
		Note:         "Manually created by admin",
	}); err != nil {
		return 0, err
	}

	if p.RecipientEmail != "" {
		s.emitCardCreated(ctx, id, nil)
	}

	return id, nil
}

// expiryDate возвращает срок действия новой карты или nil при бессрочных картах.
func (s *Service) expiryDate() *time.Time {
	if s.opts.ExpiryDays <= 0 {
		return nil
	}
	t := s.now().AddDate(0, 0, s.opts.ExpiryDays)
	return &t
}

// insertWithFreshCode выпускает карту, перегенерируя код при гонке за
// уникальность: проверка генератора рекомендательная, решает вставка.
func (s *Service) insertWithFreshCode(ctx context.Context, card *model.GiftCard) (int64, error) {
	var lastErr error
	for attempt := 0; attempt < maxInsertAttempts; attempt++ {
		code, err := s.gen.Generate(ctx)
		if err != nil {
			return 0, fmt.Errorf("generate code: %w", err)
		}
		card.Code = code

		id, err := s.repo.CreateGiftCard(ctx, card)
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, repository.ErrCodeExists) {
			return 0, err
		}
		lastErr = err
	}
	return 0, fmt.Errorf("exhausted code generation attempts: %w", lastErr)
}

func (s *Service) emitCardCreated(ctx context.Context, cardID int64, orderRef *string) {
	if s.notifier == nil {
		return
	}
	// Доставка — внешняя забота: ошибка уведомления не откатывает выпуск.
	if err := s.notifier.CardCreated(ctx, cardID, orderRef); err != nil {
		s.logger.Warn("card created notification failed",
			zap.Int64("cardID", cardID), zap.Error(err))
	}
}

// StartExpirySweeper запускает фоновый перевод просроченных карт в статус expired.
func (s *Service) StartExpirySweeper(ctx context.Context) {
	if s.opts.SweepInterval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(s.opts.SweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				expired, err := s.repo.ExpireDueCards(ctx, s.now())
				if err != nil {
					s.logger.Error("expiry sweep failed", zap.Error(err))
					continue
				}
				if expired > 0 {
					s.logger.Info("expired gift cards", zap.Int64("count", expired))
				}
			}
		}
	}()
}

// sortedCodes возвращает ключи карты сумм в детерминированном порядке.
// Порядок обхода фиксируется и для раздачи остатков при распределении.
func sortedCodes(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
