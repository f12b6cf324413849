// Package model содержит доменные сущности сервиса подарочных карт.
package model

import "time"

// CardStatus описывает статус подарочной карты.
type CardStatus string

const (
	CardStatusActive   CardStatus = "active"
	CardStatusDisabled CardStatus = "disabled"
	CardStatusExpired  CardStatus = "expired"
	CardStatusRedeemed CardStatus = "redeemed"
)

// ValidStatus проверяет, что статус входит в множество допустимых значений.
func ValidStatus(s CardStatus) bool {
	switch s {
	case CardStatusActive, CardStatusDisabled, CardStatusExpired, CardStatusRedeemed:
		return true
	}
	return false
}

// GiftCard представляет подарочную карту с фиксированным номиналом и изменяемым балансом.
// Суммы хранятся в копейках (int64), инвариант: 0 <= Balance <= InitialAmount.
type GiftCard struct {
	ID             int64
	Code           string
	InitialAmount  int64
	Balance        int64
	Currency       string
	SenderName     string
	SenderEmail    string
	RecipientName  string
	RecipientEmail string
	Message        string
	OrderRef       *string
	CustomerID     *int64
	Status         CardStatus
	ExpiresAt      *time.Time
	CreatedAt      time.Time
}

// Expired сообщает, истёк ли срок действия карты на момент now.
// Карта без ExpiresAt бессрочна.
func (c *GiftCard) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && c.ExpiresAt.Before(now)
}

// TransactionType описывает тип операции по карте.
type TransactionType string

const (
	TransactionTypeCredit TransactionType = "credit"
	TransactionTypeDebit  TransactionType = "debit"
	TransactionTypeRefund TransactionType = "refund"
)

// Transaction — запись журнала операций по карте. Журнал только добавляется,
// записи никогда не изменяются. Amount всегда положительный, BalanceAfter —
// баланс карты сразу после применения операции.
type Transaction struct {
	ID           int64
	GiftCardID   int64
	OrderRef     *string
	Type         TransactionType
	Amount       int64
	BalanceAfter int64
	Note         string
	CreatedAt    time.Time
}

// OrderRedemption — снимок погашений по одному заказу внешней торговой системы.
// PendingDeductions фиксируется при создании заказа и далее не меняется;
// DeductedAmounts накапливает фактически списанные суммы по кодам.
type OrderRedemption struct {
	OrderRef          string
	Currency          string
	PendingDeductions map[string]int64
	DeductedAmounts   map[string]int64
	Deducted          bool
	Restored          bool
	PartialRestored   int64
	UpdatedAt         time.Time
}

// EffectiveDeductions возвращает фактически применённые списания по кодам,
// с откатом к зафиксированным при создании заказа, если списание ещё не выполнялось.
func (o *OrderRedemption) EffectiveDeductions() map[string]int64 {
	src := o.DeductedAmounts
	if len(src) == 0 {
		src = o.PendingDeductions
	}

	out := make(map[string]int64, len(src))
	for code, amount := range src {
		if amount > 0 {
			out[code] = amount
		}
	}
	return out
}

// OrderItemKindGiftCard помечает позицию заказа как покупку подарочной карты.
const OrderItemKindGiftCard = "gift_card"

// OrderItem — позиция заказа из события внешней торговой системы.
type OrderItem struct {
	ItemRef        string
	Kind           string
	UnitAmount     int64
	Quantity       int
	SenderName     string
	SenderEmail    string
	RecipientName  string
	RecipientEmail string
	Message        string
}

// OrderEventType описывает тип события жизненного цикла заказа.
type OrderEventType string

const (
	OrderEventCreated           OrderEventType = "order_created"
	OrderEventPaymentCompleted  OrderEventType = "payment_completed"
	OrderEventStatusProcessing  OrderEventType = "status_processing"
	OrderEventStatusCompleted   OrderEventType = "status_completed"
	OrderEventStatusCancelled   OrderEventType = "status_cancelled"
	OrderEventStatusRefunded    OrderEventType = "status_refunded"
	OrderEventPartiallyRefunded OrderEventType = "status_partially_refunded"
)

// OrderEvent — событие жизненного цикла заказа. События могут приходить
// повторно и в произвольном порядке, обработка обязана быть идемпотентной.
type OrderEvent struct {
	Event        OrderEventType
	OrderRef     string
	Currency     string
	CustomerID   *int64
	BillingName  string
	BillingEmail string
	// OrderTotal — итог заказа после применения подарочных карт, в копейках.
	OrderTotal int64
	// RefundAmount — сумма возврата для status_partially_refunded, в копейках.
	RefundAmount int64
	// Deductions — суммы погашений по кодам на момент order_created, в копейках.
	Deductions map[string]int64
	Items      []OrderItem
}

// CardStats — сводные показатели по выпущенным картам для административной панели.
type CardStats struct {
	TotalIssued        int64
	OutstandingBalance int64
	TotalRedeemed      int64
	TotalExpired       int64
}
