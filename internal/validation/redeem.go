// Package validation содержит проверку применимости подарочной карты к корзине.
package validation

import (
	"errors"
	"strings"
	"time"

	"github.com/nstepanov/giftcards-system/internal/model"
)

// ErrCardNotRedeemable возвращается при любой причине непригодности карты
// (нет карты, неверный статус, нулевой баланс, истёкший срок, чужая валюта).
// Причины намеренно не различаются, чтобы по ответам нельзя было перебирать коды.
var ErrCardNotRedeemable = errors.New("gift card code is invalid or cannot be applied")

// ErrAlreadyApplied возвращается, когда код уже применён к корзине.
// Единственный отличимый исход: легитимному покупателю полезно знать,
// что карта уже учтена.
var ErrAlreadyApplied = errors.New("gift card is already applied")

// CartContext описывает состояние корзины витрины в момент проверки.
type CartContext struct {
	Currency     string
	AppliedCodes []string
}

// ValidateRedemption решает, применима ли карта к корзине прямо сейчас.
// Проверки идут по порядку до первого отказа: существование, статус,
// баланс, срок действия, валюта, повторное применение.
func ValidateRedemption(card *model.GiftCard, cart CartContext, now time.Time) error {
	if card == nil {
		return ErrCardNotRedeemable
	}
	if card.Status != model.CardStatusActive {
		return ErrCardNotRedeemable
	}
	if card.Balance <= 0 {
		return ErrCardNotRedeemable
	}
	if card.Expired(now) {
		return ErrCardNotRedeemable
	}
	if !strings.EqualFold(card.Currency, cart.Currency) {
		return ErrCardNotRedeemable
	}

	for _, applied := range cart.AppliedCodes {
		if strings.EqualFold(applied, card.Code) {
			return ErrAlreadyApplied
		}
	}

	return nil
}
