package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/nstepanov/giftcards-system/internal/allocation"
	"github.com/nstepanov/giftcards-system/internal/model"
	"github.com/nstepanov/giftcards-system/internal/money"
	"github.com/nstepanov/giftcards-system/internal/repository"
)

// ErrUnknownEvent возвращается для события жизненного цикла неизвестного типа.
var ErrUnknownEvent = errors.New("unknown order event")

// HandleOrderEvent — единая точка входа для событий жизненного цикла заказа.
// Порядок стадий для каждого события виден целиком: выпуск карт идёт раньше
// списания, уведомления отправляются внутри выпуска. Любая ветка идемпотентна:
// повторная доставка события не меняет итоговое состояние.
func (s *Service) HandleOrderEvent(ctx context.Context, ev *model.OrderEvent) error {
	if ev.OrderRef == "" {
		return errors.New("order event without order_ref")
	}

	switch ev.Event {
	case model.OrderEventCreated:
		return s.freezePendingDeductions(ctx, ev)

	case model.OrderEventPaymentCompleted:
		return s.repo.WithOrderLock(ctx, ev.OrderRef, func(ctx context.Context) error {
			return s.settle(ctx, ev.OrderRef)
		})

	case model.OrderEventStatusProcessing, model.OrderEventStatusCompleted:
		return s.repo.WithOrderLock(ctx, ev.OrderRef, func(ctx context.Context) error {
			if err := s.issueCards(ctx, ev); err != nil {
				return err
			}
			return s.settle(ctx, ev.OrderRef)
		})

	case model.OrderEventStatusCancelled, model.OrderEventStatusRefunded:
		return s.repo.WithOrderLock(ctx, ev.OrderRef, func(ctx context.Context) error {
			return s.restore(ctx, ev.OrderRef)
		})

	case model.OrderEventPartiallyRefunded:
		return s.repo.WithOrderLock(ctx, ev.OrderRef, func(ctx context.Context) error {
			return s.partialRefund(ctx, ev)
		})
	}

	return fmt.Errorf("%w: %s", ErrUnknownEvent, ev.Event)
}

// freezePendingDeductions фиксирует снимок погашений корзины при создании
// заказа. Снимок замораживается до оплаты; повторное событие его не трогает.
func (s *Service) freezePendingDeductions(ctx context.Context, ev *model.OrderEvent) error {
	deductions := make(map[string]int64, len(ev.Deductions))
	for code, amount := range ev.Deductions {
		if amount > 0 {
			deductions[code] = amount
		}
	}
	if len(deductions) == 0 {
		return nil
	}

	return s.repo.SavePendingDeductions(ctx, ev.OrderRef, ev.Currency, deductions)
}

// issueCards выпускает карты по позициям заказа вида gift_card.
// Счётчик выпуска ведётся по каждой позиции: повторное событие продолжает
// с места остановки, а не выпускает все N заново.
func (s *Service) issueCards(ctx context.Context, ev *model.OrderEvent) error {
	for _, item := range ev.Items {
		if item.Kind != model.OrderItemKindGiftCard || item.UnitAmount <= 0 || item.Quantity <= 0 {
			continue
		}

		issued, err := s.repo.GetIssuedCount(ctx, ev.OrderRef, item.ItemRef)
		if err != nil {
			return err
		}

		for i := issued; i < item.Quantity; i++ {
			if err := s.issueSingle(ctx, ev, item); err != nil {
				return err
			}
			if err := s.repo.SetIssuedCount(ctx, ev.OrderRef, item.ItemRef, i+1); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Service) issueSingle(ctx context.Context, ev *model.OrderEvent, item model.OrderItem) error {
	orderRef := ev.OrderRef

	senderName := item.SenderName
	if senderName == "" {
		senderName = ev.BillingName
	}
	senderEmail := item.SenderEmail
	if senderEmail == "" {
		senderEmail = ev.BillingEmail
	}
	recipientEmail := item.RecipientEmail
	if recipientEmail == "" {
		recipientEmail = ev.BillingEmail
	}

	card := &model.GiftCard{
		InitialAmount:  item.UnitAmount,
		Balance:        item.UnitAmount,
		Currency:       ev.Currency,
		SenderName:     senderName,
		SenderEmail:    senderEmail,
		RecipientName:  item.RecipientName,
		RecipientEmail: recipientEmail,
		Message:        item.Message,
		OrderRef:       &orderRef,
		CustomerID:     ev.CustomerID,
		Status:         model.CardStatusActive,
		ExpiresAt:      s.expiryDate(),
	}

	id, err := s.insertWithFreshCode(ctx, card)
	if err != nil {
		return err
	}

	if _, err := s.repo.AppendTransaction(ctx, &model.Transaction{
		GiftCardID:   id,
		OrderRef:     &orderRef,
		Type:         model.TransactionTypeCredit,
		Amount:       item.UnitAmount,
		BalanceAfter: item.UnitAmount,
		Note:         fmt.Sprintf("Gift card created from order %s", orderRef),
	}); err != nil {
		return err
	}

	s.emitCardCreated(ctx, id, &orderRef)
	return nil
}

// settle списывает балансы карт по зафиксированным погашениям заказа.
// Карты перепроверяются на момент списания: между применением к корзине и
// оплатой карта могла истечь или быть отключена. Отказ по отдельному коду
// не фатален — он останется недоведённым и повторится со следующим событием.
func (s *Service) settle(ctx context.Context, orderRef string) error {
	o, err := s.repo.GetOrderRedemption(ctx, orderRef)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			return nil
		}
		return err
	}

	if o.Deducted || len(o.PendingDeductions) == 0 {
		return nil
	}

	if o.DeductedAmounts == nil {
		o.DeductedAmounts = make(map[string]int64, len(o.PendingDeductions))
	}

	now := s.now()

	for _, code := range sortedCodes(o.PendingDeductions) {
		amount := o.PendingDeductions[code]
		if amount <= 0 {
			continue
		}
		if o.DeductedAmounts[code] >= amount {
			continue
		}

		card, err := s.repo.GetGiftCardByCode(ctx, code)
		if err != nil {
			if errors.Is(err, repository.ErrCardNotFound) {
				s.logger.Warn("settlement skipped missing card",
					zap.String("order", orderRef), zap.String("code", code))
				continue
			}
			return err
		}

		if card.Status != model.CardStatusActive || card.Expired(now) {
			s.logger.Warn("settlement skipped unusable card",
				zap.String("order", orderRef), zap.String("code", code),
				zap.String("status", string(card.Status)))
			continue
		}

		oldBalance, newBalance, ok, err := s.repo.DeductBalance(ctx, card.ID, amount)
		if err != nil {
			return err
		}
		if !ok {
			s.logger.Warn("settlement deduction refused",
				zap.String("order", orderRef), zap.String("code", code))
			continue
		}

		// В журнал идёт фактически списанное: при прижатии к нулю оно
		// меньше запрошенного.
		if _, err := s.repo.AppendTransaction(ctx, &model.Transaction{
			GiftCardID:   card.ID,
			OrderRef:     &orderRef,
			Type:         model.TransactionTypeDebit,
			Amount:       oldBalance - newBalance,
			BalanceAfter: newBalance,
			Note:         fmt.Sprintf("Used on order %s", orderRef),
		}); err != nil {
			return err
		}

		if newBalance == 0 {
			if err := s.repo.SetStatus(ctx, card.ID, model.CardStatusRedeemed); err != nil {
				return err
			}
		}

		o.DeductedAmounts[code] = amount
	}

	complete := true
	for code, amount := range o.PendingDeductions {
		if amount <= 0 {
			continue
		}
		if o.DeductedAmounts[code] < amount {
			complete = false
			break
		}
	}
	o.Deducted = complete

	return s.repo.UpdateOrderRedemption(ctx, o)
}

// restore полностью возвращает списанные суммы при отмене или полном
// возврате заказа. Однократность гарантирует флаг restored; восстановление
// прижимается к номиналу карты, в журнал идёт фактическая дельта.
func (s *Service) restore(ctx context.Context, orderRef string) error {
	o, err := s.repo.GetOrderRedemption(ctx, orderRef)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			return nil
		}
		return err
	}

	if o.Restored {
		return nil
	}

	deductions := o.EffectiveDeductions()
	if len(deductions) == 0 {
		return nil
	}

	for _, code := range sortedCodes(deductions) {
		if err := s.restoreCard(ctx, orderRef, code, deductions[code],
			fmt.Sprintf("Refunded from order %s", orderRef)); err != nil {
			return err
		}
	}

	o.Restored = true
	return s.repo.UpdateOrderRedemption(ctx, o)
}

// partialRefund пропорционально восстанавливает балансы при частичном
// возврате. Событие повторяемо: каждый возврат добавляет к накопленному
// partial_restored, суммарно не больше фактически списанного.
func (s *Service) partialRefund(ctx context.Context, ev *model.OrderEvent) error {
	o, err := s.repo.GetOrderRedemption(ctx, ev.OrderRef)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			return nil
		}
		return err
	}

	// Полное восстановление уже прошло — частичному возврату нечего делать.
	if o.Restored {
		return nil
	}

	deductions := o.EffectiveDeductions()
	if len(deductions) == 0 {
		return nil
	}

	var totalDeducted int64
	for _, amount := range deductions {
		totalDeducted += amount
	}

	if totalDeducted <= 0 || ev.RefundAmount <= 0 {
		return nil
	}

	// Итог заказа до применения карт восстанавливается как сумма итога
	// после скидки и всех списаний.
	orderTotalBefore := ev.OrderTotal + totalDeducted
	if orderTotalBefore <= 0 {
		return nil
	}

	target := money.ProportionalShare(ev.RefundAmount, totalDeducted, orderTotalBefore)
	if target > totalDeducted {
		target = totalDeducted
	}
	if remaining := totalDeducted - o.PartialRestored; target > remaining {
		target = remaining
	}
	if target <= 0 {
		return nil
	}

	allocations := allocation.LargestRemainder(target, deductions, sortedCodes(deductions))

	var actualRestored int64
	for _, code := range sortedCodes(allocations) {
		restored, err := s.restoreCardAmount(ctx, ev.OrderRef, code, allocations[code],
			fmt.Sprintf("Partial refund from order %s", ev.OrderRef))
		if err != nil {
			return err
		}
		actualRestored += restored
	}

	if actualRestored > 0 {
		o.PartialRestored += actualRestored
		return s.repo.UpdateOrderRedemption(ctx, o)
	}
	return nil
}

func (s *Service) restoreCard(ctx context.Context, orderRef, code string, amount int64, note string) error {
	_, err := s.restoreCardAmount(ctx, orderRef, code, amount, note)
	return err
}

// restoreCardAmount возвращает amount на карту, прижимая баланс к номиналу,
// и пишет refund-запись на фактическую дельту. Возвращает фактически
// восстановленное. Отсутствующая карта пропускается без ошибки.
func (s *Service) restoreCardAmount(ctx context.Context, orderRef, code string, amount int64, note string) (int64, error) {
	if amount <= 0 {
		return 0, nil
	}

	card, err := s.repo.GetGiftCardByCode(ctx, code)
	if err != nil {
		if errors.Is(err, repository.ErrCardNotFound) {
			s.logger.Warn("restore skipped missing card",
				zap.String("order", orderRef), zap.String("code", code))
			return 0, nil
		}
		return 0, err
	}

	newBalance := card.Balance + amount
	if newBalance > card.InitialAmount {
		newBalance = card.InitialAmount
	}

	restored := newBalance - card.Balance
	if restored <= 0 {
		return 0, nil
	}

	if err := s.repo.SetBalance(ctx, card.ID, newBalance); err != nil {
		return 0, err
	}

	// Погашенная карта с ненулевым балансом снова активна.
	if card.Status == model.CardStatusRedeemed {
		if err := s.repo.SetStatus(ctx, card.ID, model.CardStatusActive); err != nil {
			return 0, err
		}
	}

	if _, err := s.repo.AppendTransaction(ctx, &model.Transaction{
		GiftCardID:   card.ID,
		OrderRef:     &orderRef,
		Type:         model.TransactionTypeRefund,
		Amount:       restored,
		BalanceAfter: newBalance,
		Note:         note,
	}); err != nil {
		return 0, err
	}

	return restored, nil
}
