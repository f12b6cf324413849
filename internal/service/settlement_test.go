package service

import (
	"context"
	"errors"
	"math/rand"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/nstepanov/giftcards-system/internal/model"
)

func eventCreated(orderRef string, deductions map[string]int64) *model.OrderEvent {
	return &model.OrderEvent{
		Event:      model.OrderEventCreated,
		OrderRef:   orderRef,
		Currency:   "USD",
		Deductions: deductions,
	}
}

func eventPaid(orderRef string) *model.OrderEvent {
	return &model.OrderEvent{Event: model.OrderEventPaymentCompleted, OrderRef: orderRef}
}

// assertConservation проверяет, что баланс каждой карты равен сумме
// пополнений и возвратов минус списания по её журналу.
func assertConservation(t *testing.T, repo *memRepo) {
	t.Helper()

	repo.mu.Lock()
	defer repo.mu.Unlock()

	for id, card := range repo.cards {
		expected := card.InitialAmount
		for _, tx := range repo.txs {
			if tx.GiftCardID != id {
				continue
			}
			switch tx.Type {
			case model.TransactionTypeDebit:
				expected -= tx.Amount
			case model.TransactionTypeRefund:
				expected += tx.Amount
			}
		}
		if card.Balance != expected {
			t.Fatalf("card %s: balance %d does not match ledger %d", card.Code, card.Balance, expected)
		}
	}
}

func TestHandleOrderEvent_RequiresOrderRef(t *testing.T) {
	svc := newTestService(newMemRepo())

	if err := svc.HandleOrderEvent(context.Background(), &model.OrderEvent{Event: model.OrderEventCreated}); err == nil {
		t.Fatalf("expected error for empty order_ref")
	}
}

func TestHandleOrderEvent_UnknownType(t *testing.T) {
	svc := newTestService(newMemRepo())

	err := svc.HandleOrderEvent(context.Background(), &model.OrderEvent{Event: "order_archived", OrderRef: "1001"})
	if !errors.Is(err, ErrUnknownEvent) {
		t.Fatalf("error = %v, want ErrUnknownEvent", err)
	}
}

func TestFreeze_SnapshotIsImmutable(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	if err := svc.HandleOrderEvent(ctx, eventCreated("1001", map[string]int64{"GIFT-AAAA": 3000})); err != nil {
		t.Fatalf("created event error: %v", err)
	}
	// повторное событие с другими суммами не должно перезаписать снимок
	if err := svc.HandleOrderEvent(ctx, eventCreated("1001", map[string]int64{"GIFT-AAAA": 9999})); err != nil {
		t.Fatalf("repeated created event error: %v", err)
	}

	o, err := repo.GetOrderRedemption(ctx, "1001")
	if err != nil {
		t.Fatalf("GetOrderRedemption error: %v", err)
	}
	if o.PendingDeductions["GIFT-AAAA"] != 3000 {
		t.Fatalf("pending = %d, want frozen 3000", o.PendingDeductions["GIFT-AAAA"])
	}
}

func TestFreeze_DropsNonPositiveAmounts(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	if err := svc.HandleOrderEvent(ctx, eventCreated("1001", map[string]int64{"GIFT-AAAA": 0, "GIFT-BBBB": -5})); err != nil {
		t.Fatalf("created event error: %v", err)
	}

	if _, err := repo.GetOrderRedemption(ctx, "1001"); err == nil {
		t.Fatalf("expected no redemption record for all-zero deductions")
	}
}

func TestSettle_DeductsAndLogs(t *testing.T) {
	repo := newMemRepo()
	id1 := repo.addCard("GIFT-AAAA", 5000, 5000, model.CardStatusActive)
	id2 := repo.addCard("GIFT-BBBB", 2000, 2000, model.CardStatusActive)
	svc := newTestService(repo)
	ctx := context.Background()

	deductions := map[string]int64{"GIFT-AAAA": 3000, "GIFT-BBBB": 2000}
	if err := svc.HandleOrderEvent(ctx, eventCreated("1001", deductions)); err != nil {
		t.Fatalf("created event error: %v", err)
	}
	if err := svc.HandleOrderEvent(ctx, eventPaid("1001")); err != nil {
		t.Fatalf("paid event error: %v", err)
	}

	card1, _ := repo.GetGiftCardByID(ctx, id1)
	card2, _ := repo.GetGiftCardByID(ctx, id2)
	if card1.Balance != 2000 {
		t.Fatalf("card1 balance = %d, want 2000", card1.Balance)
	}
	if card2.Balance != 0 {
		t.Fatalf("card2 balance = %d, want 0", card2.Balance)
	}
	if card2.Status != model.CardStatusRedeemed {
		t.Fatalf("card2 status = %s, want redeemed at zero balance", card2.Status)
	}

	o, _ := repo.GetOrderRedemption(ctx, "1001")
	if !o.Deducted {
		t.Fatalf("expected order marked deducted")
	}

	txs, _ := repo.GetTransactionsByOrder(ctx, "1001")
	if len(txs) != 2 {
		t.Fatalf("transactions = %d, want 2", len(txs))
	}

	assertConservation(t, repo)
}

func TestSettle_Idempotent(t *testing.T) {
	repo := newMemRepo()
	id := repo.addCard("GIFT-AAAA", 5000, 5000, model.CardStatusActive)
	svc := newTestService(repo)
	ctx := context.Background()

	if err := svc.HandleOrderEvent(ctx, eventCreated("1001", map[string]int64{"GIFT-AAAA": 3000})); err != nil {
		t.Fatalf("created event error: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := svc.HandleOrderEvent(ctx, eventPaid("1001")); err != nil {
			t.Fatalf("paid event #%d error: %v", i+1, err)
		}
	}

	card, _ := repo.GetGiftCardByID(ctx, id)
	if card.Balance != 2000 {
		t.Fatalf("balance = %d after repeated settlement, want 2000", card.Balance)
	}

	txs, _ := repo.GetTransactionsByCard(ctx, id)
	if len(txs) != 1 {
		t.Fatalf("transactions = %d, want exactly 1 debit", len(txs))
	}
}

func TestSettle_ClampsAtZeroAndLogsActual(t *testing.T) {
	repo := newMemRepo()
	id := repo.addCard("GIFT-AAAA", 1000, 1000, model.CardStatusActive)
	svc := newTestService(repo)
	ctx := context.Background()

	if err := svc.HandleOrderEvent(ctx, eventCreated("1001", map[string]int64{"GIFT-AAAA": 2500})); err != nil {
		t.Fatalf("created event error: %v", err)
	}
	if err := svc.HandleOrderEvent(ctx, eventPaid("1001")); err != nil {
		t.Fatalf("paid event error: %v", err)
	}

	card, _ := repo.GetGiftCardByID(ctx, id)
	if card.Balance != 0 {
		t.Fatalf("balance = %d, want clamp at 0", card.Balance)
	}

	txs, _ := repo.GetTransactionsByCard(ctx, id)
	if len(txs) != 1 || txs[0].Amount != 1000 {
		t.Fatalf("debit = %+v, want actual amount 1000", txs)
	}

	// в снимке заказа остаётся запрошенная сумма
	o, _ := repo.GetOrderRedemption(ctx, "1001")
	if o.DeductedAmounts["GIFT-AAAA"] != 2500 {
		t.Fatalf("deducted amount = %d, want requested 2500", o.DeductedAmounts["GIFT-AAAA"])
	}

	assertConservation(t, repo)
}

func TestSettle_SkipsExpiredCardAndRetriesLater(t *testing.T) {
	repo := newMemRepo()
	id := repo.addCard("GIFT-AAAA", 5000, 5000, model.CardStatusActive)
	past := time.Now().Add(-time.Hour)
	repo.mu.Lock()
	repo.cards[id].ExpiresAt = &past
	repo.mu.Unlock()

	svc := newTestService(repo)
	ctx := context.Background()

	if err := svc.HandleOrderEvent(ctx, eventCreated("1001", map[string]int64{"GIFT-AAAA": 3000})); err != nil {
		t.Fatalf("created event error: %v", err)
	}
	if err := svc.HandleOrderEvent(ctx, eventPaid("1001")); err != nil {
		t.Fatalf("paid event error: %v", err)
	}

	card, _ := repo.GetGiftCardByID(ctx, id)
	if card.Balance != 5000 {
		t.Fatalf("balance = %d, expired card must not be charged", card.Balance)
	}

	o, _ := repo.GetOrderRedemption(ctx, "1001")
	if o.Deducted {
		t.Fatalf("order must stay incomplete while a code is unsettled")
	}

	// срок продлили, следующее событие доводит списание
	future := time.Now().Add(time.Hour)
	repo.mu.Lock()
	repo.cards[id].ExpiresAt = &future
	repo.mu.Unlock()

	if err := svc.HandleOrderEvent(ctx, eventPaid("1001")); err != nil {
		t.Fatalf("second paid event error: %v", err)
	}

	card, _ = repo.GetGiftCardByID(ctx, id)
	if card.Balance != 2000 {
		t.Fatalf("balance = %d after retry, want 2000", card.Balance)
	}
	o, _ = repo.GetOrderRedemption(ctx, "1001")
	if !o.Deducted {
		t.Fatalf("order must be complete after retry")
	}
}

func TestSettle_MissingCardSkippedWithoutError(t *testing.T) {
	repo := newMemRepo()
	repo.addCard("GIFT-AAAA", 5000, 5000, model.CardStatusActive)
	svc := newTestService(repo)
	ctx := context.Background()

	if err := svc.HandleOrderEvent(ctx, eventCreated("1001",
		map[string]int64{"GIFT-AAAA": 1000, "GIFT-GONE": 2000})); err != nil {
		t.Fatalf("created event error: %v", err)
	}
	if err := svc.HandleOrderEvent(ctx, eventPaid("1001")); err != nil {
		t.Fatalf("paid event error: %v", err)
	}

	o, _ := repo.GetOrderRedemption(ctx, "1001")
	if o.DeductedAmounts["GIFT-AAAA"] != 1000 {
		t.Fatalf("present card must settle despite the missing one")
	}
	if o.Deducted {
		t.Fatalf("order must stay incomplete while a code is missing")
	}
}

func TestSettle_WithoutRedemptionRecordIsNoOp(t *testing.T) {
	svc := newTestService(newMemRepo())

	if err := svc.HandleOrderEvent(context.Background(), eventPaid("1001")); err != nil {
		t.Fatalf("paid event without redemption record: %v", err)
	}
}

func TestSettle_ConcurrentOrdersNeverOverdraw(t *testing.T) {
	repo := newMemRepo()
	id := repo.addCard("GIFT-AAAA", 10000, 10000, model.CardStatusActive)
	svc := newTestService(repo)
	ctx := context.Background()

	const orders = 8
	refs := []string{"2001", "2002", "2003", "2004", "2005", "2006", "2007", "2008"}
	for _, ref := range refs {
		if err := svc.HandleOrderEvent(ctx, eventCreated(ref, map[string]int64{"GIFT-AAAA": 3000})); err != nil {
			t.Fatalf("created event error: %v", err)
		}
	}

	var wg sync.WaitGroup
	errs := make(chan error, orders)
	for _, ref := range refs {
		wg.Add(1)
		go func(ref string) {
			defer wg.Done()
			errs <- svc.HandleOrderEvent(ctx, eventPaid(ref))
		}(ref)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent settlement error: %v", err)
		}
	}

	card, _ := repo.GetGiftCardByID(ctx, id)
	if card.Balance != 0 {
		t.Fatalf("balance = %d, want 0", card.Balance)
	}

	var debited int64
	txs, _ := repo.GetTransactionsByCard(ctx, id)
	for _, tx := range txs {
		if tx.Type != model.TransactionTypeDebit {
			t.Fatalf("unexpected transaction type %s", tx.Type)
		}
		debited += tx.Amount
	}
	if debited != 10000 {
		t.Fatalf("total debited = %d, want exactly the initial balance 10000", debited)
	}
}

func TestRestore_FullRefund(t *testing.T) {
	repo := newMemRepo()
	id := repo.addCard("GIFT-AAAA", 10000, 10000, model.CardStatusActive)
	svc := newTestService(repo)
	ctx := context.Background()

	if err := svc.HandleOrderEvent(ctx, eventCreated("1001", map[string]int64{"GIFT-AAAA": 10000})); err != nil {
		t.Fatalf("created event error: %v", err)
	}
	if err := svc.HandleOrderEvent(ctx, eventPaid("1001")); err != nil {
		t.Fatalf("paid event error: %v", err)
	}

	card, _ := repo.GetGiftCardByID(ctx, id)
	if card.Balance != 0 || card.Status != model.CardStatusRedeemed {
		t.Fatalf("after settlement: balance=%d status=%s", card.Balance, card.Status)
	}

	if err := svc.HandleOrderEvent(ctx, &model.OrderEvent{
		Event: model.OrderEventStatusRefunded, OrderRef: "1001",
	}); err != nil {
		t.Fatalf("refunded event error: %v", err)
	}

	card, _ = repo.GetGiftCardByID(ctx, id)
	if card.Balance != 10000 {
		t.Fatalf("balance = %d after full refund, want 10000", card.Balance)
	}
	if card.Status != model.CardStatusActive {
		t.Fatalf("status = %s, redeemed card must reactivate", card.Status)
	}

	txs, _ := repo.GetTransactionsByCard(ctx, id)
	var refunds int
	for _, tx := range txs {
		if tx.Type == model.TransactionTypeRefund {
			refunds++
			if tx.Amount != 10000 {
				t.Fatalf("refund amount = %d, want 10000", tx.Amount)
			}
		}
	}
	if refunds != 1 {
		t.Fatalf("refund transactions = %d, want 1", refunds)
	}

	assertConservation(t, repo)
}

func TestRestore_OneShot(t *testing.T) {
	repo := newMemRepo()
	id := repo.addCard("GIFT-AAAA", 5000, 5000, model.CardStatusActive)
	svc := newTestService(repo)
	ctx := context.Background()

	if err := svc.HandleOrderEvent(ctx, eventCreated("1001", map[string]int64{"GIFT-AAAA": 3000})); err != nil {
		t.Fatalf("created event error: %v", err)
	}
	if err := svc.HandleOrderEvent(ctx, eventPaid("1001")); err != nil {
		t.Fatalf("paid event error: %v", err)
	}

	cancelled := &model.OrderEvent{Event: model.OrderEventStatusCancelled, OrderRef: "1001"}
	for i := 0; i < 3; i++ {
		if err := svc.HandleOrderEvent(ctx, cancelled); err != nil {
			t.Fatalf("cancelled event #%d error: %v", i+1, err)
		}
	}

	card, _ := repo.GetGiftCardByID(ctx, id)
	if card.Balance != 5000 {
		t.Fatalf("balance = %d after repeated restore, want 5000", card.Balance)
	}
}

func TestRestore_BeforeSettlementFallsBackToPending(t *testing.T) {
	repo := newMemRepo()
	id := repo.addCard("GIFT-AAAA", 5000, 2000, model.CardStatusActive)
	svc := newTestService(repo)
	ctx := context.Background()

	if err := svc.HandleOrderEvent(ctx, eventCreated("1001", map[string]int64{"GIFT-AAAA": 3000})); err != nil {
		t.Fatalf("created event error: %v", err)
	}
	// отмена до оплаты: списания не было, восстановление идёт по снимку
	// и прижимается к номиналу
	if err := svc.HandleOrderEvent(ctx, &model.OrderEvent{
		Event: model.OrderEventStatusCancelled, OrderRef: "1001",
	}); err != nil {
		t.Fatalf("cancelled event error: %v", err)
	}

	card, _ := repo.GetGiftCardByID(ctx, id)
	if card.Balance != 5000 {
		t.Fatalf("balance = %d, want cap at initial amount 5000", card.Balance)
	}

	txs, _ := repo.GetTransactionsByCard(ctx, id)
	if len(txs) != 1 || txs[0].Amount != 3000 {
		t.Fatalf("refund journal = %+v, want actual delta 3000", txs)
	}
}

func TestPartialRefund_ProportionalSplit(t *testing.T) {
	repo := newMemRepo()
	id1 := repo.addCard("GIFT-AAAA", 3000, 3000, model.CardStatusActive)
	id2 := repo.addCard("GIFT-BBBB", 2000, 2000, model.CardStatusActive)
	svc := newTestService(repo)
	ctx := context.Background()

	if err := svc.HandleOrderEvent(ctx, eventCreated("1001",
		map[string]int64{"GIFT-AAAA": 3000, "GIFT-BBBB": 2000})); err != nil {
		t.Fatalf("created event error: %v", err)
	}
	if err := svc.HandleOrderEvent(ctx, eventPaid("1001")); err != nil {
		t.Fatalf("paid event error: %v", err)
	}

	// заказ на 50.00 был полностью оплачен картами, итог после скидки 0.00;
	// возврат 25.00 восстанавливает ровно 25.00 в пропорции 15.00/10.00
	if err := svc.HandleOrderEvent(ctx, &model.OrderEvent{
		Event:        model.OrderEventPartiallyRefunded,
		OrderRef:     "1001",
		OrderTotal:   0,
		RefundAmount: 2500,
	}); err != nil {
		t.Fatalf("partial refund event error: %v", err)
	}

	card1, _ := repo.GetGiftCardByID(ctx, id1)
	card2, _ := repo.GetGiftCardByID(ctx, id2)
	if card1.Balance != 1500 {
		t.Fatalf("card1 balance = %d, want 1500", card1.Balance)
	}
	if card2.Balance != 1000 {
		t.Fatalf("card2 balance = %d, want 1000", card2.Balance)
	}

	o, _ := repo.GetOrderRedemption(ctx, "1001")
	if o.PartialRestored != 2500 {
		t.Fatalf("partial_restored = %d, want 2500", o.PartialRestored)
	}

	assertConservation(t, repo)
}

func TestPartialRefund_CappedByDeductedTotal(t *testing.T) {
	repo := newMemRepo()
	id := repo.addCard("GIFT-AAAA", 2000, 2000, model.CardStatusActive)
	svc := newTestService(repo)
	ctx := context.Background()

	if err := svc.HandleOrderEvent(ctx, eventCreated("1001", map[string]int64{"GIFT-AAAA": 2000})); err != nil {
		t.Fatalf("created event error: %v", err)
	}
	if err := svc.HandleOrderEvent(ctx, eventPaid("1001")); err != nil {
		t.Fatalf("paid event error: %v", err)
	}

	// два частичных возврата: второй упирается в остаток списанного
	for i := 0; i < 2; i++ {
		if err := svc.HandleOrderEvent(ctx, &model.OrderEvent{
			Event:        model.OrderEventPartiallyRefunded,
			OrderRef:     "1001",
			OrderTotal:   0,
			RefundAmount: 1500,
		}); err != nil {
			t.Fatalf("partial refund #%d error: %v", i+1, err)
		}
	}

	card, _ := repo.GetGiftCardByID(ctx, id)
	if card.Balance != 2000 {
		t.Fatalf("balance = %d, want cap at 2000", card.Balance)
	}
	o, _ := repo.GetOrderRedemption(ctx, "1001")
	if o.PartialRestored != 2000 {
		t.Fatalf("partial_restored = %d, want 2000", o.PartialRestored)
	}
}

func TestPartialRefund_AfterFullRestoreIsNoOp(t *testing.T) {
	repo := newMemRepo()
	id := repo.addCard("GIFT-AAAA", 2000, 2000, model.CardStatusActive)
	svc := newTestService(repo)
	ctx := context.Background()

	if err := svc.HandleOrderEvent(ctx, eventCreated("1001", map[string]int64{"GIFT-AAAA": 2000})); err != nil {
		t.Fatalf("created event error: %v", err)
	}
	if err := svc.HandleOrderEvent(ctx, eventPaid("1001")); err != nil {
		t.Fatalf("paid event error: %v", err)
	}
	if err := svc.HandleOrderEvent(ctx, &model.OrderEvent{
		Event: model.OrderEventStatusRefunded, OrderRef: "1001",
	}); err != nil {
		t.Fatalf("refunded event error: %v", err)
	}
	if err := svc.HandleOrderEvent(ctx, &model.OrderEvent{
		Event:        model.OrderEventPartiallyRefunded,
		OrderRef:     "1001",
		RefundAmount: 500,
	}); err != nil {
		t.Fatalf("partial refund event error: %v", err)
	}

	card, _ := repo.GetGiftCardByID(ctx, id)
	if card.Balance != 2000 {
		t.Fatalf("balance = %d, full restore must not be topped up further", card.Balance)
	}
}

func TestPartialRefund_ScaledByOrderShare(t *testing.T) {
	repo := newMemRepo()
	id := repo.addCard("GIFT-AAAA", 4000, 4000, model.CardStatusActive)
	svc := newTestService(repo)
	ctx := context.Background()

	if err := svc.HandleOrderEvent(ctx, eventCreated("1001", map[string]int64{"GIFT-AAAA": 4000})); err != nil {
		t.Fatalf("created event error: %v", err)
	}
	if err := svc.HandleOrderEvent(ctx, eventPaid("1001")); err != nil {
		t.Fatalf("paid event error: %v", err)
	}

	// карта покрыла 40.00 из 100.00; возврат 50.00 восстанавливает долю
	// карт: 50.00 * 4000/10000 = 20.00
	if err := svc.HandleOrderEvent(ctx, &model.OrderEvent{
		Event:        model.OrderEventPartiallyRefunded,
		OrderRef:     "1001",
		OrderTotal:   6000,
		RefundAmount: 5000,
	}); err != nil {
		t.Fatalf("partial refund event error: %v", err)
	}

	card, _ := repo.GetGiftCardByID(ctx, id)
	if card.Balance != 2000 {
		t.Fatalf("balance = %d, want proportional restore 2000", card.Balance)
	}
}

func TestIssueCards_QuantityHonored(t *testing.T) {
	repo := newMemRepo()
	notifier := &stubNotifier{}
	svc := NewService(repo, notifier, nil, Options{CodePrefix: "GIFT", ExpiryDays: 365})
	ctx := context.Background()

	customerID := int64(42)
	ev := &model.OrderEvent{
		Event:        model.OrderEventStatusProcessing,
		OrderRef:     "1001",
		Currency:     "USD",
		CustomerID:   &customerID,
		BillingName:  "Bob",
		BillingEmail: "bob@example.com",
		Items: []model.OrderItem{{
			ItemRef:        "item-1",
			Kind:           model.OrderItemKindGiftCard,
			Quantity:       3,
			UnitAmount:     2500,
			RecipientName:  "Carol",
			RecipientEmail: "carol@example.com",
		}},
	}
	if err := svc.HandleOrderEvent(ctx, ev); err != nil {
		t.Fatalf("processing event error: %v", err)
	}

	cards, _ := repo.GetGiftCardsByOrder(ctx, "1001")
	if len(cards) != 3 {
		t.Fatalf("issued = %d, want 3", len(cards))
	}
	for _, c := range cards {
		if c.Balance != 2500 || c.Currency != "USD" {
			t.Fatalf("unexpected card %+v", c)
		}
		if c.SenderName != "Bob" || c.SenderEmail != "bob@example.com" {
			t.Fatalf("sender must fall back to billing, got %+v", c)
		}
		if c.CustomerID == nil || *c.CustomerID != 42 {
			t.Fatalf("customer id not propagated: %+v", c)
		}
	}

	if len(notifier.events) != 3 {
		t.Fatalf("notifications = %d, want 3", len(notifier.events))
	}
	for _, e := range notifier.events {
		if e.orderRef == nil || *e.orderRef != "1001" {
			t.Fatalf("notification without order ref: %+v", e)
		}
	}
}

func TestIssueCards_ReplayDoesNotDuplicate(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	ev := &model.OrderEvent{
		Event:    model.OrderEventStatusCompleted,
		OrderRef: "1001",
		Currency: "USD",
		Items: []model.OrderItem{{
			ItemRef:    "item-1",
			Kind:       model.OrderItemKindGiftCard,
			Quantity:   2,
			UnitAmount: 1000,
		}},
	}
	for i := 0; i < 3; i++ {
		if err := svc.HandleOrderEvent(ctx, ev); err != nil {
			t.Fatalf("completed event #%d error: %v", i+1, err)
		}
	}

	cards, _ := repo.GetGiftCardsByOrder(ctx, "1001")
	if len(cards) != 2 {
		t.Fatalf("issued = %d after replay, want 2", len(cards))
	}
}

func TestIssueCards_ResumesFromPartialCount(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	// одна карта из трёх уже выпущена предыдущей, оборвавшейся доставкой
	if err := repo.SetIssuedCount(ctx, "1001", "item-1", 1); err != nil {
		t.Fatalf("SetIssuedCount error: %v", err)
	}

	ev := &model.OrderEvent{
		Event:    model.OrderEventStatusProcessing,
		OrderRef: "1001",
		Currency: "USD",
		Items: []model.OrderItem{{
			ItemRef:    "item-1",
			Kind:       model.OrderItemKindGiftCard,
			Quantity:   3,
			UnitAmount: 1000,
		}},
	}
	if err := svc.HandleOrderEvent(ctx, ev); err != nil {
		t.Fatalf("processing event error: %v", err)
	}

	cards, _ := repo.GetGiftCardsByOrder(ctx, "1001")
	if len(cards) != 2 {
		t.Fatalf("issued = %d, want the remaining 2", len(cards))
	}
}

func TestIssueCards_IgnoresOtherItemKinds(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	ev := &model.OrderEvent{
		Event:    model.OrderEventStatusProcessing,
		OrderRef: "1001",
		Currency: "USD",
		Items: []model.OrderItem{
			{ItemRef: "item-1", Kind: "physical", Quantity: 2, UnitAmount: 1000},
			{ItemRef: "item-2", Kind: model.OrderItemKindGiftCard, Quantity: 1, UnitAmount: 0},
		},
	}
	if err := svc.HandleOrderEvent(ctx, ev); err != nil {
		t.Fatalf("processing event error: %v", err)
	}

	cards, _ := repo.GetGiftCardsByOrder(ctx, "1001")
	if len(cards) != 0 {
		t.Fatalf("issued = %d, want 0", len(cards))
	}
}

func TestBalanceBounds_RandomLifecycle(t *testing.T) {
	repo := newMemRepo()
	id := repo.addCard("GIFT-AAAA", 10000, 10000, model.CardStatusActive)
	svc := newTestService(repo)
	ctx := context.Background()

	rnd := rand.New(rand.NewSource(1))

	checkBounds := func(step int) {
		card, err := repo.GetGiftCardByID(ctx, id)
		if err != nil {
			t.Fatalf("step %d: get card: %v", step, err)
		}
		if card.Balance < 0 || card.Balance > card.InitialAmount {
			t.Fatalf("step %d: balance %d out of [0, %d]", step, card.Balance, card.InitialAmount)
		}
	}

	for i := 0; i < 200; i++ {
		ref := strconv.Itoa(3000 + i)
		amount := int64(rnd.Intn(6000) + 1)

		if err := svc.HandleOrderEvent(ctx, eventCreated(ref, map[string]int64{"GIFT-AAAA": amount})); err != nil {
			t.Fatalf("step %d: created: %v", i, err)
		}
		if err := svc.HandleOrderEvent(ctx, eventPaid(ref)); err != nil {
			t.Fatalf("step %d: paid: %v", i, err)
		}
		checkBounds(i)

		switch rnd.Intn(3) {
		case 0:
			if err := svc.HandleOrderEvent(ctx, &model.OrderEvent{
				Event: model.OrderEventStatusRefunded, OrderRef: ref,
			}); err != nil {
				t.Fatalf("step %d: refunded: %v", i, err)
			}
		case 1:
			if err := svc.HandleOrderEvent(ctx, &model.OrderEvent{
				Event:        model.OrderEventPartiallyRefunded,
				OrderRef:     ref,
				RefundAmount: int64(rnd.Intn(int(amount)) + 1),
			}); err != nil {
				t.Fatalf("step %d: partial refund: %v", i, err)
			}
		}
		checkBounds(i)
	}

	assertConservation(t, repo)
}
