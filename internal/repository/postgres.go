// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/nstepanov/giftcards-system/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrCodeExists возвращается при попытке вставить карту с уже занятым кодом.
var (
	ErrCodeExists = errors.New("gift card code already exists")
	// ErrCardNotFound возвращается, если карта не найдена.
	ErrCardNotFound = errors.New("gift card not found")
	// ErrOrderNotFound возвращается, если по заказу нет снимка погашений.
	ErrOrderNotFound = errors.New("order redemption state not found")
	// ErrInvalidStatus возвращается при попытке установить недопустимый статус карты.
	ErrInvalidStatus = errors.New("invalid gift card status")
)

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// querier — общий контракт пула и транзакции, через который выполняются
// все запросы репозитория.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type querierKey struct{}

func withQuerier(ctx context.Context, q querier) context.Context {
	return context.WithValue(ctx, querierKey{}, q)
}

// db возвращает исполнителя запросов для контекста: внутри WithOrderLock
// это транзакция, удерживающая блокировку, иначе пул. Запросы под
// блокировкой обязаны идти через её соединение: обращение в пул из-под
// блокировки держит два соединения на вызов и при исчерпании пула
// взаимно блокирует параллельные доставки вебхуков.
func (r *PostgresRepository) db(ctx context.Context) querier {
	if q, ok := ctx.Value(querierKey{}).(querier); ok {
		return q
	}
	return r.pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error
	delays := []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second}

	for i := 0; i <= len(delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		// Если ошибка контекста — выходим сразу
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		// Ретраи полезны для Serialization Failure или Deadlocks.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected {
				if i < len(delays) {
					time.Sleep(delays[i])
					continue
				}
			}
		}

		// Если это не pg-ошибка, но сетевая
		if isConnectionError(err) {
			if i < len(delays) {
				time.Sleep(delays[i])
				continue
			}
		}

		break
	}
	return err
}

func isConnectionError(err error) bool {
	// Упрощенная проверка на ошибки соединения
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

const giftCardColumns = `id, code, initial_amount, balance, currency,
	 sender_name, sender_email, recipient_name, recipient_email, message,
	 order_ref, customer_id, status, expires_at, created_at`

func scanGiftCard(row pgx.Row) (*model.GiftCard, error) {
	var (
		c      model.GiftCard
		status string
	)
	err := row.Scan(
		&c.ID, &c.Code, &c.InitialAmount, &c.Balance, &c.Currency,
		&c.SenderName, &c.SenderEmail, &c.RecipientName, &c.RecipientEmail, &c.Message,
		&c.OrderRef, &c.CustomerID, &status, &c.ExpiresAt, &c.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.Status = model.CardStatus(status)
	return &c, nil
}

func (r *PostgresRepository) scanGiftCards(rows pgx.Rows) ([]model.GiftCard, error) {
	defer rows.Close()

	var cards []model.GiftCard
	for rows.Next() {
		c, err := scanGiftCard(rows)
		if err != nil {
			return nil, fmt.Errorf("scan gift card: %w", err)
		}
		cards = append(cards, *c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return cards, nil
}

// CodeExists проверяет, занят ли код карты. Проверка рекомендательная:
// окончательную гонку разрешает уникальный индекс при вставке.
func (r *PostgresRepository) CodeExists(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := r.db(ctx).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM gift_cards WHERE code = $1)`,
		code,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check code exists: %w", err)
	}
	return exists, nil
}

// CreateGiftCard вставляет новую карту и возвращает её идентификатор.
// При занятом коде возвращает ErrCodeExists — вызывающий обязан
// перегенерировать код и повторить.
func (r *PostgresRepository) CreateGiftCard(ctx context.Context, card *model.GiftCard) (int64, error) {
	var id int64
	err := r.db(ctx).QueryRow(ctx,
		`INSERT INTO gift_cards
		 (code, initial_amount, balance, currency,
		  sender_name, sender_email, recipient_name, recipient_email, message,
		  order_ref, customer_id, status, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 RETURNING id`,
		card.Code, card.InitialAmount, card.Balance, card.Currency,
		card.SenderName, card.SenderEmail, card.RecipientName, card.RecipientEmail, card.Message,
		card.OrderRef, card.CustomerID, string(card.Status), card.ExpiresAt,
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return 0, fmt.Errorf("%w: %s", ErrCodeExists, card.Code)
		}
		return 0, fmt.Errorf("create gift card: %w", err)
	}
	return id, nil
}

// GetGiftCardByCode возвращает карту по коду.
func (r *PostgresRepository) GetGiftCardByCode(ctx context.Context, code string) (*model.GiftCard, error) {
	card, err := scanGiftCard(r.db(ctx).QueryRow(ctx,
		`SELECT `+giftCardColumns+` FROM gift_cards WHERE code = $1`,
		code,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCardNotFound
		}
		return nil, fmt.Errorf("get gift card by code: %w", err)
	}
	return card, nil
}

// GetGiftCardByID возвращает карту по идентификатору.
func (r *PostgresRepository) GetGiftCardByID(ctx context.Context, id int64) (*model.GiftCard, error) {
	card, err := scanGiftCard(r.db(ctx).QueryRow(ctx,
		`SELECT `+giftCardColumns+` FROM gift_cards WHERE id = $1`,
		id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCardNotFound
		}
		return nil, fmt.Errorf("get gift card: %w", err)
	}
	return card, nil
}

// GetGiftCardsByOrder возвращает карты, выпущенные по указанному заказу.
func (r *PostgresRepository) GetGiftCardsByOrder(ctx context.Context, orderRef string) ([]model.GiftCard, error) {
	rows, err := r.db(ctx).Query(ctx,
		`SELECT `+giftCardColumns+` FROM gift_cards WHERE order_ref = $1 ORDER BY id`,
		orderRef,
	)
	if err != nil {
		return nil, fmt.Errorf("select gift cards by order: %w", err)
	}
	return r.scanGiftCards(rows)
}

// GetGiftCardsByCustomer возвращает карты, купленные указанным покупателем.
func (r *PostgresRepository) GetGiftCardsByCustomer(ctx context.Context, customerID int64) ([]model.GiftCard, error) {
	rows, err := r.db(ctx).Query(ctx,
		`SELECT `+giftCardColumns+` FROM gift_cards WHERE customer_id = $1 ORDER BY created_at DESC`,
		customerID,
	)
	if err != nil {
		return nil, fmt.Errorf("select gift cards by customer: %w", err)
	}
	return r.scanGiftCards(rows)
}

// GetGiftCardsByRecipient возвращает карты, отправленные на указанный e-mail.
func (r *PostgresRepository) GetGiftCardsByRecipient(ctx context.Context, email string) ([]model.GiftCard, error) {
	rows, err := r.db(ctx).Query(ctx,
		`SELECT `+giftCardColumns+` FROM gift_cards WHERE recipient_email = $1 ORDER BY created_at DESC`,
		email,
	)
	if err != nil {
		return nil, fmt.Errorf("select gift cards by recipient: %w", err)
	}
	return r.scanGiftCards(rows)
}

// ListFilter описывает параметры постраничного списка карт.
type ListFilter struct {
	Status  string
	Search  string
	OrderBy string
	Desc    bool
	Limit   int
	Offset  int
}

// допустимые колонки сортировки списка карт
var allowedOrderBy = map[string]bool{
	"id": true, "code": true, "balance": true, "initial_amount": true,
	"status": true, "created_at": true, "expires_at": true,
}

// ListGiftCards возвращает страницу карт и общее число строк под фильтром.
func (r *PostgresRepository) ListGiftCards(ctx context.Context, f ListFilter) ([]model.GiftCard, int64, error) {
	where := make([]string, 0, 2)
	args := make([]any, 0, 4)

	if f.Status != "" {
		args = append(args, f.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.Search != "" {
		args = append(args, "%"+f.Search+"%")
		where = append(where, fmt.Sprintf(
			"(code ILIKE $%d OR recipient_email ILIKE $%d OR sender_email ILIKE $%d)",
			len(args), len(args), len(args)))
	}

	whereSQL := ""
	if len(where) > 0 {
		whereSQL = "WHERE " + strings.Join(where, " AND ")
	}

	var total int64
	err := r.db(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM gift_cards `+whereSQL,
		args...,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count gift cards: %w", err)
	}

	orderBy := f.OrderBy
	if !allowedOrderBy[orderBy] {
		orderBy = "created_at"
	}
	dir := "ASC"
	if f.Desc {
		dir = "DESC"
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}

	args = append(args, limit, f.Offset)
	rows, err := r.db(ctx).Query(ctx,
		fmt.Sprintf(`SELECT %s FROM gift_cards %s ORDER BY %s %s LIMIT $%d OFFSET $%d`,
			giftCardColumns, whereSQL, orderBy, dir, len(args)-1, len(args)),
		args...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("select gift cards: %w", err)
	}

	cards, err := r.scanGiftCards(rows)
	if err != nil {
		return nil, 0, err
	}
	return cards, total, nil
}

// DeductBalance атомарно списывает amount с баланса карты одним UPDATE.
// Списание проходит только при balance > 0; результат прижимается к нулю,
// то есть списание сверх остатка не ошибка — забирается всё, что есть.
// Возвращает баланс до и после списания, прочитанные тем же запросом,
// а не вычисленные локально: параллельное списание не исказит журнал.
func (r *PostgresRepository) DeductBalance(ctx context.Context, id int64, amount int64) (oldBalance, newBalance int64, ok bool, err error) {
	if amount < 0 {
		amount = -amount
	}

	err = r.db(ctx).QueryRow(ctx,
		`UPDATE gift_cards AS g
		 SET balance = GREATEST(0, prev.balance - $2)
		 FROM (SELECT id, balance FROM gift_cards WHERE id = $1 FOR UPDATE) AS prev
		 WHERE g.id = prev.id AND prev.balance > 0
		 RETURNING prev.balance, g.balance`,
		id, amount,
	).Scan(&oldBalance, &newBalance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Карта не найдена или баланс уже нулевой.
			return 0, 0, false, nil
		}
		return 0, 0, false, fmt.Errorf("deduct balance: %w", err)
	}

	return oldBalance, newBalance, true, nil
}

// SetBalance безусловно перезаписывает баланс карты. Используется только
// путями восстановления, которые уже вычислили прижатое к номиналу значение.
func (r *PostgresRepository) SetBalance(ctx context.Context, id int64, balance int64) error {
	cmdTag, err := r.db(ctx).Exec(ctx,
		`UPDATE gift_cards SET balance = $2 WHERE id = $1`,
		id, balance,
	)
	if err != nil {
		return fmt.Errorf("set balance: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrCardNotFound
	}
	return nil
}

// SetStatus обновляет статус карты, отклоняя значения вне допустимого множества.
func (r *PostgresRepository) SetStatus(ctx context.Context, id int64, status model.CardStatus) error {
	if !model.ValidStatus(status) {
		return fmt.Errorf("%w: %s", ErrInvalidStatus, status)
	}

	cmdTag, err := r.db(ctx).Exec(ctx,
		`UPDATE gift_cards SET status = $2 WHERE id = $1`,
		id, string(status),
	)
	if err != nil {
		return fmt.Errorf("set status: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrCardNotFound
	}
	return nil
}

// DeleteGiftCard удаляет карту; записи журнала удаляются каскадно.
func (r *PostgresRepository) DeleteGiftCard(ctx context.Context, id int64) error {
	cmdTag, err := r.db(ctx).Exec(ctx, `DELETE FROM gift_cards WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete gift card: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrCardNotFound
	}
	return nil
}

// ExpireDueCards переводит активные карты с истёкшим сроком в статус expired.
// Возвращает число затронутых карт.
func (r *PostgresRepository) ExpireDueCards(ctx context.Context, now time.Time) (int64, error) {
	cmdTag, err := r.db(ctx).Exec(ctx,
		`UPDATE gift_cards
		 SET status = $2
		 WHERE status = $1 AND expires_at IS NOT NULL AND expires_at <= $3`,
		string(model.CardStatusActive), string(model.CardStatusExpired), now,
	)
	if err != nil {
		return 0, fmt.Errorf("expire due cards: %w", err)
	}
	return cmdTag.RowsAffected(), nil
}

// GetStats возвращает сводные показатели по картам.
func (r *PostgresRepository) GetStats(ctx context.Context) (*model.CardStats, error) {
	var s model.CardStats
	err := r.db(ctx).QueryRow(ctx,
		`SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN status = 'active' THEN balance ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'redeemed' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'expired' THEN 1 ELSE 0 END), 0)
		 FROM gift_cards`,
	).Scan(&s.TotalIssued, &s.OutstandingBalance, &s.TotalRedeemed, &s.TotalExpired)
	if err != nil {
		return nil, fmt.Errorf("get stats: %w", err)
	}
	return &s, nil
}

// AppendTransaction добавляет запись в журнал операций. Чистая вставка:
// корректность balance_after — ответственность вызывающего.
func (r *PostgresRepository) AppendTransaction(ctx context.Context, tx *model.Transaction) (int64, error) {
	var id int64
	err := r.db(ctx).QueryRow(ctx,
		`INSERT INTO transactions (gift_card_id, order_ref, type, amount, balance_after, note)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id`,
		tx.GiftCardID, tx.OrderRef, string(tx.Type), tx.Amount, tx.BalanceAfter, tx.Note,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("append transaction: %w", err)
	}
	return id, nil
}

func (r *PostgresRepository) queryTransactions(ctx context.Context, query string, arg any) ([]model.Transaction, error) {
	rows, err := r.db(ctx).Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("select transactions: %w", err)
	}
	defer rows.Close()

	var txs []model.Transaction
	for rows.Next() {
		var (
			t     model.Transaction
			tType string
		)
		if err := rows.Scan(&t.ID, &t.GiftCardID, &t.OrderRef, &tType, &t.Amount, &t.BalanceAfter, &t.Note, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		t.Type = model.TransactionType(tType)
		txs = append(txs, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return txs, nil
}

// GetTransactionsByCard возвращает журнал операций по карте, новые первыми.
func (r *PostgresRepository) GetTransactionsByCard(ctx context.Context, giftCardID int64) ([]model.Transaction, error) {
	return r.queryTransactions(ctx,
		`SELECT id, gift_card_id, order_ref, type, amount, balance_after, note, created_at
		 FROM transactions
		 WHERE gift_card_id = $1
		 ORDER BY created_at DESC, id DESC`,
		giftCardID,
	)
}

// GetTransactionsByOrder возвращает операции, связанные с заказом, новые первыми.
func (r *PostgresRepository) GetTransactionsByOrder(ctx context.Context, orderRef string) ([]model.Transaction, error) {
	return r.queryTransactions(ctx,
		`SELECT id, gift_card_id, order_ref, type, amount, balance_after, note, created_at
		 FROM transactions
		 WHERE order_ref = $1
		 ORDER BY created_at DESC, id DESC`,
		orderRef,
	)
}

// GetOrderRedemption возвращает снимок погашений по заказу.
func (r *PostgresRepository) GetOrderRedemption(ctx context.Context, orderRef string) (*model.OrderRedemption, error) {
	var o model.OrderRedemption
	err := r.db(ctx).QueryRow(ctx,
		`SELECT order_ref, currency, pending_deductions, deducted_amounts,
		        deducted, restored, partial_restored, updated_at
		 FROM order_redemptions
		 WHERE order_ref = $1`,
		orderRef,
	).Scan(&o.OrderRef, &o.Currency, &o.PendingDeductions, &o.DeductedAmounts,
		&o.Deducted, &o.Restored, &o.PartialRestored, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order redemption: %w", err)
	}
	return &o, nil
}

// SavePendingDeductions фиксирует снимок погашений при создании заказа.
// Повторная доставка события не перетирает уже замороженный снимок.
func (r *PostgresRepository) SavePendingDeductions(ctx context.Context, orderRef, currency string, deductions map[string]int64) error {
	_, err := r.db(ctx).Exec(ctx,
		`INSERT INTO order_redemptions (order_ref, currency, pending_deductions)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (order_ref) DO NOTHING`,
		orderRef, currency, deductions,
	)
	if err != nil {
		return fmt.Errorf("save pending deductions: %w", err)
	}
	return nil
}

// UpdateOrderRedemption сохраняет накопленное состояние расчётов по заказу.
func (r *PostgresRepository) UpdateOrderRedemption(ctx context.Context, o *model.OrderRedemption) error {
	cmdTag, err := r.db(ctx).Exec(ctx,
		`UPDATE order_redemptions
		 SET deducted_amounts = $2, deducted = $3, restored = $4,
		     partial_restored = $5, updated_at = now()
		 WHERE order_ref = $1`,
		o.OrderRef, o.DeductedAmounts, o.Deducted, o.Restored, o.PartialRestored,
	)
	if err != nil {
		return fmt.Errorf("update order redemption: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrOrderNotFound
	}
	return nil
}

// WithOrderLock выполняет fn, удерживая блокировку по заказу, чтобы
// одновременные доставки одного вебхука обрабатывались последовательно.
// Идемпотентность обеспечивается учётом по кодам, блокировка лишь
// убирает бессмысленную конкуренцию. Запросы репозитория внутри fn
// выполняются на соединении этой же транзакции, второе соединение
// из пула не занимается.
func (r *PostgresRepository) WithOrderLock(ctx context.Context, orderRef string, fn func(ctx context.Context) error) error {
	return r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		if _, err := tx.Exec(ctx,
			`SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`,
			orderRef,
		); err != nil {
			return fmt.Errorf("lock order: %w", err)
		}

		if err := fn(withQuerier(ctx, tx)); err != nil {
			return err
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
}

// GetIssuedCount возвращает число уже выпущенных карт по позиции заказа.
func (r *PostgresRepository) GetIssuedCount(ctx context.Context, orderRef, itemRef string) (int, error) {
	var count int
	err := r.db(ctx).QueryRow(ctx,
		`SELECT COALESCE(
			(SELECT issued_count FROM order_issuances WHERE order_ref = $1 AND item_ref = $2), 0)`,
		orderRef, itemRef,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("get issued count: %w", err)
	}
	return count, nil
}

// SetIssuedCount сохраняет число выпущенных карт по позиции заказа.
func (r *PostgresRepository) SetIssuedCount(ctx context.Context, orderRef, itemRef string, count int) error {
	_, err := r.db(ctx).Exec(ctx,
		`INSERT INTO order_issuances (order_ref, item_ref, issued_count)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (order_ref, item_ref)
		 DO UPDATE SET issued_count = EXCLUDED.issued_count, updated_at = now()`,
		orderRef, itemRef, count,
	)
	if err != nil {
		return fmt.Errorf("set issued count: %w", err)
	}
	return nil
}
