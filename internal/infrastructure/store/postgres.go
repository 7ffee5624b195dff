package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/example/marketplace-orders/internal/domain/order"
	"github.com/example/marketplace-orders/internal/domain/product"
	"github.com/example/marketplace-orders/internal/domain/referral"
	"github.com/example/marketplace-orders/internal/domain/seller"
	_ "github.com/lib/pq"
)

// ConnectPostgres opens a PostgreSQL connection and verifies it
func ConnectPostgres(connStr string) (*sql.DB, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return db, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS orders (
    id              TEXT PRIMARY KEY,
    buyer_id        TEXT NOT NULL,
    status          TEXT NOT NULL,
    payment_status  TEXT NOT NULL,
    charge_id       TEXT,
    data            JSONB NOT NULL,
    created_at      TIMESTAMPTZ NOT NULL,
    updated_at      TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_orders_buyer ON orders (buyer_id);
CREATE INDEX IF NOT EXISTS idx_orders_charge ON orders (charge_id);

CREATE TABLE IF NOT EXISTS products (
    id          TEXT PRIMARY KEY,
    seller_id   TEXT NOT NULL,
    name        TEXT NOT NULL,
    base_price  BIGINT NOT NULL,
    commission  BIGINT NOT NULL,
    price       BIGINT NOT NULL,
    stock       INTEGER NOT NULL CHECK (stock >= 0),
    active      BOOLEAN NOT NULL DEFAULT TRUE,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS buyers (
    id                TEXT PRIMARY KEY,
    email             TEXT NOT NULL DEFAULT '',
    referred_by       TEXT NOT NULL DEFAULT '',
    referral_credited BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS sellers (
    id             TEXT PRIMARY KEY,
    name           TEXT NOT NULL DEFAULT '',
    email          TEXT NOT NULL DEFAULT '',
    payout_account TEXT NOT NULL DEFAULT '',
    payout_active  BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS referral_rewards (
    id               TEXT PRIMARY KEY,
    referrer_id      TEXT NOT NULL,
    order_id         TEXT NOT NULL,
    referred_user_id TEXT NOT NULL,
    amount           BIGINT NOT NULL,
    status           TEXT NOT NULL,
    created_at       TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_rewards_referrer ON referral_rewards (referrer_id);

CREATE TABLE IF NOT EXISTS processed_events (
    provider     TEXT NOT NULL,
    event_id     TEXT NOT NULL,
    processed_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (provider, event_id)
);
`

// Postgres backs every repository interface with PostgreSQL. The order
// document is stored as JSONB next to the columns that are queried.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// Init creates the tables if they do not exist yet
func (s *Postgres) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Orders

func (s *Postgres) saveOrder(ctx context.Context, o *order.Order, insert bool) error {
	data, err := json.Marshal(o)
	if err != nil {
		return err
	}
	chargeID := sql.NullString{String: o.Payment.ChargeID, Valid: o.Payment.ChargeID != ""}
	if insert {
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO orders (id, buyer_id, status, payment_status, charge_id, data, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, now())`,
			o.ID, o.BuyerID, o.Status, o.PaymentStatus, chargeID, data, o.CreatedAt)
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE orders SET status = $2, payment_status = $3, charge_id = $4, data = $5, updated_at = now()
		 WHERE id = $1`,
		o.ID, o.Status, o.PaymentStatus, chargeID, data)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return order.ErrOrderNotFound
	}
	return nil
}

func (s *Postgres) Save(ctx context.Context, o *order.Order) error {
	return s.saveOrder(ctx, o, true)
}

func (s *Postgres) Update(ctx context.Context, o *order.Order) error {
	return s.saveOrder(ctx, o, false)
}

func (s *Postgres) scanOrder(row *sql.Row) (*order.Order, error) {
	var data []byte
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, order.ErrOrderNotFound
		}
		return nil, err
	}
	var o order.Order
	if err := json.Unmarshal(data, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *Postgres) Get(ctx context.Context, id string) (*order.Order, error) {
	return s.scanOrder(s.db.QueryRowContext(ctx, `SELECT data FROM orders WHERE id = $1`, id))
}

func (s *Postgres) GetByChargeID(ctx context.Context, chargeID string) (*order.Order, error) {
	return s.scanOrder(s.db.QueryRowContext(ctx, `SELECT data FROM orders WHERE charge_id = $1`, chargeID))
}

func (s *Postgres) listOrders(ctx context.Context, query string, arg any) ([]*order.Order, error) {
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*order.Order
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var o order.Order
		if err := json.Unmarshal(data, &o); err != nil {
			return nil, err
		}
		out = append(out, &o)
	}
	return out, rows.Err()
}

func (s *Postgres) ListByBuyer(ctx context.Context, buyerID string) ([]*order.Order, error) {
	return s.listOrders(ctx,
		`SELECT data FROM orders WHERE buyer_id = $1 ORDER BY created_at DESC`, buyerID)
}

func (s *Postgres) ListBySeller(ctx context.Context, sellerID string) ([]*order.Order, error) {
	return s.listOrders(ctx,
		`SELECT data FROM orders
		 WHERE EXISTS (
		     SELECT 1 FROM jsonb_array_elements(data->'items') item
		     WHERE item->>'seller_id' = $1
		 )
		 ORDER BY created_at DESC`, sellerID)
}

// Products

func (s *Postgres) GetProduct(ctx context.Context, id string) (*product.Product, error) {
	var p product.Product
	err := s.db.QueryRowContext(ctx,
		`SELECT id, seller_id, name, base_price, commission, price, stock, active, created_at, updated_at
		 FROM products WHERE id = $1`, id).
		Scan(&p.ID, &p.SellerID, &p.Name, &p.BasePrice, &p.Commission, &p.Price, &p.Stock, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, product.ErrProductNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ReserveStock decrements stock in a single conditional UPDATE so concurrent
// buyers cannot oversell. The stock check and the decrement are one statement.
func (s *Postgres) ReserveStock(ctx context.Context, id string, qty int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE products SET stock = stock - $2, updated_at = now()
		 WHERE id = $1 AND active AND stock >= $2`, id, qty)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	// Distinguish the failure reason for the caller
	p, err := s.GetProduct(ctx, id)
	if err != nil {
		return err
	}
	if !p.Active {
		return product.ErrProductInactive
	}
	return fmt.Errorf("%w: only %d left of product %s", product.ErrInsufficientStock, p.Stock, id)
}

func (s *Postgres) ReleaseStock(ctx context.Context, id string, qty int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE products SET stock = stock + $2, updated_at = now() WHERE id = $1`, id, qty)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return product.ErrProductNotFound
	}
	return nil
}

// Referrals

func (s *Postgres) ReferrerOf(ctx context.Context, buyerID string) (string, error) {
	var referrer string
	err := s.db.QueryRowContext(ctx,
		`SELECT referred_by FROM buyers WHERE id = $1`, buyerID).Scan(&referrer)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return referrer, nil
}

// ClaimFirstOrderCredit flips the credited flag with a conditional UPDATE,
// so concurrent first orders cannot both claim the credit.
func (s *Postgres) ClaimFirstOrderCredit(ctx context.Context, buyerID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE buyers SET referral_credited = TRUE
		 WHERE id = $1 AND NOT referral_credited`, buyerID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Postgres) AddReward(ctx context.Context, referrerID string, reward referral.Reward) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO referral_rewards (id, referrer_id, order_id, referred_user_id, amount, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		reward.ID, referrerID, reward.OrderID, reward.ReferredUserID, reward.Amount, reward.Status, reward.CreatedAt)
	return err
}

func (s *Postgres) GetReferral(ctx context.Context, referrerID string) (*referral.Referral, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, order_id, referred_user_id, amount, status, created_at
		 FROM referral_rewards WHERE referrer_id = $1 ORDER BY created_at ASC`, referrerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ref := &referral.Referral{ReferrerID: referrerID}
	for rows.Next() {
		var r referral.Reward
		if err := rows.Scan(&r.ID, &r.OrderID, &r.ReferredUserID, &r.Amount, &r.Status, &r.CreatedAt); err != nil {
			return nil, err
		}
		ref.Rewards = append(ref.Rewards, r)
		ref.Stats.TotalEarned += r.Amount
		ref.Stats.Conversions++
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ref.Rewards) == 0 {
		return nil, referral.ErrReferralNotFound
	}
	return ref, nil
}

// Sellers

func (s *Postgres) GetSeller(ctx context.Context, id string) (*seller.Seller, error) {
	var sl seller.Seller
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, email, payout_account, payout_active FROM sellers WHERE id = $1`, id).
		Scan(&sl.ID, &sl.Name, &sl.Email, &sl.PayoutAccount, &sl.PayoutActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, seller.ErrSellerNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sl, nil
}

// Processed webhook events

func (s *Postgres) MarkProcessed(ctx context.Context, provider, eventID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO processed_events (provider, event_id) VALUES ($1, $2)
		 ON CONFLICT DO NOTHING`, provider, eventID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Postgres) Forget(ctx context.Context, provider, eventID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM processed_events WHERE provider = $1 AND event_id = $2`, provider, eventID)
	return err
}

// Directory

func (s *Postgres) UserEmail(ctx context.Context, userID string) (string, error) {
	var email string
	err := s.db.QueryRowContext(ctx, `SELECT email FROM buyers WHERE id = $1`, userID).Scan(&email)
	if err == nil && email != "" {
		return email, nil
	}
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return "", err
	}
	err = s.db.QueryRowContext(ctx, `SELECT email FROM sellers WHERE id = $1`, userID).Scan(&email)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && email == "") {
		return "", fmt.Errorf("no email on record for user %s", userID)
	}
	if err != nil {
		return "", err
	}
	return email, nil
}
