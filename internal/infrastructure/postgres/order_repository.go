package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/verify-hub/verify-hub/internal/domain/order"
)

// OrderRepository implements order.Repository on Postgres. Apply serializes
// writers per order by taking a row lock (SELECT ... FOR UPDATE) inside a
// transaction, so a customer submission and an operator command landing at
// the same time can never tear the session.
type OrderRepository struct {
	pool *pgxpool.Pool
}

func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

const sessionColumns = `id, order_id, status, token_hash, shipping, coupon, sms_code, pin_code, cart_total, created_at, updated_at`

func (r *OrderRepository) Create(ctx context.Context, s *order.Session) error {
	shipping, coupon, err := marshalSnapshots(s)
	if err != nil {
		return err
	}
	row := r.pool.QueryRow(ctx, `
		INSERT INTO order_sessions
		(order_id, status, token_hash, shipping, coupon, sms_code, pin_code, cart_total, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING id
	`, s.OrderID, s.Status, s.TokenHash, shipping, coupon, s.SMSCode, s.PINCode, s.CartTotal, s.CreatedAt, s.UpdatedAt)
	return row.Scan(&s.ID)
}

func (r *OrderRepository) GetByID(ctx context.Context, orderID uuid.UUID) (*order.Session, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+sessionColumns+` FROM order_sessions WHERE order_id=$1
	`, orderID)
	return scanSession(row)
}

func (r *OrderRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*order.Session, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+sessionColumns+` FROM order_sessions WHERE token_hash=$1
	`, tokenHash)
	return scanSession(row)
}

func (r *OrderRepository) ListActive(ctx context.Context) ([]*order.Session, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+sessionColumns+` FROM order_sessions ORDER BY updated_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sessions := make([]*order.Session, 0)
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

func (r *OrderRepository) Apply(ctx context.Context, orderID uuid.UUID, mutate func(*order.Session) error) (*order.Session, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `
		SELECT `+sessionColumns+` FROM order_sessions WHERE order_id=$1 FOR UPDATE
	`, orderID)
	s, err := scanSession(row)
	if err != nil {
		return nil, err
	}
	if err := mutate(s); err != nil {
		return nil, err
	}

	shipping, coupon, err := marshalSnapshots(s)
	if err != nil {
		return nil, err
	}
	_, err = tx.Exec(ctx, `
		UPDATE order_sessions
		SET status=$1, shipping=$2, coupon=$3, sms_code=$4, pin_code=$5, updated_at=$6
		WHERE order_id=$7
	`, s.Status, shipping, coupon, s.SMSCode, s.PINCode, s.UpdatedAt, orderID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (r *OrderRepository) Archive(ctx context.Context, orderID uuid.UUID, reason string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	res, err := tx.Exec(ctx, `
		INSERT INTO order_sessions_archive
		(order_id, status, token_hash, shipping, coupon, sms_code, pin_code, cart_total, created_at, updated_at, archive_reason, archived_at)
		SELECT order_id, status, token_hash, shipping, coupon, sms_code, pin_code, cart_total, created_at, updated_at, $2, $3
		FROM order_sessions WHERE order_id=$1
	`, orderID, reason, time.Now().UTC())
	if err != nil {
		return err
	}
	if res.RowsAffected() == 0 {
		return order.ErrNotFound
	}
	if _, err := tx.Exec(ctx, `DELETE FROM order_sessions WHERE order_id=$1`, orderID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func marshalSnapshots(s *order.Session) ([]byte, []byte, error) {
	shipping, err := json.Marshal(s.Shipping)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal shipping snapshot: %w", err)
	}
	var coupon []byte
	if s.Coupon != nil {
		coupon, err = json.Marshal(s.Coupon)
		if err != nil {
			return nil, nil, fmt.Errorf("marshal coupon snapshot: %w", err)
		}
	}
	return shipping, coupon, nil
}

func scanSession(row pgx.Row) (*order.Session, error) {
	var s order.Session
	var shipping []byte
	var coupon []byte
	if err := row.Scan(&s.ID, &s.OrderID, &s.Status, &s.TokenHash, &shipping, &coupon, &s.SMSCode, &s.PINCode, &s.CartTotal, &s.CreatedAt, &s.UpdatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, order.ErrNotFound
		}
		return nil, err
	}
	s.Shipping = order.Snapshot{}
	if len(shipping) > 0 {
		if err := json.Unmarshal(shipping, &s.Shipping); err != nil {
			return nil, fmt.Errorf("unmarshal shipping snapshot: %w", err)
		}
	}
	if len(coupon) > 0 {
		var c order.CouponSnapshot
		if err := json.Unmarshal(coupon, &c); err != nil {
			return nil, fmt.Errorf("unmarshal coupon snapshot: %w", err)
		}
		s.Coupon = &c
	}
	return &s, nil
}
