package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"P2PEscrow/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

// Postgres is the pgx-backed Store. Schema lives in migrations/.
type Postgres struct {
	Pool *pgxpool.Pool
	q    querier
	inTx bool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{Pool: pool, q: pool}
}

const orderColumns = `id, seller_id, buyer_id, amount::text, price::text, payment_method,
	status, escrow_id, dispute_reason, lock_requested_at, created_at, expires_at, updated_at`

const escrowColumns = `id, order_id, seller_id, buyer_id, amount::text, tier, status,
	locked_at, expires_at, resolved_at`

const verificationColumns = `id, order_id, submitted_by, status, proof, notes,
	verified_by, verified_at, created_at`

func (s *Postgres) InTx(ctx context.Context, fn func(tx Store) error) error {
	if s.inTx {
		return fn(s)
	}
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&Postgres{Pool: s.Pool, q: tx, inTx: true}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Postgres) InsertOrder(ctx context.Context, order *models.Order) error {
	method, err := json.Marshal(order.PaymentMethod)
	if err != nil {
		return err
	}
	_, err = s.q.Exec(ctx, `
		INSERT INTO orders (
			id, seller_id, buyer_id, amount, price, payment_method,
			status, escrow_id, dispute_reason, lock_requested_at,
			created_at, expires_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`,
		order.ID,
		order.SellerID,
		order.BuyerID,
		order.Amount.String(),
		order.Price.String(),
		method,
		string(order.Status),
		order.EscrowID,
		order.DisputeReason,
		order.LockRequestedAt,
		order.CreatedAt,
		order.ExpiresAt,
		order.UpdatedAt,
	)
	return err
}

func (s *Postgres) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	row := s.q.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1`, id)
	order, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return order, err
}

func (s *Postgres) FindOrders(ctx context.Context, f OrderFilter) ([]*models.Order, error) {
	var where []string
	var args []any
	if f.SellerID != "" {
		args = append(args, f.SellerID)
		where = append(where, fmt.Sprintf("seller_id=$%d", len(args)))
	}
	if f.BuyerID != "" {
		args = append(args, f.BuyerID)
		where = append(where, fmt.Sprintf("buyer_id=$%d", len(args)))
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, 0, len(f.Statuses))
		for _, st := range f.Statuses {
			statuses = append(statuses, string(st))
		}
		args = append(args, statuses)
		where = append(where, fmt.Sprintf("status = ANY($%d)", len(args)))
	}
	if f.LockRequestedSince != nil {
		args = append(args, *f.LockRequestedSince)
		where = append(where, fmt.Sprintf("lock_requested_at >= $%d", len(args)))
	}

	query := `SELECT ` + orderColumns + ` FROM orders`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at ASC, id ASC"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []*models.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, rows.Err()
}

func (s *Postgres) PatchOrder(ctx context.Context, id string, p OrderPatch) (*models.Order, error) {
	u := newUpdate(id)
	if p.Status != nil {
		u.set("status", string(*p.Status))
	}
	if p.BuyerID != nil {
		u.set("buyer_id", *p.BuyerID)
	}
	if p.EscrowID != nil {
		u.set("escrow_id", *p.EscrowID)
	}
	if p.DisputeReason != nil {
		u.set("dispute_reason", *p.DisputeReason)
	}
	if p.LockRequestedAt != nil {
		u.set("lock_requested_at", *p.LockRequestedAt)
	}
	updatedAt := p.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	u.set("updated_at", updatedAt)
	if p.ExpectStatus != nil {
		u.expect("status", string(*p.ExpectStatus))
	}

	row := s.q.QueryRow(ctx, u.sql("orders", orderColumns), u.args...)
	order, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, s.missingOrConflict(ctx, "orders", id)
	}
	return order, err
}

func (s *Postgres) InsertEscrow(ctx context.Context, escrow *models.Escrow) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO escrows (
			id, order_id, seller_id, buyer_id, amount, tier, status,
			locked_at, expires_at, resolved_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`,
		escrow.ID,
		escrow.OrderID,
		escrow.SellerID,
		escrow.BuyerID,
		escrow.Amount.String(),
		escrow.Tier,
		string(escrow.Status),
		escrow.LockedAt,
		escrow.ExpiresAt,
		escrow.ResolvedAt,
	)
	return err
}

func (s *Postgres) GetEscrow(ctx context.Context, id string) (*models.Escrow, error) {
	row := s.q.QueryRow(ctx, `SELECT `+escrowColumns+` FROM escrows WHERE id=$1`, id)
	escrow, err := scanEscrow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return escrow, err
}

func (s *Postgres) FindEscrows(ctx context.Context, f EscrowFilter) ([]*models.Escrow, error) {
	var where []string
	var args []any
	if f.OrderID != "" {
		args = append(args, f.OrderID)
		where = append(where, fmt.Sprintf("order_id=$%d", len(args)))
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, 0, len(f.Statuses))
		for _, st := range f.Statuses {
			statuses = append(statuses, string(st))
		}
		args = append(args, statuses)
		where = append(where, fmt.Sprintf("status = ANY($%d)", len(args)))
	}
	if f.ExpiresBefore != nil {
		args = append(args, *f.ExpiresBefore)
		where = append(where, fmt.Sprintf("expires_at <= $%d", len(args)))
	}

	query := `SELECT ` + escrowColumns + ` FROM escrows`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY expires_at ASC, id ASC"

	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var escrows []*models.Escrow
	for rows.Next() {
		escrow, err := scanEscrow(rows)
		if err != nil {
			return nil, err
		}
		escrows = append(escrows, escrow)
	}
	return escrows, rows.Err()
}

func (s *Postgres) PatchEscrow(ctx context.Context, id string, p EscrowPatch) (*models.Escrow, error) {
	u := newUpdate(id)
	if p.Status != nil {
		u.set("status", string(*p.Status))
	}
	if p.ResolvedAt != nil {
		u.set("resolved_at", *p.ResolvedAt)
	}
	if p.ExpectStatus != nil {
		u.expect("status", string(*p.ExpectStatus))
	}
	if len(u.sets) == 0 {
		return s.GetEscrow(ctx, id)
	}

	row := s.q.QueryRow(ctx, u.sql("escrows", escrowColumns), u.args...)
	escrow, err := scanEscrow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, s.missingOrConflict(ctx, "escrows", id)
	}
	return escrow, err
}

func (s *Postgres) InsertVerification(ctx context.Context, v *models.Verification) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO payment_verifications (
			id, order_id, submitted_by, status, proof, notes,
			verified_by, verified_at, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`,
		v.ID,
		v.OrderID,
		v.SubmittedBy,
		string(v.Status),
		v.Proof,
		v.Notes,
		v.VerifiedBy,
		v.VerifiedAt,
		v.CreatedAt,
	)
	return err
}

func (s *Postgres) GetVerification(ctx context.Context, id string) (*models.Verification, error) {
	row := s.q.QueryRow(ctx, `SELECT `+verificationColumns+` FROM payment_verifications WHERE id=$1`, id)
	v, err := scanVerification(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return v, err
}

func (s *Postgres) FindVerifications(ctx context.Context, f VerificationFilter) ([]*models.Verification, error) {
	var where []string
	var args []any
	if f.OrderID != "" {
		args = append(args, f.OrderID)
		where = append(where, fmt.Sprintf("order_id=$%d", len(args)))
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, 0, len(f.Statuses))
		for _, st := range f.Statuses {
			statuses = append(statuses, string(st))
		}
		args = append(args, statuses)
		where = append(where, fmt.Sprintf("status = ANY($%d)", len(args)))
	}

	query := `SELECT ` + verificationColumns + ` FROM payment_verifications`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at ASC, id ASC"

	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Verification
	for rows.Next() {
		v, err := scanVerification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *Postgres) PatchVerification(ctx context.Context, id string, p VerificationPatch) (*models.Verification, error) {
	u := newUpdate(id)
	if p.Status != nil {
		u.set("status", string(*p.Status))
	}
	if p.VerifiedBy != nil {
		u.set("verified_by", *p.VerifiedBy)
	}
	if p.VerifiedAt != nil {
		u.set("verified_at", *p.VerifiedAt)
	}
	if p.Notes != nil {
		u.set("notes", *p.Notes)
	}
	if p.ExpectStatus != nil {
		u.expect("status", string(*p.ExpectStatus))
	}
	if len(u.sets) == 0 {
		return s.GetVerification(ctx, id)
	}

	row := s.q.QueryRow(ctx, u.sql("payment_verifications", verificationColumns), u.args...)
	v, err := scanVerification(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, s.missingOrConflict(ctx, "payment_verifications", id)
	}
	return v, err
}

func (s *Postgres) missingOrConflict(ctx context.Context, table, id string) error {
	var exists bool
	row := s.q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM `+table+` WHERE id=$1)`, id)
	if err := row.Scan(&exists); err != nil {
		return err
	}
	if exists {
		return ErrConflict
	}
	return ErrNotFound
}

// update builds "UPDATE t SET ... WHERE id=$1 [AND col=$n] RETURNING ...".
type update struct {
	args  []any
	sets  []string
	conds []string
}

func newUpdate(id string) *update {
	return &update{args: []any{id}, conds: []string{"id=$1"}}
}

func (u *update) set(col string, v any) {
	u.args = append(u.args, v)
	u.sets = append(u.sets, fmt.Sprintf("%s=$%d", col, len(u.args)))
}

func (u *update) expect(col string, v any) {
	u.args = append(u.args, v)
	u.conds = append(u.conds, fmt.Sprintf("%s=$%d", col, len(u.args)))
}

func (u *update) sql(table, returning string) string {
	return "UPDATE " + table + " SET " + strings.Join(u.sets, ", ") +
		" WHERE " + strings.Join(u.conds, " AND ") +
		" RETURNING " + returning
}

func scanOrder(row rowScanner) (*models.Order, error) {
	var order models.Order
	var amount, price string
	var method []byte
	var status string
	var lockRequestedAt sql.NullTime

	err := row.Scan(
		&order.ID,
		&order.SellerID,
		&order.BuyerID,
		&amount,
		&price,
		&method,
		&status,
		&order.EscrowID,
		&order.DisputeReason,
		&lockRequestedAt,
		&order.CreatedAt,
		&order.ExpiresAt,
		&order.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if order.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, err
	}
	if order.Price, err = decimal.NewFromString(price); err != nil {
		return nil, err
	}
	if len(method) > 0 {
		if err := json.Unmarshal(method, &order.PaymentMethod); err != nil {
			return nil, err
		}
	}
	order.Status = models.OrderStatus(status)
	if lockRequestedAt.Valid {
		t := lockRequestedAt.Time
		order.LockRequestedAt = &t
	}
	return &order, nil
}

func scanEscrow(row rowScanner) (*models.Escrow, error) {
	var escrow models.Escrow
	var amount, status string
	var resolvedAt sql.NullTime

	err := row.Scan(
		&escrow.ID,
		&escrow.OrderID,
		&escrow.SellerID,
		&escrow.BuyerID,
		&amount,
		&escrow.Tier,
		&status,
		&escrow.LockedAt,
		&escrow.ExpiresAt,
		&resolvedAt,
	)
	if err != nil {
		return nil, err
	}
	if escrow.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, err
	}
	escrow.Status = models.EscrowStatus(status)
	if resolvedAt.Valid {
		t := resolvedAt.Time
		escrow.ResolvedAt = &t
	}
	return &escrow, nil
}

func scanVerification(row rowScanner) (*models.Verification, error) {
	var v models.Verification
	var status string
	var verifiedAt sql.NullTime

	err := row.Scan(
		&v.ID,
		&v.OrderID,
		&v.SubmittedBy,
		&status,
		&v.Proof,
		&v.Notes,
		&v.VerifiedBy,
		&verifiedAt,
		&v.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	v.Status = models.VerificationStatus(status)
	if verifiedAt.Valid {
		t := verifiedAt.Time
		v.VerifiedAt = &t
	}
	return &v, nil
}
