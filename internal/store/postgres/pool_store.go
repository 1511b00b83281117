package postgres

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/orcbet/internal/domain"
)

// PoolStore implements domain.PoolStore using PostgreSQL.
type PoolStore struct {
	pool *pgxpool.Pool
}

// NewPoolStore creates a new PoolStore backed by the given connection pool.
func NewPoolStore(pool *pgxpool.Pool) *PoolStore {
	return &PoolStore{pool: pool}
}

const poolSelectCols = `id, feed, threshold::text, deadline, active,
	total_above::text, total_below::text, outcome, observed_value::text,
	created_at, resolved_at`

// InsertPool persists a newly created pool.
func (s *PoolStore) InsertPool(ctx context.Context, pool domain.PoolRecord) error {
	const query = `
		INSERT INTO pools (id, feed, threshold, deadline, active, total_above, total_below, created_at)
		VALUES ($1, $2, $3::numeric, $4, $5, $6::numeric, $7::numeric, $8)`

	_, err := s.pool.Exec(ctx, query,
		pool.ID, pool.Feed.Hex(), bigText(pool.Threshold), pool.Deadline, pool.Active,
		bigText(pool.TotalAbove), bigText(pool.TotalBelow), pool.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert pool %d: %w", pool.ID, err)
	}
	return nil
}

// InsertBet appends one bet row and bumps the pool's running totals in the
// same transaction.
func (s *PoolStore) InsertBet(ctx context.Context, bet domain.BetRecord) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin bet tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const insert = `
		INSERT INTO bets (pool_id, account, gross_above, gross_below, net_above, net_below, placed_at)
		VALUES ($1, $2, $3::numeric, $4::numeric, $5::numeric, $6::numeric, $7)`
	if _, err := tx.Exec(ctx, insert,
		bet.PoolID, bet.Account.Hex(),
		bigText(bet.GrossAbove), bigText(bet.GrossBelow),
		bigText(bet.NetAbove), bigText(bet.NetBelow),
		bet.PlacedAt,
	); err != nil {
		return fmt.Errorf("postgres: insert bet: %w", err)
	}

	const bump = `
		UPDATE pools
		SET total_above = total_above + $2::numeric,
		    total_below = total_below + $3::numeric
		WHERE id = $1`
	if _, err := tx.Exec(ctx, bump,
		bet.PoolID, bigText(bet.NetAbove), bigText(bet.NetBelow),
	); err != nil {
		return fmt.Errorf("postgres: bump pool totals: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit bet: %w", err)
	}
	return nil
}

// MarkResolved flips the pool to resolved and records its settlement payouts
// in one transaction.
func (s *PoolStore) MarkResolved(ctx context.Context, id int64, outcome domain.Outcome, observed *big.Int, resolvedAt time.Time, payouts []domain.PayoutRecord) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin resolve tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const update = `
		UPDATE pools
		SET active = FALSE, outcome = $2, observed_value = $3::numeric, resolved_at = $4
		WHERE id = $1 AND active`
	tag, err := tx.Exec(ctx, update, id, string(outcome), bigText(observed), resolvedAt)
	if err != nil {
		return fmt.Errorf("postgres: mark pool %d resolved: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: mark pool %d resolved: %w", id, domain.ErrPoolNotActive)
	}

	if len(payouts) > 0 {
		batch := &pgx.Batch{}
		const insert = `INSERT INTO payouts (pool_id, account, amount) VALUES ($1, $2, $3::numeric)`
		for _, p := range payouts {
			batch.Queue(insert, p.PoolID, p.Account.Hex(), bigText(p.Amount))
		}
		br := tx.SendBatch(ctx, batch)
		for i := range payouts {
			if _, err := br.Exec(); err != nil {
				_ = br.Close()
				return fmt.Errorf("postgres: insert payout %d: %w", i, err)
			}
		}
		if err := br.Close(); err != nil {
			return fmt.Errorf("postgres: close payout batch: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit resolve: %w", err)
	}
	return nil
}

// GetPool returns a single pool by id.
func (s *PoolStore) GetPool(ctx context.Context, id int64) (domain.PoolRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+poolSelectCols+` FROM pools WHERE id = $1`, id)

	rec, err := scanPoolRow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.PoolRecord{}, fmt.Errorf("postgres: pool %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.PoolRecord{}, fmt.Errorf("postgres: get pool %d: %w", id, err)
	}
	return rec, nil
}

// ListPools returns pools in id order with pagination.
func (s *PoolStore) ListPools(ctx context.Context, opts domain.ListOpts) ([]domain.PoolRecord, error) {
	query := `SELECT ` + poolSelectCols + ` FROM pools ORDER BY id ASC`
	args := []any{}
	argIdx := 1

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list pools: %w", err)
	}
	defer rows.Close()

	var pools []domain.PoolRecord
	for rows.Next() {
		rec, err := scanPoolRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan pool: %w", err)
		}
		pools = append(pools, rec)
	}
	return pools, rows.Err()
}

// ListBets returns a pool's bets in insertion order.
func (s *PoolStore) ListBets(ctx context.Context, poolID int64) ([]domain.BetRecord, error) {
	const query = `
		SELECT pool_id, account, gross_above::text, gross_below::text,
		       net_above::text, net_below::text, placed_at
		FROM bets WHERE pool_id = $1 ORDER BY id ASC`

	rows, err := s.pool.Query(ctx, query, poolID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list bets for pool %d: %w", poolID, err)
	}
	defer rows.Close()

	var bets []domain.BetRecord
	for rows.Next() {
		var (
			b       domain.BetRecord
			account string
			ga, gb  string
			na, nb  string
		)
		if err := rows.Scan(&b.PoolID, &account, &ga, &gb, &na, &nb, &b.PlacedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan bet: %w", err)
		}
		b.Account = common.HexToAddress(account)
		if b.GrossAbove, err = parseBig(ga); err != nil {
			return nil, err
		}
		if b.GrossBelow, err = parseBig(gb); err != nil {
			return nil, err
		}
		if b.NetAbove, err = parseBig(na); err != nil {
			return nil, err
		}
		if b.NetBelow, err = parseBig(nb); err != nil {
			return nil, err
		}
		bets = append(bets, b)
	}
	return bets, rows.Err()
}

// ListPayouts returns a pool's settlement payouts in insertion order.
func (s *PoolStore) ListPayouts(ctx context.Context, poolID int64) ([]domain.PayoutRecord, error) {
	const query = `
		SELECT pool_id, account, amount::text
		FROM payouts WHERE pool_id = $1 ORDER BY id ASC`

	rows, err := s.pool.Query(ctx, query, poolID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list payouts for pool %d: %w", poolID, err)
	}
	defer rows.Close()

	var payouts []domain.PayoutRecord
	for rows.Next() {
		var (
			p       domain.PayoutRecord
			account string
			amount  string
		)
		if err := rows.Scan(&p.PoolID, &account, &amount); err != nil {
			return nil, fmt.Errorf("postgres: scan payout: %w", err)
		}
		p.Account = common.HexToAddress(account)
		if p.Amount, err = parseBig(amount); err != nil {
			return nil, err
		}
		payouts = append(payouts, p)
	}
	return payouts, rows.Err()
}

// scanPoolRow decodes one pools row from either QueryRow or Query results.
func scanPoolRow(row pgx.Row) (domain.PoolRecord, error) {
	var (
		rec       domain.PoolRecord
		feed      string
		threshold string
		above     string
		below     string
		outcome   *string
		observed  *string
	)
	if err := row.Scan(
		&rec.ID, &feed, &threshold, &rec.Deadline, &rec.Active,
		&above, &below, &outcome, &observed,
		&rec.CreatedAt, &rec.ResolvedAt,
	); err != nil {
		return domain.PoolRecord{}, err
	}

	rec.Feed = common.HexToAddress(feed)

	var err error
	if rec.Threshold, err = parseBig(threshold); err != nil {
		return domain.PoolRecord{}, err
	}
	if rec.TotalAbove, err = parseBig(above); err != nil {
		return domain.PoolRecord{}, err
	}
	if rec.TotalBelow, err = parseBig(below); err != nil {
		return domain.PoolRecord{}, err
	}
	if outcome != nil {
		rec.Outcome = domain.Outcome(*outcome)
	}
	if observed != nil {
		if rec.ObservedValue, err = parseBig(*observed); err != nil {
			return domain.PoolRecord{}, err
		}
	}
	return rec, nil
}

// bigText renders a big.Int for a ::numeric parameter; nil becomes 0.
func bigText(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// parseBig parses a ::text-cast numeric column.
func parseBig(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("postgres: malformed numeric %q", s)
	}
	return v, nil
}
