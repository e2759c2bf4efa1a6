package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const pgUniqueViolation = "23505"

// PostgresStore implements Store on a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
	log  logrus.FieldLogger
}

// NewPostgres creates a connection pool and verifies connectivity.
func NewPostgres(ctx context.Context, databaseURL string, log logrus.FieldLogger) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if log == nil {
		log = logrus.StandardLogger()
	}
	return &PostgresStore{pool: pool, log: log}, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// Migrate applies the embedded goose migrations through a database/sql
// handle borrowed from the pool.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(s.pool)
	defer db.Close()

	results, err := runMigrations(ctx, goose.DialectPostgres, "postgres", db)
	if err != nil {
		return err
	}
	s.log.WithField("applied", len(results)).Info("store_migrated driver=postgres")
	return nil
}

// withTransaction executes fn within a transaction, rolling back on error.
func (s *PostgresStore) withTransaction(ctx context.Context, fn func(tx pgx.Tx) error) (err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				err = fmt.Errorf("rollback failed: %v, original error: %w", rbErr, err)
			}
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

func scanPgPair(row pgx.Row) (*SeedPair, error) {
	var (
		p                   SeedPair
		nonce, betCount     int64
		state               string
		previous            uuid.NullUUID
		activated, revealed *time.Time
	)
	err := row.Scan(&p.ID, &p.UserID, &p.ServerSeed, &p.ServerSeedHash, &p.ClientSeed, &nonce, &betCount,
		&state, &previous, &p.CreatedAt, &activated, &revealed)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if previous.Valid {
		prev := previous.UUID
		p.PreviousPairID = &prev
	}
	p.Nonce = uint64(nonce)
	p.BetCount = uint64(betCount)
	p.State = PairState(state)
	p.CreatedAt = p.CreatedAt.UTC()
	if activated != nil {
		t := activated.UTC()
		p.ActivatedAt = &t
	}
	if revealed != nil {
		t := revealed.UTC()
		p.RevealedAt = &t
	}
	return &p, nil
}

func (s *PostgresStore) LivePair(ctx context.Context, userID string) (*SeedPair, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+pairColumns+` FROM seed_pairs WHERE user_id=$1 AND state IN ('committed', 'active')`, userID)
	return scanPgPair(row)
}

func (s *PostgresStore) GetPair(ctx context.Context, id uuid.UUID) (*SeedPair, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+pairColumns+` FROM seed_pairs WHERE id=$1`, id)
	return scanPgPair(row)
}

func (s *PostgresStore) SuccessorPair(ctx context.Context, previousID uuid.UUID) (*SeedPair, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+pairColumns+` FROM seed_pairs WHERE previous_pair_id=$1`, previousID)
	return scanPgPair(row)
}

func (s *PostgresStore) RevealedPairs(ctx context.Context, userID string, limit, offset int) ([]SeedPair, int, error) {
	limit, offset = NormalizePage(limit, offset)

	var total int
	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM seed_pairs WHERE user_id=$1 AND state='revealed'`, userID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+pairColumns+`
		FROM seed_pairs
		WHERE user_id=$1 AND state='revealed'
		ORDER BY revealed_at DESC, created_at DESC
		LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []SeedPair
	for rows.Next() {
		p, err := scanPgPair(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *p)
	}
	return out, total, rows.Err()
}

type pgExecer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func insertPgPair(ctx context.Context, exec pgExecer, p *SeedPair) error {
	var previous uuid.NullUUID
	if p.PreviousPairID != nil {
		previous = uuid.NullUUID{UUID: *p.PreviousPairID, Valid: true}
	}
	_, err := exec.Exec(ctx, `
		INSERT INTO seed_pairs (`+pairColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		p.ID, p.UserID, p.ServerSeed, p.ServerSeedHash, p.ClientSeed, int64(p.Nonce), int64(p.BetCount),
		string(p.State), previous, p.CreatedAt.UTC(), p.ActivatedAt, p.RevealedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert pair for user %s: %w", p.UserID, ErrConflict)
		}
		return err
	}
	return nil
}

func expectOneTag(tag pgconn.CommandTag) error {
	if tag.RowsAffected() == 0 {
		return ErrStale
	}
	return nil
}

func (s *PostgresStore) InsertPair(ctx context.Context, p *SeedPair) error {
	return insertPgPair(ctx, s.pool, p)
}

func (s *PostgresStore) ActivatePair(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE seed_pairs SET state='active', activated_at=$1 WHERE id=$2 AND state='committed'`,
		at.UTC(), id)
	if err != nil {
		return err
	}
	return expectOneTag(tag)
}

func (s *PostgresStore) AdvanceNonce(ctx context.Context, id uuid.UUID, expected uint64, at time.Time) (*SeedPair, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE seed_pairs
		SET nonce = nonce + 1,
		    bet_count = bet_count + 1,
		    state = 'active',
		    activated_at = COALESCE(activated_at, $1)
		WHERE id=$2 AND nonce=$3 AND state IN ('committed', 'active')
		RETURNING `+pairColumns,
		at.UTC(), id, int64(expected))
	p, err := scanPgPair(row)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrStale
	}
	return p, err
}

func (s *PostgresStore) UpdateClientSeed(ctx context.Context, id uuid.UUID, clientSeed string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE seed_pairs SET client_seed=$1
		WHERE id=$2 AND bet_count=0 AND state IN ('committed', 'active')`,
		clientSeed, id)
	if err != nil {
		return err
	}
	return expectOneTag(tag)
}

func (s *PostgresStore) RotatePair(ctx context.Context, oldID uuid.UUID, expected uint64, next *SeedPair, at time.Time) error {
	return s.withTransaction(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE seed_pairs SET state='revealed', revealed_at=$1
			WHERE id=$2 AND nonce=$3 AND state IN ('committed', 'active')`,
			at.UTC(), oldID, int64(expected))
		if err != nil {
			return err
		}
		if err := expectOneTag(tag); err != nil {
			return err
		}
		return insertPgPair(ctx, tx, next)
	})
}

func jsonArg(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func (s *PostgresStore) SaveBet(ctx context.Context, b *BetResolution) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO bet_resolutions (
			id, user_id, pair_id, nonce, game, params, table_version, raw_bytes,
			metric, metric_label, win, multiplier, details, stake, payout, created_at
		) VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7, $8, $9, $10, $11, $12, $13::jsonb, $14::numeric, $15::numeric, $16)`,
		b.ID, b.UserID, b.PairID, int64(b.Nonce), b.Game, paramsText(b.Params), b.TableVersion, b.RawBytes,
		b.Metric, b.MetricLabel, b.Win, b.Multiplier, jsonArg(b.Details), b.Stake.String(), b.Payout.String(), b.CreatedAt.UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("save bet pair %s nonce %d: %w", b.PairID, b.Nonce, ErrConflict)
		}
		return err
	}
	return nil
}

const pgBetColumns = `id, user_id, pair_id, nonce, game, params::text, table_version, raw_bytes,
	metric, metric_label, win, multiplier, details::text, stake::text, payout::text, created_at`

func scanPgBet(row pgx.Row) (*BetResolution, error) {
	var (
		b             BetResolution
		nonce         int64
		params        string
		details       *string
		stake, payout string
	)
	err := row.Scan(&b.ID, &b.UserID, &b.PairID, &nonce, &b.Game, &params, &b.TableVersion, &b.RawBytes,
		&b.Metric, &b.MetricLabel, &b.Win, &b.Multiplier, &details, &stake, &payout, &b.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if b.Stake, err = decimal.NewFromString(stake); err != nil {
		return nil, fmt.Errorf("parse stake: %w", err)
	}
	if b.Payout, err = decimal.NewFromString(payout); err != nil {
		return nil, fmt.Errorf("parse payout: %w", err)
	}
	b.Nonce = uint64(nonce)
	b.Params = json.RawMessage(params)
	if details != nil {
		b.Details = json.RawMessage(*details)
	}
	b.CreatedAt = b.CreatedAt.UTC()
	return &b, nil
}

func (s *PostgresStore) GetBet(ctx context.Context, id uuid.UUID) (*BetResolution, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+pgBetColumns+` FROM bet_resolutions WHERE id=$1`, id)
	return scanPgBet(row)
}

func (s *PostgresStore) ListBets(ctx context.Context, q BetsQuery) (*BetsPage, error) {
	limit, offset := NormalizePage(q.Limit, q.Offset)

	where := "user_id = $1"
	args := []any{q.UserID}
	if q.PairID != nil {
		args = append(args, *q.PairID)
		where += fmt.Sprintf(" AND pair_id = $%d", len(args))
	}
	if q.Game != "" {
		args = append(args, q.Game)
		where += fmt.Sprintf(" AND game = $%d", len(args))
	}

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM bet_resolutions WHERE "+where, args...).Scan(&total); err != nil {
		return nil, err
	}

	pageQ := fmt.Sprintf(`SELECT %s FROM bet_resolutions WHERE %s
		ORDER BY created_at DESC, nonce DESC
		LIMIT $%d OFFSET $%d`, pgBetColumns, where, len(args)+1, len(args)+2)
	args = append(args, limit, offset)
	rows, err := s.pool.Query(ctx, pageQ, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	page := &BetsPage{Bets: []BetResolution{}, TotalCount: total, Limit: limit, Offset: offset}
	for rows.Next() {
		b, err := scanPgBet(rows)
		if err != nil {
			return nil, err
		}
		page.Bets = append(page.Bets, *b)
	}
	return page, rows.Err()
}
