package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// SQLiteStore implements Store on a single SQLite file.
type SQLiteStore struct {
	db  *sql.DB
	log logrus.FieldLogger
}

// NewSQLite opens/creates a SQLite database at path. Call Migrate before use.
func NewSQLite(path string, log logrus.FieldLogger) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite is not concurrent for writes
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &SQLiteStore{db: db, log: log}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Migrate applies the embedded goose migrations.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	results, err := runMigrations(ctx, goose.DialectSQLite3, "sqlite", s.db)
	if err != nil {
		return err
	}
	s.log.WithField("applied", len(results)).Info("store_migrated driver=sqlite")
	return nil
}

const pairColumns = `id, user_id, server_seed, server_seed_hash, client_seed, nonce, bet_count,
	state, previous_pair_id, created_at, activated_at, revealed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLitePair(row rowScanner) (*SeedPair, error) {
	var (
		p                   SeedPair
		id                  string
		previous            sql.NullString
		nonce, betCount     int64
		state               string
		activated, revealed sql.NullTime
	)
	err := row.Scan(&id, &p.UserID, &p.ServerSeed, &p.ServerSeedHash, &p.ClientSeed, &nonce, &betCount,
		&state, &previous, &p.CreatedAt, &activated, &revealed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if p.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse pair id: %w", err)
	}
	if previous.Valid {
		prev, err := uuid.Parse(previous.String)
		if err != nil {
			return nil, fmt.Errorf("parse previous pair id: %w", err)
		}
		p.PreviousPairID = &prev
	}
	p.Nonce = uint64(nonce)
	p.BetCount = uint64(betCount)
	p.State = PairState(state)
	p.CreatedAt = p.CreatedAt.UTC()
	if activated.Valid {
		t := activated.Time.UTC()
		p.ActivatedAt = &t
	}
	if revealed.Valid {
		t := revealed.Time.UTC()
		p.RevealedAt = &t
	}
	return &p, nil
}

func (s *SQLiteStore) LivePair(ctx context.Context, userID string) (*SeedPair, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+pairColumns+` FROM seed_pairs WHERE user_id=? AND state IN ('committed', 'active')`, userID)
	return scanSQLitePair(row)
}

func (s *SQLiteStore) GetPair(ctx context.Context, id uuid.UUID) (*SeedPair, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+pairColumns+` FROM seed_pairs WHERE id=?`, id.String())
	return scanSQLitePair(row)
}

func (s *SQLiteStore) SuccessorPair(ctx context.Context, previousID uuid.UUID) (*SeedPair, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+pairColumns+` FROM seed_pairs WHERE previous_pair_id=?`, previousID.String())
	return scanSQLitePair(row)
}

func (s *SQLiteStore) RevealedPairs(ctx context.Context, userID string, limit, offset int) ([]SeedPair, int, error) {
	limit, offset = NormalizePage(limit, offset)

	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM seed_pairs WHERE user_id=? AND state='revealed'`, userID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+pairColumns+`
		FROM seed_pairs
		WHERE user_id=? AND state='revealed'
		ORDER BY revealed_at DESC, created_at DESC
		LIMIT ? OFFSET ?`, userID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []SeedPair
	for rows.Next() {
		p, err := scanSQLitePair(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *p)
	}
	return out, total, rows.Err()
}

func nullableID(id *uuid.UUID) any {
	if id == nil {
		return nil
	}
	return id.String()
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func insertSQLitePair(ctx context.Context, exec interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}, p *SeedPair) error {
	_, err := exec.ExecContext(ctx, `
		INSERT INTO seed_pairs (`+pairColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID.String(), p.UserID, p.ServerSeed, p.ServerSeedHash, p.ClientSeed, int64(p.Nonce), int64(p.BetCount),
		string(p.State), nullableID(p.PreviousPairID), p.CreatedAt.UTC(), nullableTime(p.ActivatedAt), nullableTime(p.RevealedAt))
	if err != nil {
		if isConstraintErr(err) {
			return fmt.Errorf("insert pair for user %s: %w", p.UserID, ErrConflict)
		}
		return err
	}
	return nil
}

func (s *SQLiteStore) InsertPair(ctx context.Context, p *SeedPair) error {
	return insertSQLitePair(ctx, s.db, p)
}

func (s *SQLiteStore) ActivatePair(ctx context.Context, id uuid.UUID, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE seed_pairs SET state='active', activated_at=? WHERE id=? AND state='committed'`,
		at.UTC(), id.String())
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

func (s *SQLiteStore) AdvanceNonce(ctx context.Context, id uuid.UUID, expected uint64, at time.Time) (*SeedPair, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE seed_pairs
		SET nonce = nonce + 1,
		    bet_count = bet_count + 1,
		    state = 'active',
		    activated_at = COALESCE(activated_at, ?)
		WHERE id=? AND nonce=? AND state IN ('committed', 'active')`,
		at.UTC(), id.String(), int64(expected))
	if err != nil {
		return nil, err
	}
	if err := expectOneRow(res); err != nil {
		return nil, err
	}
	return s.GetPair(ctx, id)
}

func (s *SQLiteStore) UpdateClientSeed(ctx context.Context, id uuid.UUID, clientSeed string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE seed_pairs SET client_seed=?
		WHERE id=? AND bet_count=0 AND state IN ('committed', 'active')`,
		clientSeed, id.String())
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

func (s *SQLiteStore) RotatePair(ctx context.Context, oldID uuid.UUID, expected uint64, next *SeedPair, at time.Time) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, `
		UPDATE seed_pairs SET state='revealed', revealed_at=?
		WHERE id=? AND nonce=? AND state IN ('committed', 'active')`,
		at.UTC(), oldID.String(), int64(expected))
	if err != nil {
		return err
	}
	if err = expectOneRow(res); err != nil {
		return err
	}
	if err = insertSQLitePair(ctx, tx, next); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit rotation: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SaveBet(ctx context.Context, b *BetResolution) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bet_resolutions (
			id, user_id, pair_id, nonce, game, params, table_version, raw_bytes,
			metric, metric_label, win, multiplier, details, stake, payout, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID.String(), b.UserID, b.PairID.String(), int64(b.Nonce), b.Game, paramsText(b.Params), b.TableVersion, b.RawBytes,
		b.Metric, b.MetricLabel, b.Win, b.Multiplier, jsonText(b.Details), b.Stake.String(), b.Payout.String(), b.CreatedAt.UTC())
	if err != nil {
		if isConstraintErr(err) {
			return fmt.Errorf("save bet pair %s nonce %d: %w", b.PairID, b.Nonce, ErrConflict)
		}
		return err
	}
	return nil
}

const betColumns = `id, user_id, pair_id, nonce, game, params, table_version, raw_bytes,
	metric, metric_label, win, multiplier, details, stake, payout, created_at`

func scanSQLiteBet(row rowScanner) (*BetResolution, error) {
	var (
		b             BetResolution
		id, pairID    string
		nonce         int64
		params        string
		details       sql.NullString
		stake, payout string
	)
	err := row.Scan(&id, &b.UserID, &pairID, &nonce, &b.Game, &params, &b.TableVersion, &b.RawBytes,
		&b.Metric, &b.MetricLabel, &b.Win, &b.Multiplier, &details, &stake, &payout, &b.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if b.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse bet id: %w", err)
	}
	if b.PairID, err = uuid.Parse(pairID); err != nil {
		return nil, fmt.Errorf("parse bet pair id: %w", err)
	}
	if b.Stake, err = decimal.NewFromString(stake); err != nil {
		return nil, fmt.Errorf("parse stake: %w", err)
	}
	if b.Payout, err = decimal.NewFromString(payout); err != nil {
		return nil, fmt.Errorf("parse payout: %w", err)
	}
	b.Nonce = uint64(nonce)
	b.Params = json.RawMessage(params)
	if details.Valid {
		b.Details = json.RawMessage(details.String)
	}
	b.CreatedAt = b.CreatedAt.UTC()
	return &b, nil
}

func (s *SQLiteStore) GetBet(ctx context.Context, id uuid.UUID) (*BetResolution, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+betColumns+` FROM bet_resolutions WHERE id=?`, id.String())
	return scanSQLiteBet(row)
}

func (s *SQLiteStore) ListBets(ctx context.Context, q BetsQuery) (*BetsPage, error) {
	limit, offset := NormalizePage(q.Limit, q.Offset)

	where := "user_id = ?"
	args := []any{q.UserID}
	if q.PairID != nil {
		where += " AND pair_id = ?"
		args = append(args, q.PairID.String())
	}
	if q.Game != "" {
		where += " AND game = ?"
		args = append(args, q.Game)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM bet_resolutions WHERE "+where, args...).Scan(&total); err != nil {
		return nil, err
	}

	pageQ := `SELECT ` + betColumns + ` FROM bet_resolutions WHERE ` + where + `
		ORDER BY created_at DESC, nonce DESC
		LIMIT ? OFFSET ?`
	args = append(args, limit, offset)
	rows, err := s.db.QueryContext(ctx, pageQ, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	page := &BetsPage{Bets: []BetResolution{}, TotalCount: total, Limit: limit, Offset: offset}
	for rows.Next() {
		b, err := scanSQLiteBet(rows)
		if err != nil {
			return nil, err
		}
		page.Bets = append(page.Bets, *b)
	}
	return page, rows.Err()
}

// --------- helpers ---------

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrStale
	}
	return nil
}

func jsonText(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func paramsText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "{}"
	}
	return string(raw)
}

func isConstraintErr(err error) bool {
	// modernc sqlite returns errors with messages containing "constraint failed"
	// or "UNIQUE constraint failed". Use substring match.
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "constraint failed") || strings.Contains(msg, "unique constraint")
}
