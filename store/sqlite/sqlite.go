/*
Package sqlite provides a SQLite-backed implementation of the leave storage
interfaces.

PURPOSE:
  Implements leave.Store, leave.TxStore and leave.UserStore using SQLite.
  The same schema works on PostgreSQL with minor dialect changes.

KEY TABLES:
  users:            User records (join date drives entitlement)
  grants:           One row per (user_id, year)
  reservations:     Pending/used/cancelled leave requests
  usage_records:    Consumed leave
  usage_deductions: Per-grant provenance of each usage record

AMOUNTS:
  Decimals are stored as TEXT and parsed with shopspring/decimal so that
  0.5-day arithmetic never goes through floating point.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety and a single connection, so a
  transaction started by WithTx sees every one of its own writes and no
  other writer can interleave.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging):
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/leave.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  svc := leave.NewService(store, logger)

MIGRATION:
  Schema is auto-migrated on New().

SEE ALSO:
  - leave/store.go: Interface definitions
  - leave/store/memory.go: In-memory implementation
  - store/bolt/bolt.go: BoltDB implementation
*/
package sqlite

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/leave-ledger/leave"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to migrate database")
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		join_date TEXT NOT NULL,
		group_id TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL DEFAULT 'USER',
		status TEXT NOT NULL DEFAULT 'ACTIVE'
	);

	-- One grant per user and year
	CREATE TABLE IF NOT EXISTS grants (
		user_id TEXT NOT NULL,
		year INTEGER NOT NULL,
		total TEXT NOT NULL,
		used TEXT NOT NULL,
		remain TEXT NOT NULL,
		expire_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (user_id, year)
	);

	CREATE TABLE IF NOT EXISTS reservations (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		date TEXT NOT NULL,
		type TEXT NOT NULL,
		session TEXT NOT NULL DEFAULT '',
		amount TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	-- Hot path: RESERVED entries per user for balance and conflict checks
	CREATE INDEX IF NOT EXISTS idx_reservations_user_status_date
		ON reservations(user_id, status, date);

	CREATE TABLE IF NOT EXISTS usage_records (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		date TEXT NOT NULL,
		type TEXT NOT NULL,
		session TEXT NOT NULL DEFAULT '',
		amount TEXT NOT NULL,
		weekday INTEGER NOT NULL,
		reservation_id TEXT,
		used_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_usage_user_date
		ON usage_records(user_id, date);

	CREATE TABLE IF NOT EXISTS usage_deductions (
		usage_id TEXT NOT NULL REFERENCES usage_records(id) ON DELETE CASCADE,
		seq INTEGER NOT NULL,
		year INTEGER NOT NULL,
		amount TEXT NOT NULL,
		PRIMARY KEY (usage_id, seq)
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Reset deletes all rows. Used when loading demo scenarios.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, table := range []string{"usage_deductions", "usage_records", "reservations", "grants", "users"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return errors.Wrapf(err, "failed to reset %s", table)
		}
	}
	return nil
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries runs every statement against q. Store wraps it with locking and
// WithTx hands it the open *sql.Tx.
type queries struct {
	q querier
}

// =============================================================================
// USERS (leave.UserStore)
// =============================================================================

func (s *Store) SaveUser(ctx context.Context, u leave.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO users (id, name, join_date, group_id, role, status)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			join_date = excluded.join_date,
			group_id = excluded.group_id,
			role = excluded.role,
			status = excluded.status
	`
	_, err := s.db.ExecContext(ctx, query,
		string(u.ID), u.Name, u.JoinDate.String(), u.GroupID, string(u.Role), string(u.Status))
	return errors.Wrap(err, "failed to save user")
}

func (s *Store) GetUser(ctx context.Context, id leave.UserID) (*leave.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		"SELECT id, name, join_date, group_id, role, status FROM users WHERE id = ?", string(id))
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]leave.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, join_date, group_id, role, status FROM users ORDER BY id")
	if err != nil {
		return nil, errors.Wrap(err, "failed to list users")
	}
	defer rows.Close()

	var users []leave.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func scanUser(sc scanner) (leave.User, error) {
	var (
		u        leave.User
		joinDate string
	)
	if err := sc.Scan(&u.ID, &u.Name, &joinDate, &u.GroupID, &u.Role, &u.Status); err != nil {
		return leave.User{}, err
	}
	d, err := leave.ParseDate(joinDate)
	if err != nil {
		return leave.User{}, errors.Wrapf(err, "user %s join_date", u.ID)
	}
	u.JoinDate = d
	return u, nil
}

// =============================================================================
// LEDGER (leave.Store)
// =============================================================================

func (s *Store) ListGrants(ctx context.Context, userID leave.UserID) ([]leave.Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queries{s.db}.ListGrants(ctx, userID)
}

func (s *Store) GetGrant(ctx context.Context, userID leave.UserID, year int) (*leave.Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queries{s.db}.GetGrant(ctx, userID, year)
}

func (s *Store) SaveGrant(ctx context.Context, g leave.Grant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return queries{s.db}.SaveGrant(ctx, g)
}

func (s *Store) ListReservations(ctx context.Context, userID leave.UserID, filter leave.ReservationFilter) ([]leave.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queries{s.db}.ListReservations(ctx, userID, filter)
}

func (s *Store) ListAllReservations(ctx context.Context, filter leave.ReservationFilter) ([]leave.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queries{s.db}.ListAllReservations(ctx, filter)
}

func (s *Store) GetReservation(ctx context.Context, id string) (*leave.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queries{s.db}.GetReservation(ctx, id)
}

func (s *Store) CreateReservation(ctx context.Context, r leave.Reservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return queries{s.db}.CreateReservation(ctx, r)
}

func (s *Store) UpdateReservationStatus(ctx context.Context, id string, status leave.ReservationStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return queries{s.db}.UpdateReservationStatus(ctx, id, status)
}

// CreateUsageRecord writes the record and its deductions atomically.
func (s *Store) CreateUsageRecord(ctx context.Context, u leave.UsageRecord) error {
	return s.WithTx(ctx, func(tx leave.Store) error {
		return tx.CreateUsageRecord(ctx, u)
	})
}

func (s *Store) GetUsageRecord(ctx context.Context, id string) (*leave.UsageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queries{s.db}.GetUsageRecord(ctx, id)
}

func (s *Store) DeleteUsageRecord(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return queries{s.db}.DeleteUsageRecord(ctx, id)
}

func (s *Store) ListUsageRecords(ctx context.Context, userID leave.UserID) ([]leave.UsageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queries{s.db}.ListUsageRecords(ctx, userID)
}

// =============================================================================
// TRANSACTIONAL STORE (leave.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store leave.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer sqlTx.Rollback()

	if err := fn(queries{sqlTx}); err != nil {
		return err
	}

	return errors.Wrap(sqlTx.Commit(), "failed to commit transaction")
}

// =============================================================================
// QUERIES
// =============================================================================

const grantColumns = "user_id, year, total, used, remain, expire_at"

func (q queries) ListGrants(ctx context.Context, userID leave.UserID) ([]leave.Grant, error) {
	rows, err := q.q.QueryContext(ctx,
		"SELECT "+grantColumns+" FROM grants WHERE user_id = ? ORDER BY year", string(userID))
	if err != nil {
		return nil, errors.Wrap(err, "failed to query grants")
	}
	defer rows.Close()

	var grants []leave.Grant
	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			return nil, err
		}
		grants = append(grants, g)
	}
	return grants, rows.Err()
}

func (q queries) GetGrant(ctx context.Context, userID leave.UserID, year int) (*leave.Grant, error) {
	row := q.q.QueryRowContext(ctx,
		"SELECT "+grantColumns+" FROM grants WHERE user_id = ? AND year = ?", string(userID), year)
	g, err := scanGrant(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

func (q queries) SaveGrant(ctx context.Context, g leave.Grant) error {
	query := `
		INSERT INTO grants (user_id, year, total, used, remain, expire_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, year) DO UPDATE SET
			total = excluded.total,
			used = excluded.used,
			remain = excluded.remain,
			expire_at = excluded.expire_at,
			updated_at = excluded.updated_at
	`
	_, err := q.q.ExecContext(ctx, query,
		string(g.UserID), g.Year,
		g.Total.String(), g.Used.String(), g.Remain.String(),
		g.ExpireAt.String(),
		time.Now().UTC().Format(time.RFC3339),
	)
	return errors.Wrap(err, "failed to save grant")
}

func scanGrant(sc scanner) (leave.Grant, error) {
	var (
		g                   leave.Grant
		total, used, remain string
		expireAt            string
	)
	if err := sc.Scan(&g.UserID, &g.Year, &total, &used, &remain, &expireAt); err != nil {
		return leave.Grant{}, err
	}
	var err error
	if g.Total, err = parseAmount(total); err != nil {
		return leave.Grant{}, err
	}
	if g.Used, err = parseAmount(used); err != nil {
		return leave.Grant{}, err
	}
	if g.Remain, err = parseAmount(remain); err != nil {
		return leave.Grant{}, err
	}
	if g.ExpireAt, err = leave.ParseDate(expireAt); err != nil {
		return leave.Grant{}, errors.Wrapf(err, "grant %s/%d expire_at", g.UserID, g.Year)
	}
	return g, nil
}

const reservationColumns = "id, user_id, date, type, session, amount, status, created_at"

func (q queries) ListReservations(ctx context.Context, userID leave.UserID, filter leave.ReservationFilter) ([]leave.Reservation, error) {
	return q.selectReservations(ctx, []string{"user_id = ?"}, []any{string(userID)}, filter)
}

func (q queries) ListAllReservations(ctx context.Context, filter leave.ReservationFilter) ([]leave.Reservation, error) {
	return q.selectReservations(ctx, nil, nil, filter)
}

func (q queries) selectReservations(ctx context.Context, where []string, args []any, filter leave.ReservationFilter) ([]leave.Reservation, error) {
	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*filter.Status))
	}
	if filter.Date != nil {
		where = append(where, "date = ?")
		args = append(args, filter.Date.String())
	}

	query := "SELECT " + reservationColumns + " FROM reservations"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	rows, err := q.q.QueryContext(ctx, query+" ORDER BY date ASC, created_at ASC, id ASC", args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query reservations")
	}
	defer rows.Close()

	var out []leave.Reservation
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (q queries) GetReservation(ctx context.Context, id string) (*leave.Reservation, error) {
	row := q.q.QueryRowContext(ctx,
		"SELECT "+reservationColumns+" FROM reservations WHERE id = ?", id)
	r, err := scanReservation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (q queries) CreateReservation(ctx context.Context, r leave.Reservation) error {
	_, err := q.q.ExecContext(ctx,
		"INSERT INTO reservations ("+reservationColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		r.ID, string(r.UserID), r.Date.String(), string(r.Type), string(r.Session), r.Amount.String(), string(r.Status),
		r.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if isUniqueConstraintError(err) {
		return errors.Wrapf(err, "reservation %s already exists", r.ID)
	}
	return errors.Wrap(err, "failed to create reservation")
}

func (q queries) UpdateReservationStatus(ctx context.Context, id string, status leave.ReservationStatus) error {
	res, err := q.q.ExecContext(ctx, "UPDATE reservations SET status = ? WHERE id = ?", string(status), id)
	if err != nil {
		return errors.Wrap(err, "failed to update reservation")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to update reservation")
	}
	if n == 0 {
		return errors.Newf("reservation %s does not exist", id)
	}
	return nil
}

func scanReservation(sc scanner) (leave.Reservation, error) {
	var (
		r                       leave.Reservation
		date, amount, createdAt string
	)
	if err := sc.Scan(&r.ID, &r.UserID, &date, &r.Type, &r.Session, &amount, &r.Status, &createdAt); err != nil {
		return leave.Reservation{}, err
	}
	var err error
	if r.Date, err = leave.ParseDate(date); err != nil {
		return leave.Reservation{}, errors.Wrapf(err, "reservation %s date", r.ID)
	}
	if r.Amount, err = parseAmount(amount); err != nil {
		return leave.Reservation{}, err
	}
	if r.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return leave.Reservation{}, errors.Wrapf(err, "reservation %s created_at", r.ID)
	}
	return r, nil
}

const usageColumns = "id, user_id, date, type, session, amount, weekday, reservation_id, used_at"

func (q queries) CreateUsageRecord(ctx context.Context, u leave.UsageRecord) error {
	_, err := q.q.ExecContext(ctx,
		"INSERT INTO usage_records ("+usageColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)",
		u.ID, string(u.UserID), u.Date.String(), string(u.Type), string(u.Session), u.Amount.String(), int(u.Weekday),
		nullString(u.ReservationID), u.UsedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return errors.Wrap(err, "failed to create usage record")
	}
	for i, d := range u.Deductions {
		_, err := q.q.ExecContext(ctx,
			"INSERT INTO usage_deductions (usage_id, seq, year, amount) VALUES (?, ?, ?, ?)",
			u.ID, i, d.Year, d.Amount.String())
		if err != nil {
			return errors.Wrap(err, "failed to create usage deduction")
		}
	}
	return nil
}

func (q queries) GetUsageRecord(ctx context.Context, id string) (*leave.UsageRecord, error) {
	row := q.q.QueryRowContext(ctx,
		"SELECT "+usageColumns+" FROM usage_records WHERE id = ?", id)
	u, err := scanUsage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if u.Deductions, err = q.deductions(ctx, u.ID); err != nil {
		return nil, err
	}
	return &u, nil
}

func (q queries) DeleteUsageRecord(ctx context.Context, id string) error {
	_, err := q.q.ExecContext(ctx, "DELETE FROM usage_records WHERE id = ?", id)
	return errors.Wrap(err, "failed to delete usage record")
}

func (q queries) ListUsageRecords(ctx context.Context, userID leave.UserID) ([]leave.UsageRecord, error) {
	rows, err := q.q.QueryContext(ctx,
		"SELECT "+usageColumns+" FROM usage_records WHERE user_id = ? ORDER BY date ASC, used_at ASC", string(userID))
	if err != nil {
		return nil, errors.Wrap(err, "failed to query usage records")
	}

	var out []leave.UsageRecord
	for rows.Next() {
		u, err := scanUsage(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, u)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Deductions are loaded after the cursor is closed: the store runs on a
	// single connection.
	for i := range out {
		if out[i].Deductions, err = q.deductions(ctx, out[i].ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (q queries) deductions(ctx context.Context, usageID string) ([]leave.Deduction, error) {
	rows, err := q.q.QueryContext(ctx,
		"SELECT year, amount FROM usage_deductions WHERE usage_id = ? ORDER BY seq", usageID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query usage deductions")
	}
	defer rows.Close()

	out := []leave.Deduction{}
	for rows.Next() {
		var (
			d      leave.Deduction
			amount string
		)
		if err := rows.Scan(&d.Year, &amount); err != nil {
			return nil, err
		}
		if d.Amount, err = parseAmount(amount); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func scanUsage(sc scanner) (leave.UsageRecord, error) {
	var (
		u                    leave.UsageRecord
		date, amount, usedAt string
		weekday              int
		reservationID        sql.NullString
	)
	if err := sc.Scan(&u.ID, &u.UserID, &date, &u.Type, &u.Session, &amount, &weekday, &reservationID, &usedAt); err != nil {
		return leave.UsageRecord{}, err
	}
	var err error
	if u.Date, err = leave.ParseDate(date); err != nil {
		return leave.UsageRecord{}, errors.Wrapf(err, "usage %s date", u.ID)
	}
	if u.Amount, err = parseAmount(amount); err != nil {
		return leave.UsageRecord{}, err
	}
	if u.UsedAt, err = time.Parse(time.RFC3339Nano, usedAt); err != nil {
		return leave.UsageRecord{}, errors.Wrapf(err, "usage %s used_at", u.ID)
	}
	u.Weekday = time.Weekday(weekday)
	u.ReservationID = reservationID.String
	return u, nil
}

// Helper functions

type scanner interface {
	Scan(dest ...any) error
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func parseAmount(value string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Decimal{}, errors.Wrapf(err, "invalid amount %q", value)
	}
	return d, nil
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

var (
	_ leave.Repository = (*Store)(nil)
	_ leave.Store      = queries{}
)
