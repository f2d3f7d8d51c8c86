package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"
	"github.com/rotisserie/eris"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/sells-group/leadfinder/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL
// mode. Writers are serialized through a single connection.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS identities (
	id         TEXT PRIMARY KEY,
	email      TEXT NOT NULL UNIQUE,
	name       TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS searches (
	id            TEXT PRIMARY KEY,
	owner_id      TEXT NOT NULL REFERENCES identities(id) ON DELETE CASCADE,
	query         TEXT NOT NULL,
	results_count INTEGER NOT NULL DEFAULT 0,
	created_at    DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at    DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS search_shares (
	search_id   TEXT NOT NULL REFERENCES searches(id) ON DELETE CASCADE,
	identity_id TEXT NOT NULL REFERENCES identities(id) ON DELETE CASCADE,
	created_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (search_id, identity_id)
);

CREATE TABLE IF NOT EXISTS businesses (
	id              TEXT PRIMARY KEY,
	place_id        TEXT NOT NULL UNIQUE,
	name            TEXT NOT NULL,
	email           TEXT,
	website         TEXT NOT NULL DEFAULT '',
	phone           TEXT NOT NULL DEFAULT '',
	address         TEXT NOT NULL DEFAULT '',
	category        TEXT NOT NULL DEFAULT '',
	rating          REAL,
	reviews_count   INTEGER NOT NULL DEFAULT 0,
	latitude        REAL,
	longitude       REAL,
	instagram       TEXT NOT NULL DEFAULT '',
	youtube         TEXT NOT NULL DEFAULT '',
	twitter         TEXT NOT NULL DEFAULT '',
	facebook        TEXT NOT NULL DEFAULT '',
	first_search_id TEXT REFERENCES searches(id) ON DELETE SET NULL,
	created_at      DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at      DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS search_businesses (
	search_id   TEXT NOT NULL REFERENCES searches(id) ON DELETE CASCADE,
	business_id TEXT NOT NULL REFERENCES businesses(id) ON DELETE CASCADE,
	position    INTEGER NOT NULL DEFAULT 0,
	linked_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (search_id, business_id)
);

CREATE INDEX IF NOT EXISTS idx_searches_owner_id ON searches(owner_id);
CREATE INDEX IF NOT EXISTS idx_search_shares_identity_id ON search_shares(identity_id);
CREATE INDEX IF NOT EXISTS idx_businesses_category ON businesses(category);
CREATE INDEX IF NOT EXISTS idx_search_businesses_business_id ON search_businesses(business_id);
`

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// isUniqueViolation reports whether err is a UNIQUE or PRIMARY KEY
// constraint failure.
func isUniqueViolation(err error) bool {
	var sqlErr *sqlite.Error
	if !errors.As(err, &sqlErr) {
		return false
	}
	switch sqlErr.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	}
	return sqlErr.Code()&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(sqlErr.Error(), "UNIQUE")
}

func (s *SQLiteStore) CreateIdentity(ctx context.Context, email, name string) (*model.Identity, error) {
	id := &model.Identity{
		ID:        uuid.New().String(),
		Email:     NormalizeEmail(email),
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO identities (id, email, name, created_at) VALUES (?, ?, ?, ?)`,
		id.ID, id.Email, id.Name, id.CreatedAt,
	)
	if isUniqueViolation(err) {
		return nil, eris.Wrapf(ErrConflict, "sqlite: identity %s exists", id.Email)
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert identity")
	}
	return id, nil
}

func (s *SQLiteStore) GetIdentity(ctx context.Context, id string) (*model.Identity, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, email, name, created_at FROM identities WHERE id = ?`, id)
	return identityRow(row, "identity "+id)
}

func (s *SQLiteStore) GetIdentityByEmail(ctx context.Context, email string) (*model.Identity, error) {
	email = NormalizeEmail(email)
	row := s.db.QueryRowContext(ctx, `SELECT id, email, name, created_at FROM identities WHERE email = ?`, email)
	return identityRow(row, "identity "+email)
}

func identityRow(row *sql.Row, what string) (*model.Identity, error) {
	id, err := scanIdentity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: %s", what)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get %s", what)
	}
	return id, nil
}

func (s *SQLiteStore) IdentitiesByEmail(ctx context.Context, emails []string) ([]model.Identity, error) {
	emails = normalizeEmails(emails)
	if len(emails) == 0 {
		return nil, nil
	}
	sb := sqlbuilder.SQLite.NewSelectBuilder()
	sb.Select("id", "email", "name", "created_at")
	sb.From("identities")
	sb.Where(sb.In("email", sqlbuilder.Flatten(emails)...))
	sb.OrderBy("email")
	query, args := sb.Build()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: identities by email")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Identity
	for rows.Next() {
		id, err := scanIdentity(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan identity")
		}
		out = append(out, *id)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate identities")
}

func (s *SQLiteStore) GetSearch(ctx context.Context, id string) (*model.Search, error) {
	search, err := scanSearch(s.db.QueryRowContext(ctx,
		`SELECT `+searchColumns+` FROM searches WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: search %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get search %s", id)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT identity_id FROM search_shares WHERE search_id = ? ORDER BY identity_id`, id)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: search shares")
	}
	defer rows.Close() //nolint:errcheck
	for rows.Next() {
		var identityID string
		if err := rows.Scan(&identityID); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan share")
		}
		search.SharedWith = append(search.SharedWith, identityID)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: iterate shares")
	}
	return &search, nil
}

func (s *SQLiteStore) ListVisibleSearches(ctx context.Context, identityID string, page Page) ([]model.Search, error) {
	query, args := buildVisibleSearches(sqlbuilder.SQLite, identityID, page)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list searches")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Search
	for rows.Next() {
		search, err := scanSearch(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan search")
		}
		out = append(out, search)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate searches")
}

func (s *SQLiteStore) IsSearchVisible(ctx context.Context, searchID, identityID string) (bool, error) {
	var visible bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS (
		SELECT 1 FROM searches s
		WHERE s.id = ?1 AND (s.owner_id = ?2 OR EXISTS (
			SELECT 1 FROM search_shares sh WHERE sh.search_id = s.id AND sh.identity_id = ?2)))`,
		searchID, identityID,
	).Scan(&visible)
	return visible, eris.Wrap(err, "sqlite: search visibility")
}

func (s *SQLiteStore) ShareSearch(ctx context.Context, searchID string, identityIDs []string) error {
	if len(identityIDs) == 0 {
		return nil
	}
	now := time.Now().UTC()
	ib := sqlbuilder.SQLite.NewInsertBuilder()
	ib.InsertIgnoreInto("search_shares")
	ib.Cols("search_id", "identity_id", "created_at")
	for _, id := range identityIDs {
		ib.Values(searchID, id, now)
	}
	query, args := ib.Build()
	_, err := s.db.ExecContext(ctx, query, args...)
	return eris.Wrapf(err, "sqlite: share search %s", searchID)
}

func (s *SQLiteStore) ListSearchBusinesses(ctx context.Context, searchID string, page Page) ([]model.Business, error) {
	query, args := buildSearchBusinesses(sqlbuilder.SQLite, searchID, page)
	return queryBusinesses(ctx, s.db, query, args)
}

func (s *SQLiteStore) ListVisibleBusinesses(ctx context.Context, f BusinessFilter) (*BusinessPage, error) {
	list, listArgs, count, countArgs := buildVisibleBusinesses(sqlbuilder.SQLite, f)

	var total int
	if err := s.db.QueryRowContext(ctx, count, countArgs...).Scan(&total); err != nil {
		return nil, eris.Wrap(err, "sqlite: count businesses")
	}
	bs, err := queryBusinesses(ctx, s.db, list, listArgs)
	if err != nil {
		return nil, err
	}
	return &BusinessPage{Businesses: bs, Total: total}, nil
}

// sqlQuerier is satisfied by both *sql.DB and *sql.Tx.
type sqlQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func queryBusinesses(ctx context.Context, q sqlQuerier, query string, args []any) ([]model.Business, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query businesses")
	}
	defer rows.Close() //nolint:errcheck

	out := []model.Business{}
	for rows.Next() {
		b, err := scanBusiness(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan business")
		}
		out = append(out, b)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate businesses")
}

func (s *SQLiteStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin")
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if err := fn(&sqliteTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return eris.Wrap(err, "sqlite: commit")
	}
	committed = true
	return nil
}

// sqliteTx implements Tx on a database/sql transaction.
type sqliteTx struct {
	tx *sql.Tx
}

func (t *sqliteTx) CreateSearch(ctx context.Context, search *model.Search) error {
	prepareSearch(search, time.Now().UTC())
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO searches (id, owner_id, query, results_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		search.ID, search.OwnerID, search.Query, search.ResultsCount, search.CreatedAt, search.UpdatedAt,
	)
	return eris.Wrap(err, "sqlite: insert search")
}

func (t *sqliteTx) BusinessesByPlaceIDs(ctx context.Context, placeIDs []string) ([]model.Business, error) {
	if len(placeIDs) == 0 {
		return nil, nil
	}
	query, args := buildBusinessesByPlaceIDs(sqlbuilder.SQLite, placeIDs)
	return queryBusinesses(ctx, t.tx, query, args)
}

func (t *sqliteTx) InsertBusinesses(ctx context.Context, bs []model.Business) error {
	if len(bs) == 0 {
		return nil
	}
	prepareBusinesses(bs, time.Now().UTC())

	ib := sqlbuilder.SQLite.NewInsertBuilder()
	ib.InsertInto("businesses")
	ib.Cols(businessColumnList...)
	for i := range bs {
		ib.Values(businessRow(&bs[i])...)
	}
	query, args := ib.Build()
	if _, err := t.tx.ExecContext(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			return eris.Wrap(ErrConflict, err.Error())
		}
		return eris.Wrap(err, "sqlite: insert businesses")
	}
	return nil
}

func (t *sqliteTx) LinkBusinesses(ctx context.Context, searchID string, businessIDs []string) error {
	if len(businessIDs) == 0 {
		return nil
	}
	now := time.Now().UTC()
	ib := sqlbuilder.SQLite.NewInsertBuilder()
	ib.InsertIgnoreInto("search_businesses")
	ib.Cols("search_id", "business_id", "position", "linked_at")
	for i, id := range businessIDs {
		ib.Values(searchID, id, i, now)
	}
	query, args := ib.Build()
	_, err := t.tx.ExecContext(ctx, query, args...)
	return eris.Wrap(err, "sqlite: link businesses")
}

func (t *sqliteTx) UpdateSearchResults(ctx context.Context, searchID string, count int, at time.Time) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE searches SET results_count = ?, updated_at = ? WHERE id = ?`,
		count, at, searchID,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: update search results")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "sqlite: search %s", searchID)
	}
	return nil
}
