package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/leadfinder/internal/db"
	"github.com/sells-group/leadfinder/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `mapstructure:"max_conns"`
	MinConns int32 `mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS identities (
	id         TEXT PRIMARY KEY,
	email      TEXT NOT NULL,
	name       TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	CONSTRAINT identities_email_key UNIQUE (email)
);

CREATE TABLE IF NOT EXISTS searches (
	id            TEXT PRIMARY KEY,
	owner_id      TEXT NOT NULL REFERENCES identities(id) ON DELETE CASCADE,
	query         TEXT NOT NULL,
	results_count INTEGER NOT NULL DEFAULT 0,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_searches_owner_id ON searches(owner_id);
CREATE INDEX IF NOT EXISTS idx_searches_created_at ON searches(created_at DESC);

CREATE TABLE IF NOT EXISTS search_shares (
	search_id   TEXT NOT NULL REFERENCES searches(id) ON DELETE CASCADE,
	identity_id TEXT NOT NULL REFERENCES identities(id) ON DELETE CASCADE,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (search_id, identity_id)
);

CREATE INDEX IF NOT EXISTS idx_search_shares_identity_id ON search_shares(identity_id);

CREATE TABLE IF NOT EXISTS businesses (
	id              TEXT PRIMARY KEY,
	place_id        TEXT NOT NULL,
	name            TEXT NOT NULL,
	email           TEXT,
	website         TEXT NOT NULL DEFAULT '',
	phone           TEXT NOT NULL DEFAULT '',
	address         TEXT NOT NULL DEFAULT '',
	category        TEXT NOT NULL DEFAULT '',
	rating          DOUBLE PRECISION,
	reviews_count   INTEGER NOT NULL DEFAULT 0,
	latitude        DOUBLE PRECISION,
	longitude       DOUBLE PRECISION,
	instagram       TEXT NOT NULL DEFAULT '',
	youtube         TEXT NOT NULL DEFAULT '',
	twitter         TEXT NOT NULL DEFAULT '',
	facebook        TEXT NOT NULL DEFAULT '',
	first_search_id TEXT REFERENCES searches(id) ON DELETE SET NULL,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	CONSTRAINT businesses_place_id_key UNIQUE (place_id)
);

CREATE INDEX IF NOT EXISTS idx_businesses_category ON businesses(category);
CREATE INDEX IF NOT EXISTS idx_businesses_created_at ON businesses(created_at DESC);

CREATE TABLE IF NOT EXISTS search_businesses (
	search_id   TEXT NOT NULL REFERENCES searches(id) ON DELETE CASCADE,
	business_id TEXT NOT NULL REFERENCES businesses(id) ON DELETE CASCADE,
	position    INTEGER NOT NULL DEFAULT 0,
	linked_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (search_id, business_id)
);

CREATE INDEX IF NOT EXISTS idx_search_businesses_business_id ON search_businesses(business_id);
`

// businessPlaceIDConstraint is the unique constraint that arbitrates
// concurrent inserts of the same place.
const businessPlaceIDConstraint = "businesses_place_id_key"

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateIdentity(ctx context.Context, email, name string) (*model.Identity, error) {
	id := &model.Identity{
		ID:        uuid.New().String(),
		Email:     NormalizeEmail(email),
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO identities (id, email, name, created_at) VALUES ($1, $2, $3, $4)`,
		id.ID, id.Email, id.Name, id.CreatedAt,
	)
	if db.IsUniqueViolation(err, "") {
		return nil, eris.Wrapf(ErrConflict, "postgres: identity %s exists", id.Email)
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert identity")
	}
	return id, nil
}

func (s *PostgresStore) GetIdentity(ctx context.Context, id string) (*model.Identity, error) {
	row := s.pool.QueryRow(ctx, `SELECT id, email, name, created_at FROM identities WHERE id = $1`, id)
	return s.identityRow(row, "identity "+id)
}

func (s *PostgresStore) GetIdentityByEmail(ctx context.Context, email string) (*model.Identity, error) {
	email = NormalizeEmail(email)
	row := s.pool.QueryRow(ctx, `SELECT id, email, name, created_at FROM identities WHERE email = $1`, email)
	return s.identityRow(row, "identity "+email)
}

func (s *PostgresStore) identityRow(row pgx.Row, what string) (*model.Identity, error) {
	id, err := scanIdentity(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: %s", what)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get %s", what)
	}
	return id, nil
}

func (s *PostgresStore) IdentitiesByEmail(ctx context.Context, emails []string) ([]model.Identity, error) {
	emails = normalizeEmails(emails)
	if len(emails) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, email, name, created_at FROM identities WHERE email = ANY($1) ORDER BY email`, emails)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: identities by email")
	}
	defer rows.Close()

	var out []model.Identity
	for rows.Next() {
		id, err := scanIdentity(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan identity")
		}
		out = append(out, *id)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate identities")
}

func (s *PostgresStore) GetSearch(ctx context.Context, id string) (*model.Search, error) {
	search, err := scanSearch(s.pool.QueryRow(ctx,
		`SELECT `+searchColumns+` FROM searches WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: search %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get search %s", id)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT identity_id FROM search_shares WHERE search_id = $1 ORDER BY identity_id`, id)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: search shares")
	}
	defer rows.Close()
	for rows.Next() {
		var identityID string
		if err := rows.Scan(&identityID); err != nil {
			return nil, eris.Wrap(err, "postgres: scan share")
		}
		search.SharedWith = append(search.SharedWith, identityID)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate shares")
	}
	return &search, nil
}

func (s *PostgresStore) ListVisibleSearches(ctx context.Context, identityID string, page Page) ([]model.Search, error) {
	query, args := buildVisibleSearches(sqlbuilder.PostgreSQL, identityID, page)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list searches")
	}
	defer rows.Close()

	var out []model.Search
	for rows.Next() {
		search, err := scanSearch(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan search")
		}
		out = append(out, search)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate searches")
}

func (s *PostgresStore) IsSearchVisible(ctx context.Context, searchID, identityID string) (bool, error) {
	var visible bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (
		SELECT 1 FROM searches s
		WHERE s.id = $1 AND (s.owner_id = $2 OR EXISTS (
			SELECT 1 FROM search_shares sh WHERE sh.search_id = s.id AND sh.identity_id = $2)))`,
		searchID, identityID,
	).Scan(&visible)
	return visible, eris.Wrap(err, "postgres: search visibility")
}

func (s *PostgresStore) ShareSearch(ctx context.Context, searchID string, identityIDs []string) error {
	if len(identityIDs) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO search_shares (search_id, identity_id, created_at)
		SELECT $1, unnest($2::text[]), $3
		ON CONFLICT DO NOTHING`,
		searchID, identityIDs, time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: share search %s", searchID)
}

func (s *PostgresStore) ListSearchBusinesses(ctx context.Context, searchID string, page Page) ([]model.Business, error) {
	query, args := buildSearchBusinesses(sqlbuilder.PostgreSQL, searchID, page)
	return s.queryBusinesses(ctx, s.pool, query, args)
}

func (s *PostgresStore) ListVisibleBusinesses(ctx context.Context, f BusinessFilter) (*BusinessPage, error) {
	list, listArgs, count, countArgs := buildVisibleBusinesses(sqlbuilder.PostgreSQL, f)

	var total int
	if err := s.pool.QueryRow(ctx, count, countArgs...).Scan(&total); err != nil {
		return nil, eris.Wrap(err, "postgres: count businesses")
	}
	bs, err := s.queryBusinesses(ctx, s.pool, list, listArgs)
	if err != nil {
		return nil, err
	}
	return &BusinessPage{Businesses: bs, Total: total}, nil
}

func (s *PostgresStore) queryBusinesses(ctx context.Context, q db.Querier, query string, args []any) ([]model.Business, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query businesses")
	}
	defer rows.Close()

	out := []model.Business{}
	for rows.Next() {
		b, err := scanBusiness(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan business")
		}
		out = append(out, b)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate businesses")
}

func (s *PostgresStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin")
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(context.WithoutCancel(ctx))
		}
	}()

	if err := fn(&pgTx{store: s, tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return eris.Wrap(err, "postgres: commit")
	}
	committed = true
	return nil
}

// pgTx implements Tx on a pgx transaction.
type pgTx struct {
	store *PostgresStore
	tx    pgx.Tx
}

func (t *pgTx) CreateSearch(ctx context.Context, search *model.Search) error {
	prepareSearch(search, time.Now().UTC())
	_, err := t.tx.Exec(ctx,
		`INSERT INTO searches (id, owner_id, query, results_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		search.ID, search.OwnerID, search.Query, search.ResultsCount, search.CreatedAt, search.UpdatedAt,
	)
	return eris.Wrap(err, "postgres: insert search")
}

func (t *pgTx) BusinessesByPlaceIDs(ctx context.Context, placeIDs []string) ([]model.Business, error) {
	if len(placeIDs) == 0 {
		return nil, nil
	}
	return t.store.queryBusinesses(ctx, t.tx,
		`SELECT `+businessColumns+` FROM businesses WHERE place_id = ANY($1)`, []any{placeIDs})
}

func (t *pgTx) InsertBusinesses(ctx context.Context, bs []model.Business) error {
	if len(bs) == 0 {
		return nil
	}
	prepareBusinesses(bs, time.Now().UTC())

	rows := make([][]any, len(bs))
	for i := range bs {
		rows[i] = businessRow(&bs[i])
	}
	if _, err := db.CopyFrom(ctx, t.tx, "businesses", businessColumnList, rows); err != nil {
		if db.IsUniqueViolation(err, businessPlaceIDConstraint) {
			return eris.Wrap(ErrConflict, err.Error())
		}
		return eris.Wrap(err, "postgres: copy businesses")
	}
	return nil
}

func (t *pgTx) LinkBusinesses(ctx context.Context, searchID string, businessIDs []string) error {
	if len(businessIDs) == 0 {
		return nil
	}
	_, err := t.tx.Exec(ctx,
		`INSERT INTO search_businesses (search_id, business_id, position, linked_at)
		SELECT $1, t.id, t.ord - 1, $3
		FROM unnest($2::text[]) WITH ORDINALITY AS t(id, ord)
		ON CONFLICT DO NOTHING`,
		searchID, businessIDs, time.Now().UTC(),
	)
	return eris.Wrap(err, "postgres: link businesses")
}

func (t *pgTx) UpdateSearchResults(ctx context.Context, searchID string, count int, at time.Time) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE searches SET results_count = $1, updated_at = $2 WHERE id = $3`,
		count, at, searchID,
	)
	if err != nil {
		return eris.Wrap(err, "postgres: update search results")
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: search %s", searchID)
	}
	return nil
}
