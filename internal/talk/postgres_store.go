package talk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore keeps each talk as a versioned JSONB document in the talks
// table. Modify locks the row for the length of the patch.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore { return &PostgresStore{pool: pool} }

const talkColumns = `name, number, version, active, document, created_at, updated_at`

func scanTalk(row pgx.Row) (*Talk, error) {
	var (
		name               string
		number, version    int64
		active             bool
		doc                []byte
		created, updatedAt time.Time
	)
	if err := row.Scan(&name, &number, &version, &active, &doc, &created, &updatedAt); err != nil {
		return nil, err
	}
	var t Talk
	if err := json.Unmarshal(doc, &t); err != nil {
		return nil, fmt.Errorf("decode talk %s: %w", name, err)
	}
	t.Name = name
	t.Number = number
	t.Version = version
	t.Active = active
	t.CreatedAt = created
	t.UpdatedAt = updatedAt
	return &t, nil
}

func notFound(name string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", name, ErrTalkNotFound)
	}
	return fmt.Errorf("read talk %s: %w", name, err)
}

func (s *PostgresStore) Get(ctx context.Context, name string) (*Talk, error) {
	t, err := scanTalk(s.pool.QueryRow(ctx, `SELECT `+talkColumns+` FROM talks WHERE name=$1`, name))
	if err != nil {
		return nil, notFound(name, err)
	}
	return t, nil
}

func (s *PostgresStore) Exists(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM talks WHERE name=$1)`, name).Scan(&exists)
	return exists, err
}

func (s *PostgresStore) Create(ctx context.Context, t *Talk) error {
	doc, err := json.Marshal(t)
	if err != nil {
		return err
	}
	err = s.pool.QueryRow(ctx, `
        INSERT INTO talks (name, active, document)
        VALUES ($1, $2, $3::jsonb)
        ON CONFLICT (name) DO NOTHING
        RETURNING number, version, created_at, updated_at
    `, t.Name, t.Active, string(doc)).Scan(&t.Number, &t.Version, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", t.Name, ErrTalkExists)
	}
	return err
}

func (s *PostgresStore) Delete(ctx context.Context, name string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM talks WHERE name=$1`, name)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", name, ErrTalkNotFound)
	}
	return nil
}

func (s *PostgresStore) Modify(ctx context.Context, name string, patch Patch) (*Talk, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	t, err := scanTalk(tx.QueryRow(ctx, `SELECT `+talkColumns+` FROM talks WHERE name=$1 FOR UPDATE`, name))
	if err != nil {
		return nil, notFound(name, err)
	}
	if err := patch.Apply(t); err != nil {
		return nil, err
	}
	doc, err := json.Marshal(t)
	if err != nil {
		return nil, err
	}
	err = tx.QueryRow(ctx, `
        UPDATE talks
        SET document=$2::jsonb, active=$3, version=version+1, updated_at=now()
        WHERE name=$1
        RETURNING version, updated_at
    `, name, string(doc), t.Active).Scan(&t.Version, &t.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("update talk %s: %w", name, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit talk %s: %w", name, err)
	}
	return t, nil
}

func (s *PostgresStore) collect(rows pgx.Rows, err error) ([]*Talk, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	// Always return a non-nil slice so JSON encodes as [] instead of null
	out := make([]*Talk, 0)
	for rows.Next() {
		t, err := scanTalk(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Active(ctx context.Context) ([]*Talk, error) {
	return s.collect(s.pool.Query(ctx, `SELECT `+talkColumns+` FROM talks WHERE active ORDER BY name`))
}

func (s *PostgresStore) List(ctx context.Context, limit int) ([]*Talk, error) {
	var lim interface{}
	if limit > 0 {
		lim = limit
	}
	return s.collect(s.pool.Query(ctx, `SELECT `+talkColumns+` FROM talks ORDER BY updated_at DESC LIMIT $1`, lim))
}
