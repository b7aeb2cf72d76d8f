package lock

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres keeps locks as rows of repo_locks; the primary key on name makes
// acquisition atomic across engine instances.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) TryAcquire(ctx context.Context, name, holder string) (bool, error) {
	tag, err := p.pool.Exec(ctx, `
        INSERT INTO repo_locks (name, holder)
        VALUES ($1, $2)
        ON CONFLICT (name) DO NOTHING
    `, name, holder)
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", name, err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	current, err := p.Holder(ctx, name)
	if err != nil {
		return false, err
	}
	return current == holder, nil
}

func (p *Postgres) Release(ctx context.Context, name, holder string) (bool, error) {
	tag, err := p.pool.Exec(ctx, `DELETE FROM repo_locks WHERE name = $1 AND holder = $2`, name, holder)
	if err != nil {
		return false, fmt.Errorf("release lock %s: %w", name, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (p *Postgres) Holder(ctx context.Context, name string) (string, error) {
	var holder string
	err := p.pool.QueryRow(ctx, `SELECT holder FROM repo_locks WHERE name = $1`, name).Scan(&holder)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read lock %s: %w", name, err)
	}
	return holder, nil
}
