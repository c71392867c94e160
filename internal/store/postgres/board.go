package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gosuda/boardsync/internal/domain"
)

type BoardRepo struct {
	pool *pgxpool.Pool
}

func NewBoardRepo(pool *pgxpool.Pool) *BoardRepo {
	return &BoardRepo{pool: pool}
}

func (r *BoardRepo) Create(ctx context.Context, b *domain.Board) error {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO boards (name, description, columns, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id`,
		b.Name, b.Description, b.Columns, b.CreatedAt, b.UpdatedAt,
	).Scan(&b.ID)
	if err != nil {
		return fmt.Errorf("boardRepo.Create: %w", err)
	}

	return nil
}

func (r *BoardRepo) GetByID(ctx context.Context, id int64) (*domain.Board, error) {
	var b domain.Board

	err := r.pool.QueryRow(ctx,
		`SELECT id, name, description, columns, created_at, updated_at
		 FROM boards WHERE id = $1`,
		id,
	).Scan(&b.ID, &b.Name, &b.Description, &b.Columns, &b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("boardRepo.GetByID: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("boardRepo.GetByID: %w", err)
	}

	return &b, nil
}

func (r *BoardRepo) List(ctx context.Context) ([]*domain.Board, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, name, description, columns, created_at, updated_at
		 FROM boards
		 ORDER BY id
		 LIMIT 1000`,
	)
	if err != nil {
		return nil, fmt.Errorf("boardRepo.List: %w", err)
	}
	defer rows.Close()

	var boards []*domain.Board
	for rows.Next() {
		var b domain.Board
		if err := rows.Scan(&b.ID, &b.Name, &b.Description, &b.Columns, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, fmt.Errorf("boardRepo.List: scan: %w", err)
		}
		boards = append(boards, &b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("boardRepo.List: rows: %w", err)
	}

	return boards, nil
}

// Update rewrites the board. Dropping a column that still holds tickets
// is a conflict.
func (r *BoardRepo) Update(ctx context.Context, b *domain.Board) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("boardRepo.Update: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	err = tx.QueryRow(ctx,
		`UPDATE boards SET name = $1, description = $2, columns = $3, updated_at = now()
		 WHERE id = $4
		 RETURNING updated_at`,
		b.Name, b.Description, b.Columns, b.ID,
	).Scan(&b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("boardRepo.Update: %w", domain.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("boardRepo.Update: %w", err)
	}

	var orphaned int
	err = tx.QueryRow(ctx,
		`SELECT count(*) FROM tickets WHERE board_id = $1 AND NOT (column_name = ANY($2))`,
		b.ID, b.Columns,
	).Scan(&orphaned)
	if err != nil {
		return fmt.Errorf("boardRepo.Update: check columns: %w", err)
	}
	if orphaned > 0 {
		return fmt.Errorf("boardRepo.Update: %d tickets in removed columns: %w", orphaned, domain.ErrConflict)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("boardRepo.Update: commit: %w", err)
	}
	return nil
}

// Delete removes the board; tickets and comments cascade.
func (r *BoardRepo) Delete(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM boards WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("boardRepo.Delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("boardRepo.Delete: %w", domain.ErrNotFound)
	}

	return nil
}
