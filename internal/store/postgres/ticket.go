package postgres

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gosuda/boardsync/internal/domain"
)

const ticketColumns = `id, board_id, title, description, column_name, position, assignee, created_at, updated_at`

type TicketRepo struct {
	pool *pgxpool.Pool
}

func NewTicketRepo(pool *pgxpool.Pool) *TicketRepo {
	return &TicketRepo{pool: pool}
}

// Create appends the ticket to the end of its column.
func (r *TicketRepo) Create(ctx context.Context, t *domain.Ticket) error {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO tickets (board_id, title, description, column_name, position, assignee, created_at, updated_at)
		 SELECT $1::bigint, $2::text, $3::text, $4::text,
		        COALESCE((SELECT max(position) + 1 FROM tickets WHERE board_id = $1 AND column_name = $4), 0),
		        $5::text, $6::timestamptz, $7::timestamptz
		 RETURNING id, position`,
		t.BoardID, t.Title, t.Description, t.Column, t.Assignee, t.CreatedAt, t.UpdatedAt,
	).Scan(&t.ID, &t.Position)
	if err != nil {
		return fmt.Errorf("ticketRepo.Create: %w", err)
	}

	return nil
}

func (r *TicketRepo) GetByID(ctx context.Context, id int64) (*domain.Ticket, error) {
	t, err := scanTicket(r.pool.QueryRow(ctx,
		`SELECT `+ticketColumns+` FROM tickets WHERE id = $1`, id,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("ticketRepo.GetByID: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("ticketRepo.GetByID: %w", err)
	}

	return t, nil
}

func (r *TicketRepo) ListByBoard(ctx context.Context, boardID int64) ([]*domain.Ticket, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+ticketColumns+`
		 FROM tickets WHERE board_id = $1
		 ORDER BY column_name, position, id
		 LIMIT 5000`,
		boardID,
	)
	if err != nil {
		return nil, fmt.Errorf("ticketRepo.ListByBoard: %w", err)
	}
	defer rows.Close()

	var tickets []*domain.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, fmt.Errorf("ticketRepo.ListByBoard: scan: %w", err)
		}
		tickets = append(tickets, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ticketRepo.ListByBoard: rows: %w", err)
	}

	return tickets, nil
}

// Update writes title, description and assignee. Column and position only
// change through Move.
func (r *TicketRepo) Update(ctx context.Context, t *domain.Ticket) error {
	updated, err := scanTicket(r.pool.QueryRow(ctx,
		`UPDATE tickets SET title = $1, description = $2, assignee = $3, updated_at = now()
		 WHERE id = $4
		 RETURNING `+ticketColumns,
		t.Title, t.Description, t.Assignee, t.ID,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("ticketRepo.Update: %w", domain.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("ticketRepo.Update: %w", err)
	}

	*t = *updated
	return nil
}

// Move relocates the ticket to column at position, shifting its neighbours.
// The target column must exist on the ticket's board. Position is clamped
// to the number of other tickets in the target column.
func (r *TicketRepo) Move(ctx context.Context, id int64, column string, position int) (*domain.TicketMove, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("ticketRepo.Move: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var (
		boardID int64
		from    string
		fromPos int
		columns []string
	)
	err = tx.QueryRow(ctx,
		`SELECT t.board_id, t.column_name, t.position, b.columns
		 FROM tickets t JOIN boards b ON b.id = t.board_id
		 WHERE t.id = $1
		 FOR UPDATE OF t`,
		id,
	).Scan(&boardID, &from, &fromPos, &columns)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("ticketRepo.Move: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("ticketRepo.Move: lock: %w", err)
	}
	if !slices.Contains(columns, column) {
		return nil, fmt.Errorf("ticketRepo.Move: %q: %w", column, domain.ErrInvalidColumn)
	}

	var siblings int
	if err := tx.QueryRow(ctx,
		`SELECT count(*) FROM tickets WHERE board_id = $1 AND column_name = $2 AND id <> $3`,
		boardID, column, id,
	).Scan(&siblings); err != nil {
		return nil, fmt.Errorf("ticketRepo.Move: count: %w", err)
	}
	position = clampPosition(position, siblings)

	// Close the gap left in the source column, then open one in the target.
	if _, err := tx.Exec(ctx,
		`UPDATE tickets SET position = position - 1
		 WHERE board_id = $1 AND column_name = $2 AND position > $3 AND id <> $4`,
		boardID, from, fromPos, id,
	); err != nil {
		return nil, fmt.Errorf("ticketRepo.Move: compact: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE tickets SET position = position + 1
		 WHERE board_id = $1 AND column_name = $2 AND position >= $3 AND id <> $4`,
		boardID, column, position, id,
	); err != nil {
		return nil, fmt.Errorf("ticketRepo.Move: shift: %w", err)
	}

	moved, err := scanTicket(tx.QueryRow(ctx,
		`UPDATE tickets SET column_name = $1, position = $2, updated_at = now()
		 WHERE id = $3
		 RETURNING `+ticketColumns,
		column, position, id,
	))
	if err != nil {
		return nil, fmt.Errorf("ticketRepo.Move: update: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("ticketRepo.Move: commit: %w", err)
	}

	return &domain.TicketMove{Ticket: moved, From: from}, nil
}

func (r *TicketRepo) Delete(ctx context.Context, id int64) (*domain.Ticket, error) {
	t, err := scanTicket(r.pool.QueryRow(ctx,
		`DELETE FROM tickets WHERE id = $1 RETURNING `+ticketColumns, id,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("ticketRepo.Delete: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("ticketRepo.Delete: %w", err)
	}

	return t, nil
}

func scanTicket(row pgx.Row) (*domain.Ticket, error) {
	var t domain.Ticket
	if err := row.Scan(
		&t.ID, &t.BoardID, &t.Title, &t.Description, &t.Column, &t.Position,
		&t.Assignee, &t.CreatedAt, &t.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &t, nil
}

// clampPosition bounds a requested index to [0, n].
func clampPosition(position, n int) int {
	return max(0, min(position, n))
}
