package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gosuda/boardsync/internal/domain"
)

const commentColumns = `id, ticket_id, board_id, author, body, created_at`

type CommentRepo struct {
	pool *pgxpool.Pool
}

func NewCommentRepo(pool *pgxpool.Pool) *CommentRepo {
	return &CommentRepo{pool: pool}
}

// Create inserts the comment under its ticket. The board id is copied from
// the ticket row, so callers cannot attach a comment to another board.
func (r *CommentRepo) Create(ctx context.Context, c *domain.Comment) error {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO comments (ticket_id, board_id, author, body, created_at)
		 SELECT t.id, t.board_id, $2::text, $3::text, $4::timestamptz FROM tickets t WHERE t.id = $1
		 RETURNING id, board_id`,
		c.TicketID, c.Author, c.Body, c.CreatedAt,
	).Scan(&c.ID, &c.BoardID)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("commentRepo.Create: ticket %d: %w", c.TicketID, domain.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("commentRepo.Create: %w", err)
	}

	return nil
}

func (r *CommentRepo) ListByTicket(ctx context.Context, ticketID int64) ([]*domain.Comment, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+commentColumns+` FROM comments WHERE ticket_id = $1 ORDER BY created_at, id LIMIT 1000`,
		ticketID,
	)
	if err != nil {
		return nil, fmt.Errorf("commentRepo.ListByTicket: %w", err)
	}
	defer rows.Close()

	return scanComments(rows, "commentRepo.ListByTicket")
}

func (r *CommentRepo) ListByBoard(ctx context.Context, boardID int64) ([]*domain.Comment, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+commentColumns+` FROM comments WHERE board_id = $1 ORDER BY ticket_id, created_at, id LIMIT 10000`,
		boardID,
	)
	if err != nil {
		return nil, fmt.Errorf("commentRepo.ListByBoard: %w", err)
	}
	defer rows.Close()

	return scanComments(rows, "commentRepo.ListByBoard")
}

func (r *CommentRepo) Delete(ctx context.Context, id int64) (*domain.Comment, error) {
	var c domain.Comment
	err := r.pool.QueryRow(ctx,
		`DELETE FROM comments WHERE id = $1 RETURNING `+commentColumns, id,
	).Scan(&c.ID, &c.TicketID, &c.BoardID, &c.Author, &c.Body, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("commentRepo.Delete: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("commentRepo.Delete: %w", err)
	}

	return &c, nil
}

func scanComments(rows pgx.Rows, caller string) ([]*domain.Comment, error) {
	var comments []*domain.Comment
	for rows.Next() {
		var c domain.Comment
		if err := rows.Scan(&c.ID, &c.TicketID, &c.BoardID, &c.Author, &c.Body, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("%s: scan: %w", caller, err)
		}
		comments = append(comments, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: rows: %w", caller, err)
	}

	return comments, nil
}
