package domain

import (
	"context"
	"time"
)

type Comment struct {
	ID        int64     `json:"id"`
	TicketID  int64     `json:"ticket_id"`
	BoardID   int64     `json:"board_id"`
	Author    string    `json:"author"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

type CommentRepository interface {
	// Create persists the comment; BoardID is resolved from the parent ticket.
	Create(ctx context.Context, c *Comment) error
	ListByTicket(ctx context.Context, ticketID int64) ([]*Comment, error)
	ListByBoard(ctx context.Context, boardID int64) ([]*Comment, error)
	Delete(ctx context.Context, id int64) (*Comment, error)
}
