package domain

import (
	"context"
	"time"
)

type Ticket struct {
	ID          int64     `json:"id"`
	BoardID     int64     `json:"board_id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Column      string    `json:"column"`
	Position    int       `json:"position"`
	Assignee    string    `json:"assignee,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TicketMove is the result of relocating a ticket; From is the column it
// occupied before the move was committed.
type TicketMove struct {
	Ticket *Ticket
	From   string
}

type TicketRepository interface {
	Create(ctx context.Context, t *Ticket) error
	GetByID(ctx context.Context, id int64) (*Ticket, error)
	ListByBoard(ctx context.Context, boardID int64) ([]*Ticket, error)
	Update(ctx context.Context, t *Ticket) error
	Move(ctx context.Context, id int64, column string, position int) (*TicketMove, error)
	// Delete removes the ticket and returns the row as it was persisted.
	Delete(ctx context.Context, id int64) (*Ticket, error)
}
