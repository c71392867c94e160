package domain

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"
)

// DefaultColumns is the column layout given to boards created without one.
var DefaultColumns = []string{"todo", "in_progress", "review", "done"} //nolint:gochecknoglobals // read-only defaults

type Board struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Columns     []string  `json:"columns"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// NewBoard creates a Board with validated required fields and defaults.
// The ID is assigned by the store on insert.
func NewBoard(name, description string, columns []string) (*Board, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("board: name is required")
	}

	cols, err := normalizeColumns(columns)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	return &Board{
		Name:        name,
		Description: description,
		Columns:     cols,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// HasColumn reports whether column is one of the board's columns.
func (b *Board) HasColumn(column string) bool {
	return slices.Contains(b.Columns, column)
}

// FirstColumn returns the column new tickets land in.
func (b *Board) FirstColumn() string {
	if len(b.Columns) == 0 {
		return DefaultColumns[0]
	}
	return b.Columns[0]
}

func normalizeColumns(columns []string) ([]string, error) {
	if len(columns) == 0 {
		return slices.Clone(DefaultColumns), nil
	}

	out := make([]string, 0, len(columns))
	for _, c := range columns {
		c = strings.TrimSpace(c)
		if c == "" {
			return nil, errors.New("board: column names must not be empty")
		}
		if slices.Contains(out, c) {
			return nil, errors.New("board: duplicate column " + c)
		}
		out = append(out, c)
	}
	return out, nil
}

// BoardState is the full snapshot a client loads after (re)connecting.
type BoardState struct {
	Board    *Board     `json:"board"`
	Tickets  []*Ticket  `json:"tickets"`
	Comments []*Comment `json:"comments"`
}

type BoardRepository interface {
	Create(ctx context.Context, b *Board) error
	GetByID(ctx context.Context, id int64) (*Board, error)
	List(ctx context.Context) ([]*Board, error)
	Update(ctx context.Context, b *Board) error
	Delete(ctx context.Context, id int64) error
}
