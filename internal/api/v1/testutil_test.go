package v1_test

import (
	"context"
	"sync"

	"github.com/gosuda/boardsync/internal/domain"
	"github.com/gosuda/boardsync/internal/server/middleware"
)

// ---------------------------------------------------------------------------
// Context helpers: inject the acting display name for DoCtx
// ---------------------------------------------------------------------------

func actorCtx(name string) context.Context {
	return middleware.WithActor(context.Background(), name)
}

// ---------------------------------------------------------------------------
// Mock DataStore
// ---------------------------------------------------------------------------

type mockDataStore struct {
	boards   domain.BoardRepository
	tickets  domain.TicketRepository
	comments domain.CommentRepository
}

func (m *mockDataStore) Boards() domain.BoardRepository     { return m.boards }
func (m *mockDataStore) Tickets() domain.TicketRepository   { return m.tickets }
func (m *mockDataStore) Comments() domain.CommentRepository { return m.comments }

// ---------------------------------------------------------------------------
// Mock BoardRepository
// ---------------------------------------------------------------------------

type mockBoardRepo struct {
	createFunc  func(ctx context.Context, b *domain.Board) error
	getByIDFunc func(ctx context.Context, id int64) (*domain.Board, error)
	listFunc    func(ctx context.Context) ([]*domain.Board, error)
	updateFunc  func(ctx context.Context, b *domain.Board) error
	deleteFunc  func(ctx context.Context, id int64) error
}

func (m *mockBoardRepo) Create(ctx context.Context, b *domain.Board) error {
	return m.createFunc(ctx, b)
}

func (m *mockBoardRepo) GetByID(ctx context.Context, id int64) (*domain.Board, error) {
	return m.getByIDFunc(ctx, id)
}

func (m *mockBoardRepo) List(ctx context.Context) ([]*domain.Board, error) {
	return m.listFunc(ctx)
}

func (m *mockBoardRepo) Update(ctx context.Context, b *domain.Board) error {
	return m.updateFunc(ctx, b)
}

func (m *mockBoardRepo) Delete(ctx context.Context, id int64) error {
	return m.deleteFunc(ctx, id)
}

// ---------------------------------------------------------------------------
// Mock TicketRepository
// ---------------------------------------------------------------------------

type mockTicketRepo struct {
	createFunc      func(ctx context.Context, t *domain.Ticket) error
	getByIDFunc     func(ctx context.Context, id int64) (*domain.Ticket, error)
	listByBoardFunc func(ctx context.Context, boardID int64) ([]*domain.Ticket, error)
	updateFunc      func(ctx context.Context, t *domain.Ticket) error
	moveFunc        func(ctx context.Context, id int64, column string, position int) (*domain.TicketMove, error)
	deleteFunc      func(ctx context.Context, id int64) (*domain.Ticket, error)
}

func (m *mockTicketRepo) Create(ctx context.Context, t *domain.Ticket) error {
	return m.createFunc(ctx, t)
}

func (m *mockTicketRepo) GetByID(ctx context.Context, id int64) (*domain.Ticket, error) {
	return m.getByIDFunc(ctx, id)
}

func (m *mockTicketRepo) ListByBoard(ctx context.Context, boardID int64) ([]*domain.Ticket, error) {
	return m.listByBoardFunc(ctx, boardID)
}

func (m *mockTicketRepo) Update(ctx context.Context, t *domain.Ticket) error {
	return m.updateFunc(ctx, t)
}

func (m *mockTicketRepo) Move(ctx context.Context, id int64, column string, position int) (*domain.TicketMove, error) {
	return m.moveFunc(ctx, id, column, position)
}

func (m *mockTicketRepo) Delete(ctx context.Context, id int64) (*domain.Ticket, error) {
	return m.deleteFunc(ctx, id)
}

// ---------------------------------------------------------------------------
// Mock CommentRepository
// ---------------------------------------------------------------------------

type mockCommentRepo struct {
	createFunc       func(ctx context.Context, c *domain.Comment) error
	listByTicketFunc func(ctx context.Context, ticketID int64) ([]*domain.Comment, error)
	listByBoardFunc  func(ctx context.Context, boardID int64) ([]*domain.Comment, error)
	deleteFunc       func(ctx context.Context, id int64) (*domain.Comment, error)
}

func (m *mockCommentRepo) Create(ctx context.Context, c *domain.Comment) error {
	return m.createFunc(ctx, c)
}

func (m *mockCommentRepo) ListByTicket(ctx context.Context, ticketID int64) ([]*domain.Comment, error) {
	return m.listByTicketFunc(ctx, ticketID)
}

func (m *mockCommentRepo) ListByBoard(ctx context.Context, boardID int64) ([]*domain.Comment, error) {
	return m.listByBoardFunc(ctx, boardID)
}

func (m *mockCommentRepo) Delete(ctx context.Context, id int64) (*domain.Comment, error) {
	return m.deleteFunc(ctx, id)
}

// ---------------------------------------------------------------------------
// Recording ChangePublisher
// ---------------------------------------------------------------------------

type publishedChange struct {
	Kind     domain.ChangeKind
	BoardID  int64
	EntityID int64
	Actor    string
	Payload  any
}

type recordingPublisher struct {
	mu      sync.Mutex
	changes []publishedChange
}

func (p *recordingPublisher) PublishChange(kind domain.ChangeKind, boardID, entityID int64, actor string, payload any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.changes = append(p.changes, publishedChange{
		Kind:     kind,
		BoardID:  boardID,
		EntityID: entityID,
		Actor:    actor,
		Payload:  payload,
	})
}

func (p *recordingPublisher) published() []publishedChange {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]publishedChange, len(p.changes))
	copy(out, p.changes)
	return out
}

func sampleBoard(id int64) *domain.Board {
	return &domain.Board{ID: id, Name: "Sprint", Columns: []string{"todo", "doing", "done"}}
}
