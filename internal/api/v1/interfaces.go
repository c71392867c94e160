package v1

import (
	"github.com/gosuda/boardsync/internal/domain"
)

// DataStore abstracts the repository accessor pattern for handler testing.
// *postgres.Store satisfies this interface.
type DataStore interface {
	Boards() domain.BoardRepository
	Tickets() domain.TicketRepository
	Comments() domain.CommentRepository
}

// ChangePublisher announces committed mutations to realtime clients.
// *realtime.Bridge satisfies this interface.
type ChangePublisher interface {
	PublishChange(kind domain.ChangeKind, boardID, entityID int64, actor string, payload any)
}
