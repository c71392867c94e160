package domain

import "time"

// ChangeKind names a completed mutation that is pushed to realtime clients.
type ChangeKind string

const (
	ChangeTicketCreated  ChangeKind = "ticket_created"
	ChangeTicketUpdated  ChangeKind = "ticket_updated"
	ChangeTicketMoved    ChangeKind = "ticket_moved"
	ChangeTicketDeleted  ChangeKind = "ticket_deleted"
	ChangeCommentAdded   ChangeKind = "comment_added"
	ChangeCommentDeleted ChangeKind = "comment_deleted"
	ChangeBoardCreated   ChangeKind = "board_created"
	ChangeBoardUpdated   ChangeKind = "board_updated"
	ChangeBoardDeleted   ChangeKind = "board_deleted"
)

// AnonymousActor is recorded when a mutation carries no attribution.
const AnonymousActor = "Anonymous"

// Valid reports whether k is a known change kind.
func (k ChangeKind) Valid() bool {
	switch k {
	case ChangeTicketCreated, ChangeTicketUpdated, ChangeTicketMoved, ChangeTicketDeleted,
		ChangeCommentAdded, ChangeCommentDeleted,
		ChangeBoardCreated, ChangeBoardUpdated, ChangeBoardDeleted:
		return true
	default:
		return false
	}
}

// Global reports whether events of this kind go to every live connection
// instead of the subscribers of their board. Only board creation qualifies:
// a new board has no subscribers yet but belongs in every client's board list.
func (k ChangeKind) Global() bool {
	return k == ChangeBoardCreated
}

// ChangeEvent describes one committed mutation. It is never persisted.
type ChangeEvent struct {
	Kind       ChangeKind `json:"kind"`
	BoardID    int64      `json:"board_id"`
	EntityID   int64      `json:"entity_id"`
	Actor      string     `json:"actor"`
	Payload    any        `json:"payload,omitempty"`
	OccurredAt time.Time  `json:"occurred_at"`
}

// MovePayload is the payload of a ticket_moved event.
type MovePayload struct {
	FromColumn string `json:"from_column"`
	ToColumn   string `json:"to_column"`
	Position   int    `json:"position"`
}
