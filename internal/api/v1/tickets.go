package v1

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/gosuda/boardsync/internal/domain"
	"github.com/gosuda/boardsync/internal/server/middleware"
)

type CreateTicketInput struct {
	Body struct {
		BoardID     int64  `json:"board_id" minimum:"1" doc:"Board ID"`
		Title       string `json:"title" minLength:"1" maxLength:"500" doc:"Ticket title"`
		Description string `json:"description,omitempty" maxLength:"10000" doc:"Ticket description"`
		Column      string `json:"column,omitempty" doc:"Column to place the ticket in; defaults to the board's first column"`
		Assignee    string `json:"assignee,omitempty" maxLength:"64" doc:"Assignee display name"`
	}
}

type TicketOutput struct {
	Body *domain.Ticket
}

type TicketIDInput struct {
	ID int64 `path:"id" minimum:"1" doc:"Ticket ID"`
}

type UpdateTicketInput struct {
	ID   int64 `path:"id" minimum:"1" doc:"Ticket ID"`
	Body struct {
		Title       string  `json:"title,omitempty" maxLength:"500" doc:"Ticket title"`
		Description *string `json:"description,omitempty" maxLength:"10000" doc:"Ticket description"`
		Assignee    *string `json:"assignee,omitempty" maxLength:"64" doc:"Assignee display name; empty clears it"`
	}
}

type MoveTicketInput struct {
	ID   int64 `path:"id" minimum:"1" doc:"Ticket ID"`
	Body struct {
		Column   string `json:"column" minLength:"1" doc:"Target column"`
		Position int    `json:"position" minimum:"0" doc:"Zero-based position within the target column; clamped to its length"`
	}
}

func RegisterTicketRoutes(api huma.API, store DataStore, events ChangePublisher) {
	huma.Register(api, huma.Operation{
		OperationID: "create-ticket",
		Method:      http.MethodPost,
		Path:        "/tickets",
		Summary:     "Create a ticket",
		Tags:        []string{"Tickets"},
	}, func(ctx context.Context, input *CreateTicketInput) (*TicketOutput, error) {
		b, err := getBoard(ctx, store, input.Body.BoardID)
		if err != nil {
			return nil, err
		}

		column := input.Body.Column
		if column == "" {
			column = b.FirstColumn()
		}
		if !b.HasColumn(column) {
			return nil, huma.Error422UnprocessableEntity("column " + column + " does not exist on board")
		}

		now := time.Now()
		t := &domain.Ticket{
			BoardID:     b.ID,
			Title:       strings.TrimSpace(input.Body.Title),
			Description: input.Body.Description,
			Column:      column,
			Assignee:    strings.TrimSpace(input.Body.Assignee),
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if t.Title == "" {
			return nil, huma.Error422UnprocessableEntity("title is required")
		}

		if err := store.Tickets().Create(ctx, t); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, huma.Error404NotFound("board not found")
			}
			return nil, huma.Error500InternalServerError("failed to create ticket", err)
		}

		events.PublishChange(domain.ChangeTicketCreated, t.BoardID, t.ID, middleware.ActorFromContext(ctx), t)
		return &TicketOutput{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-ticket",
		Method:      http.MethodGet,
		Path:        "/tickets/{id}",
		Summary:     "Get a ticket by ID",
		Tags:        []string{"Tickets"},
	}, func(ctx context.Context, input *TicketIDInput) (*TicketOutput, error) {
		t, err := getTicket(ctx, store, input.ID)
		if err != nil {
			return nil, err
		}

		return &TicketOutput{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-ticket",
		Method:      http.MethodPut,
		Path:        "/tickets/{id}",
		Summary:     "Update a ticket",
		Description: "Changes title, description and assignee. Use the move operation to change columns.",
		Tags:        []string{"Tickets"},
	}, func(ctx context.Context, input *UpdateTicketInput) (*TicketOutput, error) {
		existing, err := getTicket(ctx, store, input.ID)
		if err != nil {
			return nil, err
		}

		if title := strings.TrimSpace(input.Body.Title); title != "" {
			existing.Title = title
		}
		if input.Body.Description != nil {
			existing.Description = *input.Body.Description
		}
		if input.Body.Assignee != nil {
			existing.Assignee = strings.TrimSpace(*input.Body.Assignee)
		}

		if err := store.Tickets().Update(ctx, existing); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, huma.Error404NotFound("ticket not found")
			}
			return nil, huma.Error500InternalServerError("failed to update ticket", err)
		}

		events.PublishChange(domain.ChangeTicketUpdated, existing.BoardID, existing.ID, middleware.ActorFromContext(ctx), existing)
		return &TicketOutput{Body: existing}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "move-ticket",
		Method:      http.MethodPatch,
		Path:        "/tickets/{id}/move",
		Summary:     "Move a ticket to a column and position",
		Tags:        []string{"Tickets"},
	}, func(ctx context.Context, input *MoveTicketInput) (*TicketOutput, error) {
		moved, err := store.Tickets().Move(ctx, input.ID, input.Body.Column, input.Body.Position)
		if err != nil {
			switch {
			case errors.Is(err, domain.ErrNotFound):
				return nil, huma.Error404NotFound("ticket not found")
			case errors.Is(err, domain.ErrInvalidColumn):
				return nil, huma.Error422UnprocessableEntity("column " + input.Body.Column + " does not exist on board")
			default:
				return nil, huma.Error500InternalServerError("failed to move ticket", err)
			}
		}

		t := moved.Ticket
		events.PublishChange(domain.ChangeTicketMoved, t.BoardID, t.ID, middleware.ActorFromContext(ctx), domain.MovePayload{
			FromColumn: moved.From,
			ToColumn:   t.Column,
			Position:   t.Position,
		})
		return &TicketOutput{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-ticket",
		Method:        http.MethodDelete,
		Path:          "/tickets/{id}",
		Summary:       "Delete a ticket",
		Tags:          []string{"Tickets"},
		DefaultStatus: http.StatusNoContent,
	}, func(ctx context.Context, input *TicketIDInput) (*struct{}, error) {
		deleted, err := store.Tickets().Delete(ctx, input.ID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, huma.Error404NotFound("ticket not found")
			}
			return nil, huma.Error500InternalServerError("failed to delete ticket", err)
		}

		events.PublishChange(domain.ChangeTicketDeleted, deleted.BoardID, deleted.ID, middleware.ActorFromContext(ctx), nil)
		return nil, nil
	})
}

func getTicket(ctx context.Context, store DataStore, id int64) (*domain.Ticket, error) {
	t, err := store.Tickets().GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, huma.Error404NotFound("ticket not found")
		}
		return nil, huma.Error500InternalServerError("failed to get ticket", err)
	}
	return t, nil
}
