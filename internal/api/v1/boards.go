package v1

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/gosuda/boardsync/internal/domain"
	"github.com/gosuda/boardsync/internal/server/middleware"
)

type CreateBoardInput struct {
	Body struct {
		Name        string   `json:"name" minLength:"1" maxLength:"200" doc:"Board name"`
		Description string   `json:"description,omitempty" maxLength:"10000" doc:"Board description"`
		Columns     []string `json:"columns,omitempty" maxItems:"50" doc:"Ordered column names; defaults to todo, in_progress, review, done"`
	}
}

type BoardOutput struct {
	Body *domain.Board
}

type ListBoardsOutput struct {
	Body []*domain.Board
}

type BoardIDInput struct {
	ID int64 `path:"id" minimum:"1" doc:"Board ID"`
}

type BoardStateOutput struct {
	Body *domain.BoardState
}

type ListBoardTicketsOutput struct {
	Body []*domain.Ticket
}

type UpdateBoardInput struct {
	ID   int64 `path:"id" minimum:"1" doc:"Board ID"`
	Body struct {
		Name        string   `json:"name,omitempty" maxLength:"200" doc:"Board name"`
		Description *string  `json:"description,omitempty" maxLength:"10000" doc:"Board description"`
		Columns     []string `json:"columns,omitempty" maxItems:"50" doc:"Ordered column names"`
	}
}

func RegisterBoardRoutes(api huma.API, store DataStore, events ChangePublisher) {
	huma.Register(api, huma.Operation{
		OperationID: "create-board",
		Method:      http.MethodPost,
		Path:        "/boards",
		Summary:     "Create a board",
		Tags:        []string{"Boards"},
	}, func(ctx context.Context, input *CreateBoardInput) (*BoardOutput, error) {
		b, err := domain.NewBoard(input.Body.Name, input.Body.Description, input.Body.Columns)
		if err != nil {
			return nil, huma.Error422UnprocessableEntity(err.Error())
		}

		if err := store.Boards().Create(ctx, b); err != nil {
			return nil, huma.Error500InternalServerError("failed to create board", err)
		}

		events.PublishChange(domain.ChangeBoardCreated, b.ID, b.ID, middleware.ActorFromContext(ctx), b)
		return &BoardOutput{Body: b}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-boards",
		Method:      http.MethodGet,
		Path:        "/boards",
		Summary:     "List boards",
		Tags:        []string{"Boards"},
	}, func(ctx context.Context, _ *struct{}) (*ListBoardsOutput, error) {
		boards, err := store.Boards().List(ctx)
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to list boards", err)
		}

		return &ListBoardsOutput{Body: boards}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-board",
		Method:      http.MethodGet,
		Path:        "/boards/{id}",
		Summary:     "Get a board by ID",
		Tags:        []string{"Boards"},
	}, func(ctx context.Context, input *BoardIDInput) (*BoardOutput, error) {
		b, err := getBoard(ctx, store, input.ID)
		if err != nil {
			return nil, err
		}

		return &BoardOutput{Body: b}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-board-state",
		Method:      http.MethodGet,
		Path:        "/boards/{id}/state",
		Summary:     "Get a board with all tickets and comments",
		Description: "Full snapshot used by realtime clients to refresh after (re)connecting.",
		Tags:        []string{"Boards"},
	}, func(ctx context.Context, input *BoardIDInput) (*BoardStateOutput, error) {
		b, err := getBoard(ctx, store, input.ID)
		if err != nil {
			return nil, err
		}

		tickets, err := store.Tickets().ListByBoard(ctx, b.ID)
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to list tickets", err)
		}

		comments, err := store.Comments().ListByBoard(ctx, b.ID)
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to list comments", err)
		}

		return &BoardStateOutput{Body: &domain.BoardState{
			Board:    b,
			Tickets:  nonNil(tickets),
			Comments: nonNil(comments),
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-board-tickets",
		Method:      http.MethodGet,
		Path:        "/boards/{id}/tickets",
		Summary:     "List tickets on a board",
		Tags:        []string{"Boards"},
	}, func(ctx context.Context, input *BoardIDInput) (*ListBoardTicketsOutput, error) {
		if _, err := getBoard(ctx, store, input.ID); err != nil {
			return nil, err
		}

		tickets, err := store.Tickets().ListByBoard(ctx, input.ID)
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to list tickets", err)
		}

		return &ListBoardTicketsOutput{Body: nonNil(tickets)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-board",
		Method:      http.MethodPut,
		Path:        "/boards/{id}",
		Summary:     "Update a board",
		Tags:        []string{"Boards"},
	}, func(ctx context.Context, input *UpdateBoardInput) (*BoardOutput, error) {
		existing, err := getBoard(ctx, store, input.ID)
		if err != nil {
			return nil, err
		}

		name, description, columns := existing.Name, existing.Description, existing.Columns
		if input.Body.Name != "" {
			name = input.Body.Name
		}
		if input.Body.Description != nil {
			description = *input.Body.Description
		}
		if input.Body.Columns != nil {
			columns = input.Body.Columns
		}

		validated, err := domain.NewBoard(name, description, columns)
		if err != nil {
			return nil, huma.Error422UnprocessableEntity(err.Error())
		}
		existing.Name = validated.Name
		existing.Description = validated.Description
		existing.Columns = validated.Columns

		if err := store.Boards().Update(ctx, existing); err != nil {
			switch {
			case errors.Is(err, domain.ErrNotFound):
				return nil, huma.Error404NotFound("board not found")
			case errors.Is(err, domain.ErrConflict):
				return nil, huma.Error409Conflict("tickets remain in a removed column")
			default:
				return nil, huma.Error500InternalServerError("failed to update board", err)
			}
		}

		events.PublishChange(domain.ChangeBoardUpdated, existing.ID, existing.ID, middleware.ActorFromContext(ctx), existing)
		return &BoardOutput{Body: existing}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-board",
		Method:        http.MethodDelete,
		Path:          "/boards/{id}",
		Summary:       "Delete a board with its tickets and comments",
		Tags:          []string{"Boards"},
		DefaultStatus: http.StatusNoContent,
	}, func(ctx context.Context, input *BoardIDInput) (*struct{}, error) {
		if err := store.Boards().Delete(ctx, input.ID); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, huma.Error404NotFound("board not found")
			}
			return nil, huma.Error500InternalServerError("failed to delete board", err)
		}

		events.PublishChange(domain.ChangeBoardDeleted, input.ID, input.ID, middleware.ActorFromContext(ctx), nil)
		return nil, nil
	})
}

func getBoard(ctx context.Context, store DataStore, id int64) (*domain.Board, error) {
	b, err := store.Boards().GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, huma.Error404NotFound("board not found")
		}
		return nil, huma.Error500InternalServerError("failed to get board", err)
	}
	return b, nil
}

// nonNil keeps empty collections encoding as [] instead of null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
