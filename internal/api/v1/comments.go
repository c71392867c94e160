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

type AddCommentInput struct {
	TicketID int64 `path:"id" minimum:"1" doc:"Ticket ID"`
	Body     struct {
		Body string `json:"body" minLength:"1" maxLength:"10000" doc:"Comment text"`
	}
}

type CommentOutput struct {
	Body *domain.Comment
}

type ListCommentsOutput struct {
	Body []*domain.Comment
}

type CommentIDInput struct {
	ID int64 `path:"id" minimum:"1" doc:"Comment ID"`
}

func RegisterCommentRoutes(api huma.API, store DataStore, events ChangePublisher) {
	huma.Register(api, huma.Operation{
		OperationID: "add-comment",
		Method:      http.MethodPost,
		Path:        "/tickets/{id}/comments",
		Summary:     "Add a comment to a ticket",
		Description: "The comment author is the caller's display name, or Anonymous.",
		Tags:        []string{"Comments"},
	}, func(ctx context.Context, input *AddCommentInput) (*CommentOutput, error) {
		text := strings.TrimSpace(input.Body.Body)
		if text == "" {
			return nil, huma.Error422UnprocessableEntity("body is required")
		}

		actor := middleware.ActorFromContext(ctx)
		author := actor
		if author == "" {
			author = domain.AnonymousActor
		}

		c := &domain.Comment{
			TicketID:  input.TicketID,
			Author:    author,
			Body:      text,
			CreatedAt: time.Now(),
		}

		if err := store.Comments().Create(ctx, c); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, huma.Error404NotFound("ticket not found")
			}
			return nil, huma.Error500InternalServerError("failed to add comment", err)
		}

		events.PublishChange(domain.ChangeCommentAdded, c.BoardID, c.ID, actor, c)
		return &CommentOutput{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-comments",
		Method:      http.MethodGet,
		Path:        "/tickets/{id}/comments",
		Summary:     "List comments on a ticket",
		Tags:        []string{"Comments"},
	}, func(ctx context.Context, input *TicketIDInput) (*ListCommentsOutput, error) {
		if _, err := getTicket(ctx, store, input.ID); err != nil {
			return nil, err
		}

		comments, err := store.Comments().ListByTicket(ctx, input.ID)
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to list comments", err)
		}

		return &ListCommentsOutput{Body: nonNil(comments)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-comment",
		Method:        http.MethodDelete,
		Path:          "/comments/{id}",
		Summary:       "Delete a comment",
		Tags:          []string{"Comments"},
		DefaultStatus: http.StatusNoContent,
	}, func(ctx context.Context, input *CommentIDInput) (*struct{}, error) {
		deleted, err := store.Comments().Delete(ctx, input.ID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, huma.Error404NotFound("comment not found")
			}
			return nil, huma.Error500InternalServerError("failed to delete comment", err)
		}

		events.PublishChange(domain.ChangeCommentDeleted, deleted.BoardID, deleted.ID, middleware.ActorFromContext(ctx), nil)
		return nil, nil
	})
}
