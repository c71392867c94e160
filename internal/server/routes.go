package server

import (
	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"

	v1 "github.com/gosuda/boardsync/internal/api/v1"
	"github.com/gosuda/boardsync/internal/api/ws"
)

func registerAPIRoutes(api huma.API, store v1.DataStore, events v1.ChangePublisher) {
	v1.RegisterBoardRoutes(api, store, events)
	v1.RegisterTicketRoutes(api, store, events)
	v1.RegisterCommentRoutes(api, store, events)
}

func registerWSRoutes(r chi.Router, hub *ws.Hub) {
	hub.Mount(r)
}
