package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gosuda/boardsync/internal/domain"
)

// Subscriber adds a board to an existing connection's subscriptions.
type Subscriber interface {
	Subscribe(ctx context.Context, connectionID string, board int64) error
}

// Refresher reloads the full state of boards after a (re)connection. Events
// missed while disconnected are never replayed, so this call is mandatory.
type Refresher interface {
	Refresh(ctx context.Context, boards []int64) error
}

// HTTPSubscriber calls PUT /ws/connections/{id}/boards/{board}.
type HTTPSubscriber struct {
	BaseURL string
	Client  *http.Client
}

func (s HTTPSubscriber) Subscribe(ctx context.Context, connectionID string, board int64) error {
	endpoint := strings.TrimSuffix(s.BaseURL, "/") +
		"/ws/connections/" + url.PathEscape(connectionID) + "/boards/" + strconv.FormatInt(board, 10)

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, http.NoBody)
	if err != nil {
		return fmt.Errorf("client.HTTPSubscriber.Subscribe: %w", err)
	}

	resp, err := httpClient(s.Client).Do(req)
	if err != nil {
		return fmt.Errorf("client.HTTPSubscriber.Subscribe: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("client.HTTPSubscriber.Subscribe: board %d: %w", board, statusError(resp))
	}
	return nil
}

// HTTPRefresher loads GET /api/v1/boards/{id}/state for every board and
// hands each snapshot to OnState.
type HTTPRefresher struct {
	BaseURL string
	Client  *http.Client
	// Header is added to every request, e.g. Authorization or X-Display-Name.
	Header  http.Header
	OnState func(state *domain.BoardState)
}

func (r HTTPRefresher) Refresh(ctx context.Context, boards []int64) error {
	for _, board := range boards {
		state, err := r.fetch(ctx, board)
		if err != nil {
			return fmt.Errorf("client.HTTPRefresher.Refresh: board %d: %w", board, err)
		}
		if r.OnState != nil {
			r.OnState(state)
		}
	}
	return nil
}

func (r HTTPRefresher) fetch(ctx context.Context, board int64) (*domain.BoardState, error) {
	endpoint := strings.TrimSuffix(r.BaseURL, "/") + "/api/v1/boards/" + strconv.FormatInt(board, 10) + "/state"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return nil, err
	}
	for k, vs := range r.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := httpClient(r.Client).Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}

	var state domain.BoardState
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return &state, nil
}

func httpClient(c *http.Client) *http.Client {
	if c != nil {
		return c
	}
	return http.DefaultClient
}

func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
}
