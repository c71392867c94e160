package ws

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/gosuda/boardsync/internal/realtime"
)

const (
	maxDisplayNameLen  = 64
	maxConnectionIDLen = 128
)

var (
	errInvalidBoardID      = errors.New("board_id must be a positive integer")
	errInvalidConnectionID = errors.New("connection_id must be 1-128 characters of [A-Za-z0-9_-]")
	errDisplayNameTooLong  = fmt.Errorf("display_name must be at most %d characters", maxDisplayNameLen)

	connectionIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
)

// parseHandshake validates the query parameters of a websocket upgrade.
// Every parameter is optional.
func parseHandshake(q url.Values) (realtime.RegisterOptions, error) {
	var opts realtime.RegisterOptions

	if raw := strings.TrimSpace(q.Get("board_id")); raw != "" {
		board, err := parseBoardID(raw)
		if err != nil {
			return opts, err
		}
		opts.BoardID = board
	}

	if id := q.Get("connection_id"); id != "" {
		if len(id) > maxConnectionIDLen || !connectionIDPattern.MatchString(id) {
			return opts, errInvalidConnectionID
		}
		opts.ConnectionID = id
	}

	name := strings.TrimSpace(q.Get("display_name"))
	if utf8.RuneCountInString(name) > maxDisplayNameLen {
		return opts, errDisplayNameTooLong
	}
	opts.DisplayName = name

	return opts, nil
}

func parseBoardID(raw string) (int64, error) {
	board, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || board <= 0 {
		return 0, errInvalidBoardID
	}
	return board, nil
}
