package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gosuda/boardsync/internal/client"
	"github.com/gosuda/boardsync/internal/domain"
	"github.com/gosuda/boardsync/internal/realtime"
)

func newWatchCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print change events for one or more boards",
		Long: `Connect to the server, subscribe to the given boards and print every
change event as one JSON line. Board snapshots loaded after each
(re)connection are summarised on stderr.

Examples:
  boardwatch watch --board 3 --name Alice
  BOARDWATCH_SERVER=https://boards.example.com boardwatch watch --board 3,4`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := watchConfig(v, cmd.OutOrStdout())
			if err != nil {
				return err
			}

			r, err := client.New(cfg)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			return r.Run(ctx)
		},
	}

	f := cmd.Flags()
	f.String("server", "http://localhost:8080", "server base URL")
	f.StringSlice("board", nil, "board ids to follow (repeatable or comma separated)")
	f.String("name", "", "display name sent with the handshake")
	f.String("connection-id", "", "connection id to resume")
	f.String("token", "", "bearer token used when loading board state")
	f.Duration("base-delay", 0, "first reconnect delay (default 500ms)")
	f.Duration("max-delay", 0, "reconnect delay cap (default 30s)")
	f.Float64("factor", 0, "reconnect delay growth factor (default 2)")
	f.Int("max-attempts", 0, "consecutive failed attempts before giving up (default 10)")
	f.Duration("ping-interval", 0, "client ping interval (default 20s)")
	f.Duration("sync-timeout", 0, "bound on post-handshake subscribe and refresh (default 15s)")
	return cmd
}

func watchConfig(v *viper.Viper, out io.Writer) (client.Config, error) {
	boards, err := parseBoards(v.GetStringSlice("board"))
	if err != nil {
		return client.Config{}, err
	}

	header := http.Header{}
	if token := v.GetString("token"); token != "" {
		header.Set("Authorization", "Bearer "+token)
	} else if name := v.GetString("name"); name != "" {
		header.Set("X-Display-Name", name)
	}

	server := v.GetString("server")
	enc := json.NewEncoder(out)

	return client.Config{
		BaseURL:      server,
		DisplayName:  v.GetString("name"),
		ConnectionID: v.GetString("connection-id"),
		Boards:       boards,
		BaseDelay:    v.GetDuration("base-delay"),
		MaxDelay:     v.GetDuration("max-delay"),
		Factor:       v.GetFloat64("factor"),
		MaxAttempts:  v.GetInt("max-attempts"),
		PingInterval: v.GetDuration("ping-interval"),
		SyncTimeout:  v.GetDuration("sync-timeout"),
		Refresher: client.HTTPRefresher{
			BaseURL: strings.Replace(strings.Replace(server, "ws://", "http://", 1), "wss://", "https://", 1),
			Header:  header,
			OnState: func(s *domain.BoardState) {
				log.Info().
					Int64("board_id", s.Board.ID).
					Str("name", s.Board.Name).
					Int("tickets", len(s.Tickets)).
					Int("comments", len(s.Comments)).
					Msg("board state loaded")
			},
		},
		OnEvent: func(f realtime.ChangeFrame) {
			if err := enc.Encode(f); err != nil {
				log.Warn().Err(err).Msg("write event")
			}
		},
		OnStateChange: func(from, to client.State) {
			ev := log.Info()
			if to == client.StateFailed {
				ev = log.Error()
			}
			ev.Str("from", from.String()).Str("to", to.String()).Msg("connection state")
		},
	}, nil
}

func parseBoards(values []string) ([]int64, error) {
	var boards []int64
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			id, err := strconv.ParseInt(part, 10, 64)
			if err != nil || id <= 0 {
				return nil, fmt.Errorf("invalid board id %q", part)
			}
			boards = append(boards, id)
		}
	}
	return boards, nil
}
