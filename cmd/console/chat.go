package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/spf13/cobra"

	"github.com/ashureev/commanddeck/internal/session"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive console session",
	Long: `Connects to the server and sends each stdin line as a command.
Results, errors and notifications are printed as they arrive.`,
	Args: cobra.NoArgs,
	RunE: runChat,
}

type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

func runChat(cmd *cobra.Command, _ []string) error {
	tok, err := resolveToken()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	conn, resp, err := websocket.Dial(dialCtx, serverURL, &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{"Bearer " + tok}},
	})
	cancel()
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("dial %s: %w", serverURL, err)
	}
	defer func() { _ = conn.CloseNow() }()

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Connected. Type 'help' for commands, Ctrl-D to quit.")

	readErr := make(chan error, 1)
	go func() { readErr <- printEvents(ctx, conn, out) }()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(cmd.InOrStdin())
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return conn.Close(websocket.StatusNormalClosure, "bye")
		case err := <-readErr:
			return err
		case line, ok := <-lines:
			if !ok {
				return conn.Close(websocket.StatusNormalClosure, "bye")
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if err := send(ctx, conn, session.EventChatCommand, session.ChatCommand{
				Command:   line,
				Timestamp: time.Now().UnixMilli(),
			}); err != nil {
				return err
			}
		}
	}
}

func send(ctx context.Context, conn *websocket.Conn, event string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode %s: %w", event, err)
	}
	payload, err := json.Marshal(envelope{Type: event, Data: raw})
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
		return fmt.Errorf("send %s: %w", event, err)
	}
	return nil
}

func printEvents(ctx context.Context, conn *websocket.Conn, out io.Writer) error {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				fmt.Fprintln(out, "Connection closed by server.")
				return nil
			}
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}

		var msg envelope
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if line, ok := render(msg); ok {
			fmt.Fprintln(out, line)
		}
	}
}

// render formats the events worth showing in a terminal.
func render(msg envelope) (string, bool) {
	switch msg.Type {
	case session.EventAPIResponse:
		var r session.APIResponse
		if err := json.Unmarshal(msg.Data, &r); err != nil {
			return "", false
		}
		return fmt.Sprintf("[%s] %s", r.API, r.Result), true
	case session.EventCommandStatus:
		var s session.CommandStatus
		if err := json.Unmarshal(msg.Data, &s); err != nil || s.Status != session.StatusError {
			return "", false
		}
		return fmt.Sprintf("! %s", s.ErrorCode), true
	case session.EventUserTyping:
		var u session.UserTyping
		if err := json.Unmarshal(msg.Data, &u); err != nil || !u.IsTyping {
			return "", false
		}
		return fmt.Sprintf("… %s is typing", u.UserID), true
	case session.EventSystemNotification:
		var n session.SystemNotification
		if err := json.Unmarshal(msg.Data, &n); err != nil {
			return "", false
		}
		return "* " + n.Message, true
	case session.EventClearChatHistory:
		return "-- history cleared --", true
	}
	return "", false
}
