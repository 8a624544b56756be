// Package linehost drives an agent from a stream of JSON-lines browser events
// and writes host commands (close a window, close a tab, warn) as JSON lines.
// It lets the agent run headless or under a thin browser bridge.
package linehost

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog"

	"github.com/tabwarden/tabwarden/internal/agent"
)

// Event types accepted on input.
const (
	EventTab          = "tab"
	EventNavigate     = "navigate"
	EventIncognito    = "incognito"
	EventWindowClosed = "window_closed"
	EventFlush        = "flush"
)

// Input is one line read from the browser bridge.
type Input struct {
	Type     string `json:"type"`
	TabID    int    `json:"tabId,omitempty"`
	WindowID int    `json:"windowId,omitempty"`
	URL      string `json:"url,omitempty"`
}

// Command is one line written back to the browser bridge.
type Command struct {
	Cmd      string `json:"cmd"`
	TabID    int    `json:"tabId,omitempty"`
	WindowID int    `json:"windowId,omitempty"`
	Message  string `json:"message,omitempty"`
	Decision string `json:"decision,omitempty"`
	URL      string `json:"url,omitempty"`
}

// Host implements agent.Host by emitting commands.
type Host struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func NewHost(w io.Writer) *Host {
	return &Host{enc: json.NewEncoder(w)}
}

func (h *Host) emit(c Command) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.enc.Encode(c)
}

func (h *Host) CloseWindow(_ context.Context, windowID int) error {
	return h.emit(Command{Cmd: "close_window", WindowID: windowID})
}

func (h *Host) CloseTab(_ context.Context, tabID int) error {
	return h.emit(Command{Cmd: "close_tab", TabID: tabID})
}

func (h *Host) Warn(_ context.Context, tabID int, message string) error {
	return h.emit(Command{Cmd: "warn", TabID: tabID, Message: message})
}

// Agent is the subset of *agent.Agent the replay loop drives.
type Agent interface {
	TabChanged(ctx context.Context, tab agent.Tab) error
	IncognitoWindowCreated(ctx context.Context, windowID int, rawURL string) error
	WindowClosed(ctx context.Context, windowID int) error
	Navigate(ctx context.Context, tabID int, rawURL string) agent.Decision
	Flush(ctx context.Context) error
}

// Replay feeds every line of r to a until EOF or ctx ends. Malformed lines
// are logged and skipped. A navigate event emits a decision command; an
// allowed navigation also becomes the active tab.
func Replay(ctx context.Context, r io.Reader, a Agent, h *Host, log zerolog.Logger) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	line := 0
	for sc.Scan() {
		line++
		if err := ctx.Err(); err != nil {
			return err
		}
		raw := sc.Bytes()
		if len(raw) == 0 {
			continue
		}
		var in Input
		if err := json.Unmarshal(raw, &in); err != nil {
			log.Warn().Err(err).Int("line", line).Msg("skipping malformed event")
			continue
		}
		if err := dispatch(ctx, in, a, h); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Warn().Err(err).Int("line", line).Str("type", in.Type).Msg("event not handled")
		}
	}
	return sc.Err()
}

func dispatch(ctx context.Context, in Input, a Agent, h *Host) error {
	switch in.Type {
	case EventTab:
		return a.TabChanged(ctx, agent.Tab{ID: in.TabID, WindowID: in.WindowID, URL: in.URL})
	case EventNavigate:
		d := a.Navigate(ctx, in.TabID, in.URL)
		if err := h.emit(Command{Cmd: "decision", TabID: in.TabID, URL: in.URL, Decision: d.String()}); err != nil {
			return err
		}
		if d == agent.Allow {
			return a.TabChanged(ctx, agent.Tab{ID: in.TabID, WindowID: in.WindowID, URL: in.URL})
		}
		return nil
	case EventIncognito:
		return a.IncognitoWindowCreated(ctx, in.WindowID, in.URL)
	case EventWindowClosed:
		return a.WindowClosed(ctx, in.WindowID)
	case EventFlush:
		return a.Flush(ctx)
	default:
		return fmt.Errorf("unknown event type %q", in.Type)
	}
}
