package ui

import (
	"fmt"
	"strings"
	"sync"

	"github.com/bz888/studyhelper/internal/controller"
	"github.com/bz888/studyhelper/internal/conversation"
	"github.com/rivo/tview"
)

const timeFormat = "15:04"

// formatEvent renders the chat text an event adds. Events that only change controls
// render nothing.
func formatEvent(ev controller.Event) string {
	switch ev.Type {
	case controller.EventUserTurnAppended:
		return fmt.Sprintf("[red::]You:[-] [gray::]%s[-]\n%s\n\n", ev.Timestamp.Format(timeFormat), tview.Escape(ev.Text))
	case controller.EventAssistantTurnStarted:
		return "[green::]Bot:[-]\n"
	case controller.EventAssistantTurnDelta:
		return tview.Escape(ev.Text)
	case controller.EventAssistantTurnFinalized:
		if ev.Metrics == nil {
			return "\n\n"
		}
		return fmt.Sprintf("\n[gray::]%s[-]\n\n", tview.Escape(ev.Metrics.String()))
	case controller.EventExchangeFailed:
		return fmt.Sprintf("[red::]%s[-]\n\n", tview.Escape(ev.Text))
	case controller.EventHistoryReplaced:
		return renderHistory(ev.Turns)
	}
	return ""
}

// chatRenderer feeds formatEvent and holds back the tail of a streamed turn from its
// last unmatched '[' on, so a color tag split across deltas is escaped as a whole.
type chatRenderer struct {
	mu      sync.Mutex
	pending map[string]string
}

func newChatRenderer() *chatRenderer {
	return &chatRenderer{pending: make(map[string]string)}
}

func (r *chatRenderer) render(ev controller.Event) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch ev.Type {
	case controller.EventAssistantTurnDelta:
		text := r.pending[ev.PlaceholderID] + ev.Text
		delete(r.pending, ev.PlaceholderID)
		if i := strings.LastIndexByte(text, '['); i >= 0 && openTag(text[i+1:]) {
			r.pending[ev.PlaceholderID] = text[i:]
			text = text[:i]
		}
		return tview.Escape(text)
	case controller.EventAssistantTurnFinalized, controller.EventExchangeFailed:
		tail := r.pending[ev.PlaceholderID]
		delete(r.pending, ev.PlaceholderID)
		return tview.Escape(tail) + formatEvent(ev)
	case controller.EventHistoryReplaced:
		clear(r.pending)
	}
	return formatEvent(ev)
}

// openTag reports whether s, the text after a '[', can still turn into a tag once
// more text arrives.
func openTag(s string) bool {
	for _, c := range s {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case strings.ContainsRune("_,;: -.#\"", c):
		default:
			return false
		}
	}
	return true
}

// renderHistory draws a whole conversation, e.g. after a session was loaded. The
// system prompt is not shown.
func renderHistory(turns []conversation.Turn) string {
	var b strings.Builder
	for _, t := range turns {
		switch t.Role {
		case conversation.RoleUser:
			fmt.Fprintf(&b, "[red::]You:[-] [gray::]%s[-]\n%s\n\n", t.Timestamp.Format(timeFormat), tview.Escape(t.Content))
		case conversation.RoleAssistant:
			fmt.Fprintf(&b, "[green::]Bot:[-]\n%s\n", tview.Escape(t.Content))
			if t.Meta != "" {
				fmt.Fprintf(&b, "[gray::]%s[-]\n", tview.Escape(t.Meta))
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}

func headerText(title, model string) string {
	return fmt.Sprintf("[::b]%s[::-]  [black:yellow] %s [-:-]", tview.Escape(title), tview.Escape(model))
}

func statusText(c controller.Controls) string {
	switch {
	case c.StopEnabled:
		return "[yellow::]streaming, press Esc to stop[-]"
	case !c.InputEnabled:
		return "[yellow::]waiting for the model...[-]"
	default:
		return "[gray::]Enter to send, /help for commands[-]"
	}
}
