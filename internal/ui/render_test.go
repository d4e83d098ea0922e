package ui

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bz888/studyhelper/internal/controller"
	"github.com/bz888/studyhelper/internal/conversation"
	"github.com/bz888/studyhelper/internal/metrics"
	"github.com/rivo/tview"
	"github.com/stretchr/testify/assert"
)

func TestFormatEvent(t *testing.T) {
	at := time.Date(2024, 5, 1, 14, 30, 0, 0, time.UTC)
	summary := metrics.Summary{Elapsed: 1200 * time.Millisecond, TokenCount: 2, FinishedAt: at}

	cases := []struct {
		name string
		ev   controller.Event
		want string
	}{
		{"user", controller.Event{Type: controller.EventUserTurnAppended, Text: "Hi", Timestamp: at}, "[red::]You:[-] [gray::]14:30[-]\nHi\n\n"},
		{"started", controller.Event{Type: controller.EventAssistantTurnStarted}, "[green::]Bot:[-]\n"},
		{"delta", controller.Event{Type: controller.EventAssistantTurnDelta, Text: "Hello"}, "Hello"},
		{"finalized", controller.Event{Type: controller.EventAssistantTurnFinalized, Metrics: &summary}, "\n[gray::]14:30 • ⏱ 1.2s • tkn 2[-]\n\n"},
		{"failed", controller.Event{Type: controller.EventExchangeFailed, Text: "offline"}, "[red::]offline[-]\n\n"},
		{"controls", controller.Event{Type: controller.EventControlsChanged, Controls: &controller.Controls{}}, ""},
		{"busy", controller.Event{Type: controller.EventBusyRejected}, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, formatEvent(tc.ev))
		})
	}
}

func TestFormatEventEscapesModelOutput(t *testing.T) {
	out := formatEvent(controller.Event{Type: controller.EventAssistantTurnDelta, Text: "a[red]b"})
	assert.NotEqual(t, "a[red]b", out)
	assert.Contains(t, out, "a[red")
}

func renderInto(r *chatRenderer, evs ...controller.Event) string {
	view := tview.NewTextView().SetDynamicColors(true)
	for _, ev := range evs {
		fmt.Fprint(view, r.render(ev))
	}
	return view.GetText(true)
}

func delta(text string) controller.Event {
	return controller.Event{Type: controller.EventAssistantTurnDelta, PlaceholderID: "p1", Text: text}
}

func TestRendererKeepsTagsSplitAcrossDeltas(t *testing.T) {
	r := newChatRenderer()
	out := renderInto(r, delta("x := arr"), delta("[i"), delta("] + m"), delta("[red"), delta("]"))
	assert.Equal(t, "x := arr[i] + m[red]", out)
	assert.Empty(t, r.pending)
}

func TestRendererFlushesOpenBracketOnFinalize(t *testing.T) {
	r := newChatRenderer()
	out := renderInto(r,
		delta("see ["),
		delta("note"),
		controller.Event{Type: controller.EventAssistantTurnFinalized, PlaceholderID: "p1"},
	)
	assert.Equal(t, "see [note", strings.TrimRight(out, "\n"))
	assert.Empty(t, r.pending)
}

func TestRendererDoesNotHoldPlainBrackets(t *testing.T) {
	r := newChatRenderer()
	assert.Equal(t, "a [b!", renderInto(r, delta("a [b!")))
	assert.Empty(t, r.pending)
}

func TestRenderHistory(t *testing.T) {
	at := time.Date(2024, 5, 1, 9, 5, 0, 0, time.UTC)
	answer := conversation.NewTurn(conversation.RoleAssistant, "Hello!", at)
	answer.Meta = "09:05 • ⏱ 0.4s • tkn 2"
	turns := []conversation.Turn{
		conversation.NewTurn(conversation.RoleSystem, "secret prompt", at),
		conversation.NewTurn(conversation.RoleUser, "Hi", at),
		answer,
	}

	out := renderHistory(turns)
	assert.NotContains(t, out, "secret prompt")
	assert.Equal(t, "[red::]You:[-] [gray::]09:05[-]\nHi\n\n[green::]Bot:[-]\nHello!\n[gray::]09:05 • ⏱ 0.4s • tkn 2[-]\n\n", out)

	replaced := formatEvent(controller.Event{Type: controller.EventHistoryReplaced, Turns: turns})
	assert.Equal(t, out, replaced)
	assert.Empty(t, renderHistory(nil))
}

func TestStatusText(t *testing.T) {
	assert.Contains(t, statusText(controller.Controls{StopEnabled: true}), "Esc")
	assert.Contains(t, statusText(controller.Controls{}), "waiting")
	assert.Contains(t, statusText(controller.Controls{InputEnabled: true}), "/help")
	assert.Contains(t, headerText("Study Helper", "llama3:8b"), "llama3:8b")
}
