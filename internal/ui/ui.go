package ui

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/bz888/studyhelper/internal/backend"
	"github.com/bz888/studyhelper/internal/controller"
	"github.com/bz888/studyhelper/internal/conversation"
	"github.com/bz888/studyhelper/internal/logger"
	"github.com/bz888/studyhelper/internal/store"
	"github.com/gdamore/tcell/v2"
	"github.com/pkg/errors"
	"github.com/rivo/tview"
)

// Session is the chat controller as seen by the terminal.
type Session interface {
	Send(ctx context.Context, text string) error
	Stop() bool
	Restore(turns []conversation.Turn) error
	Reset() error
	History() []conversation.Turn
}

// Target is the backend selection.
type Target interface {
	Model() string
	SetTarget(client backend.Client, model string)
	EnsureReady(ctx context.Context) backend.Readiness
}

// Catalog lists models and resolves their provider.
type Catalog interface {
	Refresh(ctx context.Context) ([]string, error)
	ProviderFor(model string) (backend.Client, error)
}

type View struct {
	app      *tview.Application
	pages    *tview.Pages
	mainFlex *tview.Flex
	header   *tview.TextView
	chat     *tview.TextView
	input    *tview.TextArea
	debug    *tview.TextView
	status   *tview.TextView
	title    string

	session Session
	target  Target
	catalog Catalog
	log     *logger.Logger
	ctx     context.Context

	debugLines chan string
	renderer   *chatRenderer

	mu           sync.Mutex
	controls     controller.Controls
	debugVisible bool
}

// New builds the widgets. The debug console can be handed to the logger before the
// session is bound.
func New(title string, dev bool) *View {
	v := &View{
		app:          tview.NewApplication(),
		title:        title,
		controls:     controller.Controls{InputEnabled: true},
		debugVisible: dev,
		ctx:          context.Background(),
		debugLines:   make(chan string, 256),
		renderer:     newChatRenderer(),
	}
	v.app.EnablePaste(true)
	v.app.EnableMouse(true)

	v.header = tview.NewTextView().SetDynamicColors(true)
	v.status = tview.NewTextView().SetDynamicColors(true)
	v.chat = initChatViewer()
	v.input = initChatInput()
	v.debug = initDebugConsole()

	subFlex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(v.header, 1, 0, false).
		AddItem(v.chat, 0, 1, false).
		AddItem(v.input, 8, 2, true).
		AddItem(v.status, 1, 0, false)
	v.mainFlex = tview.NewFlex().AddItem(subFlex, 0, 2, true)
	if dev {
		v.mainFlex.AddItem(v.debug, 0, 1, false)
	}
	v.pages = tview.NewPages().AddPage("main", v.mainFlex, true, true)

	v.status.SetText(statusText(v.controls))
	go v.pumpDebugLines()
	return v
}

func initChatViewer() *tview.TextView {
	textView := tview.NewTextView().
		SetDynamicColors(true).
		SetRegions(true).
		SetWordWrap(true)

	textView.SetTitle("Conversation").SetBorder(true)
	textView.SetScrollable(true)
	textView.ScrollToEnd()
	return textView
}

func initChatInput() *tview.TextArea {
	textArea := tview.NewTextArea()
	textArea.SetTitle("Question").SetBorder(true)
	return textArea
}

func initDebugConsole() *tview.TextView {
	console := tview.NewTextView().
		SetDynamicColors(false).
		SetWordWrap(true)

	console.SetTitle("Debugger").SetBorder(true)
	console.ScrollToEnd()
	return console
}

// DebugConsole is the log sink for dev mode. Lines are dropped while the console
// is backed up so logging never waits on the screen.
func (v *View) DebugConsole() io.Writer {
	return consoleWriter{lines: v.debugLines}
}

type consoleWriter struct {
	lines chan<- string
}

func (w consoleWriter) Write(p []byte) (int, error) {
	select {
	case w.lines <- string(p):
	default:
	}
	return len(p), nil
}

func (v *View) pumpDebugLines() {
	for line := range v.debugLines {
		v.app.QueueUpdateDraw(func() {
			fmt.Fprint(v.debug, line)
		})
	}
}

func (v *View) Bind(session Session, target Target, catalog Catalog) {
	v.session = session
	v.target = target
	v.catalog = catalog
	v.log = logger.NewLogger("views")
	v.header.SetText(headerText(v.title, target.Model()))
}

// Emit implements controller.Sink. It must not be called from the UI goroutine.
func (v *View) Emit(ev controller.Event) {
	text := v.renderer.render(ev)
	v.app.QueueUpdateDraw(func() {
		switch ev.Type {
		case controller.EventHistoryReplaced:
			v.chat.Clear()
		case controller.EventControlsChanged:
			if ev.Controls != nil {
				v.applyControls(*ev.Controls)
			}
		case controller.EventBusyRejected:
			v.status.SetText("[red::]still answering, wait or press Esc[-]")
		}
		if text != "" {
			fmt.Fprint(v.chat, text)
			v.chat.ScrollToEnd()
		}
	})
}

func (v *View) applyControls(c controller.Controls) {
	v.mu.Lock()
	v.controls = c
	v.mu.Unlock()
	v.input.SetDisabled(!c.InputEnabled)
	v.status.SetText(statusText(c))
	if c.InputEnabled {
		v.app.SetFocus(v.input)
	}
}

func (v *View) stopEnabled() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.controls.StopEnabled
}

// notice writes a line into the chat from any goroutine except the UI goroutine.
func (v *View) notice(format string, args ...any) {
	text := fmt.Sprintf(format, args...)
	v.app.QueueUpdateDraw(func() {
		fmt.Fprintf(v.chat, "%s\n\n", text)
		v.chat.ScrollToEnd()
	})
}

// Run blocks until the user quits or ctx is done.
func (v *View) Run(ctx context.Context) error {
	if v.session == nil {
		return errors.New("view is not bound to a session")
	}
	v.ctx = ctx

	v.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if event.Key() == tcell.KeyESC && v.stopEnabled() {
			go v.session.Stop()
			return nil
		}
		return event
	})
	v.chat.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if event.Key() == tcell.KeyEnter {
			v.app.SetFocus(v.input)
		}
		return event
	})
	v.input.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyESC:
			if v.chat.GetText(false) != "" {
				v.app.SetFocus(v.chat)
			}
		case tcell.KeyEnter:
			content := v.input.GetText()
			v.input.SetText("", true)
			v.submit(content)
			return nil
		}
		return event
	})

	go func() {
		<-ctx.Done()
		v.app.Stop()
	}()
	go v.checkReady()

	return v.app.SetRoot(v.pages, true).SetFocus(v.input).Run()
}

func (v *View) checkReady() {
	model := v.target.Model()
	v.log.Info().Str("model", model).Msg("checking backend")
	if r := v.target.EnsureReady(v.ctx); !r.Ready {
		v.notice("[red::]Backend not ready: %s[-]", tview.Escape(r.Reason))
		return
	}
	v.app.QueueUpdateDraw(func() {
		v.status.SetText(fmt.Sprintf("[green::]%s is ready[-]", tview.Escape(model)))
	})
}

// submit runs on the UI goroutine; everything that emits events goes to a goroutine.
func (v *View) submit(content string) {
	cmd, ok := parseCommand(content)
	if !ok {
		go func() {
			err := v.session.Send(v.ctx, content)
			if err != nil && !errors.Is(err, controller.ErrEmptyInput) && !errors.Is(err, controller.ErrBusy) {
				v.log.Error().Err(err).Msg("send failed")
			}
		}()
		return
	}

	switch cmd.name {
	case "/help":
		fmt.Fprintf(v.chat, "[green::]Bot:[-]\n%s", helpText)
	case "/bye", "/quit", "/exit":
		fmt.Fprintf(v.chat, "Bye bye\n")
		v.app.Stop()
	case "/debug":
		v.toggleDebugConsole()
	case "/models":
		go v.showModels()
	case "/stop":
		go v.session.Stop()
	case "/reset":
		go func() {
			if err := v.session.Reset(); err != nil {
				v.notice("[red::]Cannot reset: %s[-]", err)
			}
		}()
	case "/save":
		go v.save(cmd.arg)
	case "/load":
		go v.load(cmd.arg)
	default:
		fmt.Fprintf(v.chat, "[red::]Unknown command %s, try /help[-]\n\n", tview.Escape(cmd.name))
	}
	v.chat.ScrollToEnd()
}

func (v *View) toggleDebugConsole() {
	v.mu.Lock()
	visible := !v.debugVisible
	v.debugVisible = visible
	v.mu.Unlock()

	if visible {
		v.mainFlex.AddItem(v.debug, 0, 1, false)
		fmt.Fprintf(v.chat, "Debug console enabled\n\n")
	} else {
		v.mainFlex.RemoveItem(v.debug)
		fmt.Fprintf(v.chat, "Debug console disabled\n\n")
	}
}

func (v *View) save(path string) {
	if path == "" {
		v.notice("[red::]Usage: /save <file>[-]")
		return
	}
	if err := store.Save(path, v.session.History()); err != nil {
		v.log.Error().Err(err).Str("path", path).Msg("save failed")
		v.notice("[red::]%s[-]", tview.Escape(err.Error()))
		return
	}
	v.notice("[gray::]Conversation saved to %s[-]", tview.Escape(path))
}

func (v *View) load(path string) {
	if path == "" {
		v.notice("[red::]Usage: /load <file>[-]")
		return
	}
	turns, err := store.Load[conversation.Turn](path)
	if err == nil && turns == nil {
		err = errors.Errorf("no conversation found at %s", path)
	}
	if err == nil {
		err = v.session.Restore(turns)
	}
	if err != nil {
		v.log.Error().Err(err).Str("path", path).Msg("load failed")
		v.notice("[red::]%s[-]", tview.Escape(err.Error()))
	}
}

func createModal(p tview.Primitive, width, height int) tview.Primitive {
	return tview.NewFlex().
		AddItem(nil, 0, 1, false).
		AddItem(tview.NewFlex().SetDirection(tview.FlexRow).
			AddItem(nil, 0, 1, false).
			AddItem(p, height, 1, true).
			AddItem(nil, 0, 1, false), width, 1, true).
		AddItem(nil, 0, 1, false)
}

func (v *View) showModels() {
	models, err := v.catalog.Refresh(v.ctx)
	if err != nil {
		v.notice("[red::]" + tview.Escape(err.Error()) + "[-]")
		return
	}
	if len(models) == 0 {
		v.notice("[red::]No models available[-]")
		return
	}

	current := v.target.Model()
	v.app.QueueUpdateDraw(func() {
		list := tview.NewList()
		list.SetBorder(true).SetTitle("Models")
		closeModal := func() {
			v.pages.RemovePage("models")
			v.app.SetFocus(v.input)
		}
		for i, model := range models {
			shortcut := rune(0)
			if i < 9 {
				shortcut = '1' + rune(i)
			}
			secondary := "LLM"
			if model == current {
				secondary = "Current LLM"
			}
			list.AddItem(model, secondary, shortcut, func() {
				closeModal()
				go v.selectModel(model)
			})
		}
		list.AddItem("Back", "", 'q', closeModal)
		v.pages.AddPage("models", createModal(list, 48, 14), true, true)
		v.app.SetFocus(list)
	})
}

func (v *View) selectModel(model string) {
	if model == v.target.Model() {
		v.notice("Already using model: %s", tview.Escape(model))
		return
	}
	client, err := v.catalog.ProviderFor(model)
	if err != nil {
		v.notice("[red::]%s[-]", tview.Escape(err.Error()))
		return
	}
	v.target.SetTarget(client, model)
	v.app.QueueUpdateDraw(func() {
		v.header.SetText(headerText(v.title, model))
	})
	v.notice("Using model: %s", tview.Escape(model))
	v.checkReady()
}
