package server

import (
	"context"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/bz888/studyhelper/internal/controller"
	"github.com/bz888/studyhelper/internal/conversation"
)

// Session is the chat controller shared by every connection.
type Session interface {
	Send(ctx context.Context, text string) error
	Stop() bool
	Restore(turns []conversation.Turn) error
	Reset() error
	History() []conversation.Turn
	State() controller.State
}

// Events is the subscription side of the event bus.
type Events interface {
	Subscribe(ctx context.Context) (<-chan *message.Message, error)
}

type Catalog interface {
	Refresh(ctx context.Context) ([]string, error)
}

// ChatRequest Request from client
type ChatRequest struct {
	Text string `json:"text"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type StatusResponse struct {
	Status string `json:"status"`
	State  string `json:"state"`
	Model  string `json:"model,omitempty"`
}

type StopResponse struct {
	Stopped bool `json:"stopped"`
}

// WSMessage is what websocket clients send.
type WSMessage struct {
	Action string `json:"action"`
	Text   string `json:"text,omitempty"`
}
