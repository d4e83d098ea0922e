package backend

import "fmt"

type Kind int

const (
	KindDelta Kind = iota + 1
	KindError
	KindDone
)

func (k Kind) String() string {
	switch k {
	case KindDelta:
		return "delta"
	case KindError:
		return "error"
	case KindDone:
		return "done"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Chunk is one value on the producer to consumer bridge. Text is the delta for
// KindDelta and the message for KindError.
type Chunk struct {
	Kind Kind
	Text string
}

func Delta(text string) Chunk {
	return Chunk{Kind: KindDelta, Text: text}
}

func Failure(message string) Chunk {
	return Chunk{Kind: KindError, Text: message}
}

func Done() Chunk {
	return Chunk{Kind: KindDone}
}
