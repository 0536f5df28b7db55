package core

import "github.com/Swind/go-greenrt/internal/fifo"

// Message is a control signal sent to a scheduler's inbox.
type Message int

const (
	// Wake asks an idle scheduler to look for work.
	Wake Message = iota + 1
	// Shutdown asks a scheduler to drain and stop. Sending it more than
	// once is harmless.
	Shutdown
)

func (m Message) String() string {
	switch m {
	case Wake:
		return "Wake"
	case Shutdown:
		return "Shutdown"
	default:
		return "Unknown"
	}
}

// MessageQueue is a scheduler inbox. Send is safe from any goroutine;
// TryRecv is called by the owning scheduler only.
type MessageQueue struct {
	q *fifo.Queue[Message]
}

func NewMessageQueue() *MessageQueue {
	return &MessageQueue{q: fifo.New[Message]()}
}

func (mq *MessageQueue) Send(msg Message) {
	mq.q.Push(msg)
}

// TryRecv returns the oldest message without blocking.
func (mq *MessageQueue) TryRecv() (Message, bool) {
	return mq.q.Pop()
}

func (mq *MessageQueue) Len() int { return mq.q.Len() }
