package filter

import (
	"fmt"
	"time"
)

// MessageKind classifies a pipeline message.
type MessageKind int

const (
	MessageStatus MessageKind = iota
	MessageProgress
	MessageWarning
	MessageError
)

func (k MessageKind) String() string {
	switch k {
	case MessageStatus:
		return "status"
	case MessageProgress:
		return "progress"
	case MessageWarning:
		return "warning"
	case MessageError:
		return "error"
	default:
		return "unknown"
	}
}

// Message is emitted by filters and the pipeline itself. FilterIndex is -1
// for pipeline-level messages.
type Message struct {
	Kind        MessageKind `json:"kind"`
	FilterClass string      `json:"filter_class,omitempty"`
	FilterLabel string      `json:"filter_label,omitempty"`
	FilterIndex int         `json:"filter_index"`
	Text        string      `json:"text"`
	Code        int         `json:"code,omitempty"`
	Progress    int         `json:"progress,omitempty"`
	Time        time.Time   `json:"time"`
}

func (m Message) String() string {
	prefix := m.FilterLabel
	if m.FilterIndex >= 0 {
		prefix = fmt.Sprintf("[%d] %s", m.FilterIndex+1, m.FilterLabel)
	}
	switch m.Kind {
	case MessageError, MessageWarning:
		return fmt.Sprintf("%s %s (%d): %s", prefix, m.Kind, m.Code, m.Text)
	case MessageProgress:
		return fmt.Sprintf("%s %d%% %s", prefix, m.Progress, m.Text)
	default:
		return fmt.Sprintf("%s %s", prefix, m.Text)
	}
}

// Notifier receives messages. Implementations must not block for long; the
// pipeline implementation only enqueues.
type Notifier interface {
	Notify(m Message)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Message)

func (f NotifierFunc) Notify(m Message) { f(m) }
