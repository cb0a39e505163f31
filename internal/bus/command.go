package bus

import (
	"errors"
	"sync"
)

// CommandType identifies a request sent to the coordinator.
type CommandType string

const (
	CommandSpeak       CommandType = "speak"
	CommandShapeKey    CommandType = "shape_key"
	CommandHeadGesture CommandType = "head_gesture"
	CommandJawTest     CommandType = "jaw_test"
	CommandStop        CommandType = "stop"
)

// Command is posted from any goroutine and executed on the owner's next tick.
type Command struct {
	Type CommandType `json:"type"`
	// Text is the utterance for speak.
	Text string `json:"text,omitempty"`
	// Name is the morph target or gesture name.
	Name string `json:"name,omitempty"`
}

func (c Command) Validate() error {
	switch c.Type {
	case CommandSpeak, CommandJawTest, CommandStop:
		return nil
	case CommandShapeKey, CommandHeadGesture:
		if c.Name == "" {
			return errors.New("command needs a name")
		}
		return nil
	}
	return ErrUnknownCommand
}

var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrQueueFull      = errors.New("command queue full")
)

// DefaultQueueSize bounds how many commands may wait between ticks.
const DefaultQueueSize = 64

// CommandQueue is a bounded multi-producer, single-consumer queue.
type CommandQueue struct {
	mu      sync.Mutex
	pending []Command
	limit   int
}

func NewCommandQueue(limit int) *CommandQueue {
	if limit <= 0 {
		limit = DefaultQueueSize
	}
	return &CommandQueue{limit: limit}
}

// Post enqueues cmd. It never blocks.
func (q *CommandQueue) Post(cmd Command) error {
	if err := cmd.Validate(); err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) >= q.limit {
		return ErrQueueFull
	}
	q.pending = append(q.pending, cmd)
	return nil
}

// Drain removes and returns everything queued, oldest first.
func (q *CommandQueue) Drain() []Command {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) == 0 {
		return nil
	}
	out := q.pending
	q.pending = nil
	return out
}

func (q *CommandQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
