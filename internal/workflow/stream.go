package workflow

import (
	"sync"
	"sync/atomic"

	"github.com/wwwzy/PaperFast/internal/agent"
	"github.com/wwwzy/PaperFast/internal/trace"
)

// Event 是一次运行中的进度事件。
type Event = trace.Event

const streamBuffer = 64

// EventStream 依次产出一次运行的进度事件，结束后通过 Result 取得最终状态。
// 事件流是有限的，不能重新开始。
// 运行不会等待消费者：缓冲区满时新事件被丢弃，只调用 Result 的调用方无需读取 Events。
type EventStream struct {
	events  chan Event
	done    chan struct{}
	dropped atomic.Int64

	mu     sync.Mutex
	closed bool
	result agent.ConversationState
	err    error
}

func newEventStream() *EventStream {
	return &EventStream{
		events: make(chan Event, streamBuffer),
		done:   make(chan struct{}),
	}
}

// push 只会在 end 之前被调用。
func (s *EventStream) push(ev Event) {
	select {
	case s.events <- ev:
	default:
		s.dropped.Add(1)
	}
}

// Dropped 返回因缓冲区已满而丢弃的事件数。
func (s *EventStream) Dropped() int64 {
	return s.dropped.Load()
}

func (s *EventStream) end(result agent.ConversationState, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.result = result
	s.err = err
	close(s.events)
	close(s.done)
}

// Events 返回事件通道，运行结束后通道被关闭。
func (s *EventStream) Events() <-chan Event {
	return s.events
}

// Result 阻塞直到运行结束，可以被多次调用。
func (s *EventStream) Result() (agent.ConversationState, error) {
	<-s.done
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result, s.err
}

// Done 在运行结束后关闭。
func (s *EventStream) Done() <-chan struct{} {
	return s.done
}
