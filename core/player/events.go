package player

import "SliceFM/core/streamer"

// EventType 播放器事件类型
type EventType int

const (
	PlaylistChanged EventType = iota
	StateChanged
	PaymentFailed
)

func (t EventType) String() string {
	switch t {
	case PlaylistChanged:
		return "playlist_changed"
	case StateChanged:
		return "state_changed"
	case PaymentFailed:
		return "payment_failed"
	}
	return "unknown"
}

// Event 在播放器循环上投递给订阅者，订阅者不能调用阻塞的 Player 方法
type Event struct {
	Type  EventType
	Index int
	State streamer.State
	Err   error
}

// Subscribe 订阅全部播放器事件
func (p *Player) Subscribe(fn func(Event)) {
	p.loop.Call(func() {
		p.subscribers = append(p.subscribers, fn)
	})
}

func (p *Player) emit(t EventType, err error) {
	ev := Event{Type: t, Index: p.index, State: p.state, Err: err}
	for _, fn := range p.subscribers {
		fn(ev)
	}
}
