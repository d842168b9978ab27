package audio

import (
	"sync"
	"time"
)

// ClockOutput 不发声只计时，供无音频设备的客户端使用
type ClockOutput struct {
	start time.Time
}

// NewClockOutput 启动时钟
func NewClockOutput() *ClockOutput {
	return &ClockOutput{start: time.Now()}
}

func (o *ClockOutput) Now() time.Duration {
	return time.Since(o.start)
}

func (o *ClockOutput) Schedule(buf *Buffer, at time.Duration, volume float64, onEnded func()) Source {
	wait := at - o.Now()
	if wait < 0 {
		wait = 0
	}
	src := &clockSource{}
	src.timer = time.AfterFunc(wait+buf.Duration(), func() {
		src.mu.Lock()
		stopped := src.stopped
		src.stopped = true
		src.mu.Unlock()
		if !stopped && onEnded != nil {
			onEnded()
		}
	})
	return src
}

type clockSource struct {
	mu      sync.Mutex
	timer   *time.Timer
	stopped bool
}

func (s *clockSource) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	s.timer.Stop()
}

func (s *clockSource) SetVolume(float64) {}
