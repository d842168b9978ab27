package audio

import "time"

// Output 按排期时间播放缓冲的播放时钟。
// 缓冲完整播完时在输出自己的 goroutine 上调用 onEnded，被停止的 source 不会回调。
type Output interface {
	Now() time.Duration
	Schedule(buf *Buffer, at time.Duration, volume float64, onEnded func()) Source
}

// Source 一个已排期的缓冲
type Source interface {
	Stop()
	SetVolume(v float64)
}
