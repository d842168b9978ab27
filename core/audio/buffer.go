// Package audio 解码切片数据并按输出时钟排期播放
package audio

import (
	"time"

	"github.com/gopxl/beep/v2"
)

// DefaultFormat 所有解码切片统一转换到的格式
var DefaultFormat = beep.Format{SampleRate: 44100, NumChannels: 2, Precision: 2}

// Buffer 一个已解码切片，可带起始偏移
type Buffer struct {
	format beep.Format
	data   *beep.Buffer
	from   int
	silent int // sample count of a silent buffer when data is nil
}

// NewBuffer 包装解码后的采样
func NewBuffer(data *beep.Buffer) *Buffer {
	return &Buffer{format: data.Format(), data: data}
}

// Silence 返回长度为 d 的静音，用于测试和缺失音频
func Silence(d time.Duration) *Buffer {
	return &Buffer{format: DefaultFormat, silent: DefaultFormat.SampleRate.N(d)}
}

func (b *Buffer) length() int {
	if b.data == nil {
		return b.silent
	}
	return b.data.Len()
}

// Format 采样格式
func (b *Buffer) Format() beep.Format {
	return b.format
}

// Duration 从起始偏移算起的可播放长度
func (b *Buffer) Duration() time.Duration {
	return b.format.SampleRate.D(b.length() - b.from)
}

// Full 整个切片的长度，与偏移无关
func (b *Buffer) Full() time.Duration {
	return b.format.SampleRate.D(b.length())
}

// From 返回从 offset 开始的视图，越界偏移返回完整切片
func (b *Buffer) From(offset time.Duration) *Buffer {
	n := b.format.SampleRate.N(offset)
	if n <= 0 || n >= b.length() {
		return &Buffer{format: b.format, data: b.data, silent: b.silent}
	}
	return &Buffer{format: b.format, data: b.data, from: n, silent: b.silent}
}

// Streamer 返回覆盖可播放采样的新 beep.Streamer
func (b *Buffer) Streamer() beep.Streamer {
	if b.data == nil {
		return beep.Silence(b.silent - b.from)
	}
	return b.data.Streamer(b.from, b.data.Len())
}
