package audio

import (
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/effects"
	"github.com/gopxl/beep/v2/speaker"
)

// SpeakerOutput 在系统音频设备上播放。所有 source 共用一个混音器，
// 排在上一个结束时刻的缓冲从紧接着的下一个采样开始。
type SpeakerOutput struct {
	format beep.Format
	mixer  *beep.Mixer
	played atomic.Int64
}

// NewSpeakerOutput 以给定延迟初始化扬声器
func NewSpeakerOutput(format beep.Format, latency time.Duration) (*SpeakerOutput, error) {
	if err := speaker.Init(format.SampleRate, format.SampleRate.N(latency)); err != nil {
		return nil, fmt.Errorf("failed to initialize speaker: %w", err)
	}
	o := &SpeakerOutput{format: format, mixer: &beep.Mixer{}}
	speaker.Play(beep.StreamerFunc(o.stream))
	return o, nil
}

func (o *SpeakerOutput) stream(samples [][2]float64) (int, bool) {
	n, _ := o.mixer.Stream(samples)
	for i := n; i < len(samples); i++ {
		samples[i] = [2]float64{}
	}
	o.played.Add(int64(len(samples)))
	return len(samples), true
}

func (o *SpeakerOutput) Now() time.Duration {
	return o.format.SampleRate.D(int(o.played.Load()))
}

func (o *SpeakerOutput) Schedule(buf *Buffer, at time.Duration, volume float64, onEnded func()) Source {
	src := &speakerSource{onEnded: onEnded, vol: buf.volumeStreamer(volume)}

	speaker.Lock()
	src.delay = o.format.SampleRate.N(at - o.Now())
	o.mixer.Add(src)
	speaker.Unlock()
	return src
}

// Close 停止设备播放
func (o *SpeakerOutput) Close() {
	speaker.Clear()
}

func (b *Buffer) volumeStreamer(level float64) *effects.Volume {
	v := &effects.Volume{Streamer: b.Streamer(), Base: 2}
	setVolume(v, level)
	return v
}

func setVolume(v *effects.Volume, level float64) {
	if level <= 0 {
		v.Silent = true
		return
	}
	v.Silent = false
	v.Volume = math.Log2(level)
}

// speakerSource 在开始时刻之前补静音，字段由 speaker 锁保护
type speakerSource struct {
	vol     *effects.Volume
	delay   int
	stopped bool
	ended   bool
	onEnded func()
}

func (s *speakerSource) Stream(samples [][2]float64) (int, bool) {
	if s.stopped || s.ended {
		return 0, false
	}
	n := 0
	for s.delay > 0 && n < len(samples) {
		samples[n] = [2]float64{}
		n++
		s.delay--
	}
	if n == len(samples) {
		return n, true
	}
	m, ok := s.vol.Stream(samples[n:])
	n += m
	if !ok || n < len(samples) {
		s.ended = true
		if s.onEnded != nil {
			go s.onEnded()
		}
	}
	return n, n > 0
}

func (s *speakerSource) Err() error {
	return nil
}

func (s *speakerSource) Stop() {
	speaker.Lock()
	s.stopped = true
	speaker.Unlock()
}

func (s *speakerSource) SetVolume(v float64) {
	speaker.Lock()
	setVolume(s.vol, v)
	speaker.Unlock()
}
