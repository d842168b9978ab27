package audio

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/flac"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/wav"
)

// Decoder 把切片数据解码为可播放的缓冲
type Decoder interface {
	Decode(mime string, data []byte) (*Buffer, error)
}

// DecoderFunc 函数适配为 Decoder
type DecoderFunc func(mime string, data []byte) (*Buffer, error)

func (f DecoderFunc) Decode(mime string, data []byte) (*Buffer, error) {
	return f(mime, data)
}

// BeepDecoder 解码 flac、mp3、wav 切片并重采样到 Format
type BeepDecoder struct {
	Format beep.Format
}

// NewBeepDecoder 返回输出 DefaultFormat 的解码器
func NewBeepDecoder() *BeepDecoder {
	return &BeepDecoder{Format: DefaultFormat}
}

func (d *BeepDecoder) Decode(mime string, data []byte) (*Buffer, error) {
	stream, format, err := decodeStream(mime, data)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	var s beep.Streamer = stream
	if format.SampleRate != d.Format.SampleRate {
		s = beep.Resample(4, format.SampleRate, d.Format.SampleRate, s)
	}
	buf := beep.NewBuffer(d.Format)
	buf.Append(s)
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("decode %s slice: %w", mime, err)
	}
	return NewBuffer(buf), nil
}

func decodeStream(mime string, data []byte) (beep.StreamSeekCloser, beep.Format, error) {
	mt := strings.ToLower(strings.TrimSpace(strings.SplitN(mime, ";", 2)[0]))
	r := bytes.NewReader(data)
	switch mt {
	case "audio/flac", "audio/x-flac":
		return flac.Decode(r)
	case "audio/mpeg", "audio/mp3":
		return mp3.Decode(io.NopCloser(r))
	case "audio/wav", "audio/x-wav", "audio/wave":
		return wav.Decode(r)
	}
	return nil, beep.Format{}, fmt.Errorf("unsupported slice mime type %q", mime)
}
