package audio

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/wav"
)

func within(got, want, tol time.Duration) bool {
	d := got - want
	if d < 0 {
		d = -d
	}
	return d <= tol
}

func TestBufferFrom(t *testing.T) {
	b := Silence(10 * time.Second)
	if !within(b.Duration(), 10*time.Second, time.Millisecond) {
		t.Fatalf("duration = %v", b.Duration())
	}
	v := b.From(4 * time.Second)
	if !within(v.Duration(), 6*time.Second, time.Millisecond) {
		t.Fatalf("offset duration = %v", v.Duration())
	}
	if !within(v.Full(), 10*time.Second, time.Millisecond) {
		t.Fatalf("full = %v", v.Full())
	}
	if !within(b.From(-time.Second).Duration(), 10*time.Second, time.Millisecond) {
		t.Fatal("negative offset should play the full slice")
	}
	if !within(b.From(11*time.Second).Duration(), 10*time.Second, time.Millisecond) {
		t.Fatal("offset past the end should play the full slice")
	}
}

func TestBeepDecoderWav(t *testing.T) {
	src := beep.Format{SampleRate: 22050, NumChannels: 1, Precision: 2}
	path := filepath.Join(t.TempDir(), "0.slice.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := wav.Encode(f, beep.Silence(src.SampleRate.N(100*time.Millisecond)), src); err != nil {
		t.Fatalf("encode: %v", err)
	}
	f.Close()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	buf, err := NewBeepDecoder().Decode("audio/wav", data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if buf.Format().SampleRate != DefaultFormat.SampleRate {
		t.Fatalf("not resampled: %v", buf.Format().SampleRate)
	}
	if !within(buf.Duration(), 100*time.Millisecond, 5*time.Millisecond) {
		t.Fatalf("decoded duration = %v", buf.Duration())
	}

	if _, err := NewBeepDecoder().Decode("video/mp4", data); err == nil {
		t.Fatal("unsupported mime should fail")
	}
}

func TestSpeakerSourceDelayAndEnd(t *testing.T) {
	ended := make(chan struct{})
	buf := &Buffer{format: DefaultFormat, silent: 10}
	src := &speakerSource{onEnded: func() { close(ended) }, delay: 5}
	src.vol = buf.volumeStreamer(1)

	samples := make([][2]float64, 8)
	n, ok := src.Stream(samples)
	if n != 8 || !ok {
		t.Fatalf("first chunk n=%d ok=%v", n, ok)
	}
	n, ok = src.Stream(samples)
	if n != 7 || !ok {
		t.Fatalf("second chunk n=%d ok=%v", n, ok)
	}
	select {
	case <-ended:
	case <-time.After(time.Second):
		t.Fatal("onEnded not called")
	}
	if n, ok := src.Stream(samples); n != 0 || ok {
		t.Fatal("ended source must drain")
	}
}

func TestSpeakerSourceStopSuppressesEnd(t *testing.T) {
	called := false
	src := &speakerSource{onEnded: func() { called = true }}
	src.vol = Silence(time.Millisecond).volumeStreamer(1)
	src.stopped = true
	if n, ok := src.Stream(make([][2]float64, 4)); n != 0 || ok {
		t.Fatal("stopped source must drain immediately")
	}
	time.Sleep(10 * time.Millisecond)
	if called {
		t.Fatal("stopped source reported end")
	}
}

func TestClockOutput(t *testing.T) {
	out := NewClockOutput()
	ended := make(chan time.Duration, 1)
	start := out.Now() + 20*time.Millisecond
	out.Schedule(Silence(30*time.Millisecond), start, 1, func() { ended <- out.Now() })
	select {
	case at := <-ended:
		if at < start+30*time.Millisecond {
			t.Fatalf("ended early at %v", at)
		}
	case <-time.After(time.Second):
		t.Fatal("source never ended")
	}

	fired := make(chan struct{}, 1)
	src := out.Schedule(Silence(20*time.Millisecond), out.Now(), 1, func() { fired <- struct{}{} })
	src.Stop()
	select {
	case <-fired:
		t.Fatal("stopped source ended")
	case <-time.After(60 * time.Millisecond):
	}
}
