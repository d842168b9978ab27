package player

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"SliceFM/core/audio"
	"SliceFM/core/bridge"
	"SliceFM/core/loop"
	"SliceFM/core/slicecomm"
	"SliceFM/core/streamer"
	"SliceFM/model"
)

const sliceSec = 10

type fakeSource struct {
	onEnded func()
}

func (s *fakeSource) Stop()             {}
func (s *fakeSource) SetVolume(float64) {}

type fakeOutput struct {
	mu      sync.Mutex
	sources []*fakeSource
}

func (o *fakeOutput) Now() time.Duration { return 0 }

func (o *fakeOutput) Schedule(buf *audio.Buffer, at time.Duration, volume float64, onEnded func()) audio.Source {
	o.mu.Lock()
	defer o.mu.Unlock()
	src := &fakeSource{onEnded: onEnded}
	o.sources = append(o.sources, src)
	return src
}

func (o *fakeOutput) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.sources)
}

// endLast lets the most recently scheduled slice play to its end.
func (o *fakeOutput) endLast() {
	o.mu.Lock()
	src := o.sources[len(o.sources)-1]
	o.mu.Unlock()
	src.onEnded()
}

// fakeClient serves tracks of c.slices slices. Priced tracks are delivered
// only to funded pay ids; the others get a payment rejection.
type fakeClient struct {
	url      string
	infoErr  error
	price    int64
	slices   int
	provider string
	priced   map[int64]bool // nil prices every track

	mu     sync.Mutex
	funded map[string]bool
}

func (c *fakeClient) priceOf(trackID int64) int64 {
	if c.priced != nil && !c.priced[trackID] {
		return 0
	}
	return c.price
}

func (c *fakeClient) fund(payID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.funded == nil {
		c.funded = make(map[string]bool)
	}
	c.funded[payID] = true
}

func (c *fakeClient) meta(trackID int64, no int) *model.SliceMeta {
	return &model.SliceMeta{
		Mime:          "audio/wav",
		TrackID:       trackID,
		Info:          model.TrackInfo{Title: model.Tag(fmt.Sprintf("Track %d", trackID)), AlbumID: "alb1", Duration: float64(c.slices * sliceSec)},
		SliceNo:       no,
		SliceCount:    c.slices,
		SliceDuration: sliceSec,
		Provider:      c.provider,
		Accepted:      true,
		Remaining:     1000,
		Price:         c.priceOf(trackID),
		Collateral:    200,
	}
}

func (c *fakeClient) Slice(ctx context.Context, trackID int64, no int, payID string) (*slicecomm.Slice, error) {
	meta := c.meta(trackID, no)
	c.mu.Lock()
	funded := c.funded[payID]
	c.mu.Unlock()
	if meta.Price == 0 || funded {
		return &slicecomm.Slice{Meta: meta, Data: []byte{byte(no)}}, nil
	}
	meta.Remaining = 0
	if no < 0 {
		return &slicecomm.Slice{Meta: meta}, nil
	}
	meta.Accepted = false
	return &slicecomm.Slice{Meta: meta}, slicecomm.ErrPaymentRejected
}

func (c *fakeClient) TitleInfo(ctx context.Context, trackID int64) (*model.SliceMeta, error) {
	if c.infoErr != nil {
		return nil, c.infoErr
	}
	return c.meta(trackID, model.MetadataSlice), nil
}

func (c *fakeClient) CoverURL(albumID string) string {
	return c.url + "/cover/" + albumID
}

type fakeBridge struct {
	bridge.Absent
	mu       sync.Mutex
	streams  int
	calls    []string
	payErr   error
	pays     int
	channels []string
	onPay    func(channel string)
}

func (b *fakeBridge) record(call string) {
	b.mu.Lock()
	b.calls = append(b.calls, call)
	b.mu.Unlock()
}

func (b *fakeBridge) called(call string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range b.calls {
		if c == call {
			return true
		}
	}
	return false
}

func (b *fakeBridge) RegisterProvider(ctx context.Context, provider string, collateral int64, opts bridge.ProviderOptions) (bridge.ProviderRegistration, error) {
	return bridge.ProviderRegistration{ProviderID: "pid-" + provider, State: "active"}, nil
}

func (b *fakeBridge) ListChannels(ctx context.Context, providerID string) ([]string, error) {
	if b.channels != nil {
		return b.channels, nil
	}
	return []string{"ch1"}, nil
}

func (b *fakeBridge) RegisterStream(ctx context.Context, providerID string, ppm int64) (bridge.StreamRegistration, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.streams++
	return bridge.StreamRegistration{StreamID: fmt.Sprintf("s%d", b.streams), State: "registered"}, nil
}

func (b *fakeBridge) StartStream(ctx context.Context, streamID string) (string, error) {
	b.record("start " + streamID)
	return "playing", nil
}

func (b *fakeBridge) StopStream(ctx context.Context, streamID string) (string, error) {
	b.record("stop " + streamID)
	return "stopped", nil
}

func (b *fakeBridge) CloseStream(ctx context.Context, streamID string) (string, error) {
	b.record("close " + streamID)
	return "closed", nil
}

func (b *fakeBridge) PayStream(ctx context.Context, streamID string, amount int64) (bridge.ChannelInfo, error) {
	b.mu.Lock()
	b.pays++
	err := b.payErr
	b.mu.Unlock()
	if err != nil {
		return bridge.ChannelInfo{}, err
	}
	if b.onPay != nil {
		b.onPay("ch1")
	}
	return bridge.ChannelInfo{ChannelID: "ch1", Balance: 100}, nil
}

func (b *fakeBridge) payCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pays
}

var silence = audio.DecoderFunc(func(string, []byte) (*audio.Buffer, error) {
	return audio.Silence(sliceSec * time.Second), nil
})

type harness struct {
	t      *testing.T
	p      *Player
	out    *fakeOutput
	client *fakeClient
	ctx    context.Context
}

func newHarness(t *testing.T, b bridge.Bridge, tweaks ...func(*Options)) *harness {
	t.Helper()
	l := loop.New()
	go l.Run()
	t.Cleanup(l.Stop)

	opts := DefaultOptions()
	opts.InitDelayChange = time.Hour
	opts.InitDelayPlay = time.Hour
	opts.Streamer.ManageEvery = time.Hour
	for _, tweak := range tweaks {
		tweak(&opts)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	h := &harness{
		t:      t,
		out:    &fakeOutput{},
		client: &fakeClient{url: "http://srv", slices: 1, provider: "prov"},
		ctx:    ctx,
	}
	h.p = New(Config{
		Loop:    l,
		Bridge:  b,
		Output:  h.out,
		Decoder: silence,
		Dial:    func(string) Client { return h.client },
		Options: opts,
	})
	return h
}

func (h *harness) add(n int) {
	h.t.Helper()
	for i := 0; i < n; i++ {
		if _, err := h.p.AddToPlaylist(h.ctx, "http://srv", "http://pay", int64(i)); err != nil {
			h.t.Fatalf("add %d: %v", i, err)
		}
	}
}

func (h *harness) eventually(what string, cond func() bool) {
	h.t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		ok := false
		h.p.query(func() { ok = cond() })
		if ok {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	h.t.Fatalf("timed out waiting for %s", what)
}

func TestCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, 0},
		{ErrInvalidIndex, -1},
		{ErrEndOfPlaylist, -2},
		{ErrEmptyPlaylist, -3},
		{fmt.Errorf("wrapped: %w", ErrEmptyPlaylist), -3},
		{errors.New("other"), -1},
	}
	for _, tt := range tests {
		if got := Code(tt.err); got != tt.want {
			t.Errorf("Code(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestEmptyPlaylist(t *testing.T) {
	h := newHarness(t, &fakeBridge{})
	if err := h.p.Play(h.ctx, 0, 0); Code(err) != -3 {
		t.Fatalf("Play on empty playlist = %v, want ErrEmptyPlaylist", err)
	}
	if err := h.p.Next(h.ctx); !errors.Is(err, ErrEmptyPlaylist) {
		t.Fatalf("Next on empty playlist = %v", err)
	}
	if err := h.p.Stop(h.ctx); err != nil {
		t.Fatalf("Stop on empty playlist = %v", err)
	}
	if _, ok := h.p.Current(); ok {
		t.Fatal("Current on empty playlist reported a title")
	}
}

func TestAddToPlaylistInfoError(t *testing.T) {
	h := newHarness(t, &fakeBridge{})
	h.client.infoErr = errors.New("unreachable")
	if _, err := h.p.AddToPlaylist(h.ctx, "http://srv", "http://pay", 7); err == nil {
		t.Fatal("expected error")
	}
	if n := len(h.p.Playlist()); n != 0 {
		t.Fatalf("playlist length = %d, want 0", n)
	}
}

func TestInitFallsBackWithoutBridge(t *testing.T) {
	h := newHarness(t, bridge.Absent{})
	h.add(2)
	if err := h.p.InitNext(h.ctx, 5); err != nil {
		t.Fatal(err)
	}
	h.p.query(func() {
		for i, e := range h.p.playlist {
			if e.state != streamer.StateStopped {
				t.Errorf("entry %d state = %v", i, e.state)
			}
			if e.providerID != bridge.DummyProvider || e.streamID != bridge.DummyStream {
				t.Errorf("entry %d ids = %q %q", i, e.providerID, e.streamID)
			}
			if len(e.channels) != 1 || e.channels[0] != bridge.DummyChannel {
				t.Errorf("entry %d channels = %v", i, e.channels)
			}
		}
	})
	if err := h.p.Play(h.ctx, 0, 0); err != nil {
		t.Fatalf("play without bridge: %v", err)
	}
	if st := h.p.State(); st != streamer.StatePlaying {
		t.Fatalf("state = %v", st)
	}
}

func TestPlayNextAndEnd(t *testing.T) {
	b := &fakeBridge{}
	h := newHarness(t, b)
	h.add(2)

	if err := h.p.Play(h.ctx, 0, 0); err != nil {
		t.Fatal(err)
	}
	if st := h.p.State(); st != streamer.StatePlaying {
		t.Fatalf("state = %v", st)
	}
	if !b.called("start s1") {
		t.Fatal("bridge stream was not started")
	}
	if err := h.p.Next(h.ctx); err != nil {
		t.Fatal(err)
	}
	if idx := h.p.Index(); idx != 1 {
		t.Fatalf("index = %d, want 1", idx)
	}
	err := h.p.Next(h.ctx)
	if !errors.Is(err, ErrEndOfPlaylist) || Code(err) != -2 {
		t.Fatalf("Next at end = %v", err)
	}
	if st := h.p.State(); st != streamer.StateStopped {
		t.Fatalf("state after end = %v", st)
	}
	if err := h.p.Previous(h.ctx); err != nil {
		t.Fatal(err)
	}
	if idx := h.p.Index(); idx != 0 {
		t.Fatalf("index after previous = %d", idx)
	}
}

func TestRemovePlayingEntry(t *testing.T) {
	b := &fakeBridge{}
	h := newHarness(t, b)
	h.add(3)

	if err := h.p.Play(h.ctx, 0, 1); err != nil {
		t.Fatal(err)
	}
	if err := h.p.RemoveFromPlaylist(h.ctx, 1); err != nil {
		t.Fatal(err)
	}
	if n := len(h.p.Playlist()); n != 2 {
		t.Fatalf("playlist length = %d", n)
	}
	if idx := h.p.Index(); idx != 1 {
		t.Fatalf("index = %d, want 1", idx)
	}
	if st := h.p.State(); st != streamer.StateStopped {
		t.Fatalf("state = %v", st)
	}
	h.eventually("stream closed", func() bool { return b.called("close s1") })

	if err := h.p.Play(h.ctx, 0, 1); err != nil {
		t.Fatal(err)
	}
	if err := h.p.RemoveFromPlaylist(h.ctx, 1); err != nil {
		t.Fatal(err)
	}
	if idx := h.p.Index(); idx != 0 {
		t.Fatalf("index after removing last = %d, want 0", idx)
	}
	if err := h.p.RemoveFromPlaylist(h.ctx, 5); !errors.Is(err, ErrInvalidIndex) {
		t.Fatalf("remove out of range = %v", err)
	}
}

func TestMoveKeepsCurrent(t *testing.T) {
	h := newHarness(t, &fakeBridge{})
	h.add(3)
	h.p.query(func() { h.p.index = 1 })

	if err := h.p.MovePlaylistPosition(h.ctx, 0, 2); err != nil {
		t.Fatal(err)
	}
	if idx := h.p.Index(); idx != 0 {
		t.Fatalf("index = %d, want 0", idx)
	}
	titles := h.p.Playlist()
	if titles[0].TrackID != 1 || titles[2].TrackID != 0 {
		t.Fatalf("order = %d %d %d", titles[0].TrackID, titles[1].TrackID, titles[2].TrackID)
	}
	if err := h.p.MovePlaylistPosition(h.ctx, 0, 3); Code(err) != -1 {
		t.Fatalf("invalid move = %v", err)
	}
}

func TestNaturalEndAdvancesAndRepeats(t *testing.T) {
	h := newHarness(t, &fakeBridge{})
	h.add(2)

	if err := h.p.Play(h.ctx, 0, 0); err != nil {
		t.Fatal(err)
	}
	h.out.endLast()
	h.eventually("second title playing", func() bool {
		return h.p.index == 1 && h.p.state == streamer.StatePlaying && h.out.count() == 2
	})

	h.p.SetRepeat(RepeatAll)
	h.out.endLast()
	h.eventually("wrap to first title", func() bool {
		return h.p.index == 0 && h.p.state == streamer.StatePlaying && h.out.count() == 3
	})

	h.p.SetRepeat(RepeatOff)
	if err := h.p.Play(h.ctx, 0, 1); err != nil {
		t.Fatal(err)
	}
	h.out.endLast()
	h.eventually("playlist stopped", func() bool {
		return h.p.index == 1 && h.p.state == streamer.StateStopped
	})
}

func TestDropPlayedTitles(t *testing.T) {
	h := newHarness(t, &fakeBridge{})
	h.p.query(func() { h.p.opts.KeepPlayedTitle = false })
	h.add(3)

	if err := h.p.Play(h.ctx, 0, 2); err != nil {
		t.Fatal(err)
	}
	titles := h.p.Playlist()
	if len(titles) != 1 || titles[0].TrackID != 2 {
		t.Fatalf("playlist = %+v", titles)
	}
	if idx := h.p.Index(); idx != 0 {
		t.Fatalf("index = %d", idx)
	}
}

func TestCurrentAddsCover(t *testing.T) {
	h := newHarness(t, &fakeBridge{})
	h.add(1)
	if err := h.p.Play(h.ctx, 0, 0); err != nil {
		t.Fatal(err)
	}
	c, ok := h.p.Current()
	if !ok {
		t.Fatal("no current title")
	}
	if c.CoverURL != "http://srv/cover/alb1" {
		t.Fatalf("cover = %q", c.CoverURL)
	}
	if c.Title.Provider != "prov" || c.Status.State != streamer.StatePlaying {
		t.Fatalf("current = %+v", c)
	}
}

func TestSetNextStartTimeOnlyWhenStopped(t *testing.T) {
	h := newHarness(t, &fakeBridge{})
	h.add(1)
	if err := h.p.Play(h.ctx, 0, 0); err != nil {
		t.Fatal(err)
	}
	if err := h.p.SetNextStartTime(5 * time.Second); !errors.Is(err, ErrNotStopped) {
		t.Fatalf("while playing = %v", err)
	}
	if err := h.p.Stop(h.ctx); err != nil {
		t.Fatal(err)
	}
	if err := h.p.SetNextStartTime(5 * time.Second); err != nil {
		t.Fatalf("while stopped = %v", err)
	}
}

func TestPaymentFailureEvent(t *testing.T) {
	b := &fakeBridge{payErr: &bridge.RejectedError{Op: bridge.MsgPayStream, Code: bridge.CodeInsufficientFunds}}
	h := newHarness(t, b)
	h.add(1)
	if err := h.p.InitNext(h.ctx, 1); err != nil {
		t.Fatal(err)
	}

	events := make(chan Event, 8)
	h.p.Subscribe(func(ev Event) {
		if ev.Type == PaymentFailed {
			events <- ev
		}
	})
	for i := 0; i < 3; i++ {
		h.p.query(func() {
			e := h.p.playlist[0]
			if !h.p.paymentHandler(e, 10, e.streamID) {
				t.Error("payment not started")
			}
		})
	}
	select {
	case ev := <-events:
		if !bridge.Rejected(ev.Err, bridge.CodeInsufficientFunds) {
			t.Fatalf("event error = %v", ev.Err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no payment failure event")
	}
	h.eventually("failure counter reset", func() bool { return h.p.payFailures == 0 })
}

func TestPaymentHandlerRemovedEntry(t *testing.T) {
	h := newHarness(t, &fakeBridge{})
	h.add(1)
	if err := h.p.InitNext(h.ctx, 1); err != nil {
		t.Fatal(err)
	}
	var e *entry
	h.p.query(func() { e = h.p.playlist[0] })
	if err := h.p.RemoveFromPlaylist(h.ctx, 0); err != nil {
		t.Fatal(err)
	}
	h.p.query(func() {
		if h.p.paymentHandler(e, 10, "s1") {
			t.Error("payment started for removed entry")
		}
	})
}

func TestPlayClampsIndex(t *testing.T) {
	h := newHarness(t, &fakeBridge{})
	h.add(2)

	if err := h.p.Play(h.ctx, 0, 7); err != nil {
		t.Fatalf("play past the end: %v", err)
	}
	if idx := h.p.Index(); idx != 1 {
		t.Fatalf("index = %d, want 1", idx)
	}
	if err := h.p.Play(h.ctx, 0, -5); err != nil {
		t.Fatalf("play before the start: %v", err)
	}
	if idx := h.p.Index(); idx != 0 {
		t.Fatalf("index = %d, want 0", idx)
	}
	if st := h.p.State(); st != streamer.StatePlaying {
		t.Fatalf("state = %v", st)
	}
}

func TestSeekNegativeStartsFromBeginning(t *testing.T) {
	h := newHarness(t, &fakeBridge{})
	h.client.slices = 3
	h.add(1)

	pos := func() float64 {
		var v float64
		h.p.query(func() { v = h.p.playlist[0].streamer.Info().Pos })
		return v
	}
	if err := h.p.Play(h.ctx, 15*time.Second, 0); err != nil {
		t.Fatal(err)
	}
	if v := pos(); v != 15 {
		t.Fatalf("pos = %v, want 15", v)
	}
	if err := h.p.Seek(h.ctx, -10*time.Second); err != nil {
		t.Fatal(err)
	}
	if v := pos(); v != 0 {
		t.Fatalf("pos after seek(-10s) = %v, want 0", v)
	}
}

func TestZeroBalancePlayPaysThenPlays(t *testing.T) {
	b := &fakeBridge{}
	h := newHarness(t, b)
	h.client.price = 10
	b.onPay = h.client.fund
	h.add(1)

	if err := h.p.Play(h.ctx, 0, 0); err != nil {
		t.Fatalf("play: %v", err)
	}
	h.eventually("title playing", func() bool {
		return h.p.playlist[0].streamer.State() == streamer.StatePlaying
	})
	if n := b.payCount(); n != 1 {
		t.Fatalf("pay_stream calls = %d, want 1", n)
	}
	h.p.query(func() {
		s := h.p.playlist[0].streamer
		if info := s.Info(); info.Pos != 0 {
			t.Errorf("started at %v, want 0", info.Pos)
		}
		if ids := s.PayIDs(); len(ids) != 1 || ids[0] != "ch1" {
			t.Errorf("pay ids = %v", ids)
		}
	})
}

func TestRejectedChannelFallsBackToNext(t *testing.T) {
	b := &fakeBridge{channels: []string{"ch1", "ch2"}}
	h := newHarness(t, b)
	h.client.price = 10
	h.client.fund("ch2")
	h.add(1)

	if err := h.p.Play(h.ctx, 0, 0); err != nil {
		t.Fatalf("play: %v", err)
	}
	h.eventually("title playing", func() bool {
		return h.p.playlist[0].streamer.State() == streamer.StatePlaying
	})
	if n := b.payCount(); n != 0 {
		t.Fatalf("pay_stream calls = %d, want 0", n)
	}
	h.p.query(func() {
		if ids := h.p.playlist[0].streamer.PayIDs(); len(ids) != 1 || ids[0] != "ch2" {
			t.Errorf("pay ids = %v, want [ch2]", ids)
		}
	})
}

func TestStopCancelsPlayWaitingForPayment(t *testing.T) {
	b := &fakeBridge{payErr: &bridge.RejectedError{Op: bridge.MsgPayStream, Code: bridge.CodeInsufficientFunds}}
	h := newHarness(t, b, func(o *Options) { o.Streamer.PayRateLimit = 20 * time.Millisecond })
	h.client.price = 10
	h.client.priced = map[int64]bool{0: true}
	h.add(2)

	played := make(chan error, 1)
	go func() { played <- h.p.Play(h.ctx, 0, 0) }()
	deadline := time.Now().Add(3 * time.Second)
	for b.payCount() < 2 {
		if time.Now().After(deadline) {
			t.Fatal("payments were not retried")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := h.p.Stop(h.ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	select {
	case err := <-played:
		if !errors.Is(err, streamer.ErrSuperseded) {
			t.Fatalf("play = %v, want ErrSuperseded", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("stop did not finish the waiting play")
	}

	// one request may still be on its way to the bridge
	stopped := b.payCount()
	time.Sleep(200 * time.Millisecond)
	if n := b.payCount(); n > stopped+1 {
		t.Fatalf("pay_stream calls after stop: %d", n-stopped)
	}

	if err := h.p.Play(h.ctx, 0, 1); err != nil {
		t.Fatalf("play after stop: %v", err)
	}
	if idx := h.p.Index(); idx != 1 {
		t.Fatalf("index = %d, want 1", idx)
	}
	if st := h.p.State(); st != streamer.StatePlaying {
		t.Fatalf("state = %v", st)
	}
}
