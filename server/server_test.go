package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"SliceFM/config"
	"SliceFM/core/bridge"
	"SliceFM/core/ledger"
	"SliceFM/core/payserver"
	"SliceFM/core/wallet"
	"SliceFM/model"
	"SliceFM/repository"
	"SliceFM/storage"
)

type fakePayments struct {
	balance  int64
	claimErr error
	balErr   error
	claims   []string
}

func (f *fakePayments) ClaimDeposit(ctx context.Context, payID string, amount int64) (ledger.Claim, error) {
	if f.claimErr != nil {
		return ledger.Claim{}, f.claimErr
	}
	f.claims = append(f.claims, payID)
	if f.balance < amount {
		return ledger.Claim{Accepted: false, Remaining: f.balance}, nil
	}
	f.balance -= amount
	return ledger.Claim{Accepted: true, Remaining: f.balance}, nil
}

func (f *fakePayments) WebBalance(ctx context.Context, payIDs ...string) (int64, error) {
	if f.balErr != nil {
		return 0, f.balErr
	}
	return f.balance, nil
}

func testTracks() []*model.Track {
	comment := "own comment"
	return []*model.Track{
		{
			Info:  model.TrackInfo{Title: "Paid", Album: "First", AlbumArtist: "Band", AlbumID: "alb1", Duration: 20},
			Slice: model.SliceInfo{Duration: 10, Length: 2, Price: 5},
			Dir:   "audio/alb1/", File: "paid.flac", Mime: "audio/flac",
		},
		{
			Info:  model.TrackInfo{Title: "Free", Album: "First", AlbumArtist: "Band", AlbumID: "alb1", Comment: &comment},
			Slice: model.SliceInfo{Duration: 10, Length: 1, Price: 0},
			Dir:   "audio/alb1/", File: "free.flac", Mime: "audio/flac",
		},
	}
}

func newTestServer(t *testing.T, pay Payments) *httptest.Server {
	t.Helper()
	cfg := &config.Config{
		ServerVersion:       "1.2.3",
		Provider:            "prov",
		SuggestedCollateral: 200,
		MaxListResults:      10,
		StdComment:          "std comment",
		AudioDir:            "audio",
		DefaultCover:        filepath.Join(t.TempDir(), "default.jpg"),
	}
	if err := os.WriteFile(cfg.DefaultCover, []byte("default"), 0o644); err != nil {
		t.Fatal(err)
	}
	slices := storage.MemoryStore{
		"audio/alb1/0.paid.flac": []byte("slice0"),
		"audio/alb1/1.paid.flac": []byte("slice1"),
		"audio/alb1/0.free.flac": []byte("free0"),
		"audio/alb1/folder.jpg":  []byte("cover"),
	}
	repo := repository.NewMemoryTrackRepository(testTracks())
	router := NewRouter(NewStreamHandler(cfg, repo, slices, pay), NewCoverHandler(slices, cfg.AudioDir, cfg.DefaultCover))
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func post(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func TestSanitizePayID(t *testing.T) {
	if got := sanitizePayID("ab-c d_1!"); got != "abcd_1" {
		t.Fatalf("sanitized = %q", got)
	}
}

func TestSlicePaid(t *testing.T) {
	pay := &fakePayments{balance: 7}
	srv := newTestServer(t, pay)

	resp := post(t, srv.URL+"/slice", model.SliceRequest{ID: 0, No: 1, PayID: "pay-1"})
	meta, err := model.ParseSliceMeta(resp.Header)
	if err != nil {
		t.Fatal(err)
	}
	if !meta.Accepted || meta.Remaining != 2 || meta.SliceNo != 1 || meta.SliceCount != 2 {
		t.Fatalf("meta = %+v", meta)
	}
	if body := readBody(t, resp); body != "slice1" {
		t.Fatalf("body = %q", body)
	}
	if len(pay.claims) != 1 || pay.claims[0] != "pay1" {
		t.Fatalf("claims = %v", pay.claims)
	}
	if resp.Header.Get(model.HeaderStreamComment) != "std comment" {
		t.Fatalf("comment = %q", resp.Header.Get(model.HeaderStreamComment))
	}
	if resp.Header.Get("Content-Type") != "audio/flac" {
		t.Fatalf("content type = %q", resp.Header.Get("Content-Type"))
	}

	// balance 2 < price 5
	resp = post(t, srv.URL+"/slice", model.SliceRequest{ID: 0, No: 0, PayID: "pay1"})
	meta, err = model.ParseSliceMeta(resp.Header)
	if err != nil {
		t.Fatal(err)
	}
	if meta.Accepted || meta.Remaining != 2 {
		t.Fatalf("meta = %+v", meta)
	}
	if body := readBody(t, resp); body != "" {
		t.Fatalf("rejected slice sent %d bytes", len(body))
	}
}

func TestSliceMetadataOnly(t *testing.T) {
	tests := []struct {
		name string
		no   int
	}{
		{"metadata", -1},
		{"below range", -5},
		{"beyond range", 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pay := &fakePayments{balance: 40}
			srv := newTestServer(t, pay)
			resp := post(t, srv.URL+"/slice", model.SliceRequest{ID: 0, No: tt.no, PayID: "p"})
			meta, err := model.ParseSliceMeta(resp.Header)
			if err != nil {
				t.Fatal(err)
			}
			if meta.SliceNo != -1 || !meta.Accepted || meta.Remaining != 40 {
				t.Fatalf("meta = %+v", meta)
			}
			if len(pay.claims) != 0 {
				t.Fatalf("metadata request claimed %v", pay.claims)
			}
			if body := readBody(t, resp); body != "" {
				t.Fatalf("metadata body = %q", body)
			}
		})
	}
}

func TestSliceFree(t *testing.T) {
	srv := newTestServer(t, &fakePayments{balErr: errors.New("down")})
	resp := post(t, srv.URL+"/slice", model.SliceRequest{ID: 1, No: 0, PayID: "p"})
	meta, err := model.ParseSliceMeta(resp.Header)
	if err != nil {
		t.Fatal(err)
	}
	if !meta.Accepted || meta.Remaining != 0 || meta.Price != 0 {
		t.Fatalf("meta = %+v", meta)
	}
	if resp.Header.Get(model.HeaderStreamComment) != "own comment" {
		t.Fatalf("comment = %q", resp.Header.Get(model.HeaderStreamComment))
	}
	if body := readBody(t, resp); body != "free0" {
		t.Fatalf("body = %q", body)
	}
}

func TestSliceErrors(t *testing.T) {
	tests := []struct {
		name string
		pay  *fakePayments
		req  model.SliceRequest
	}{
		{"unknown track", &fakePayments{}, model.SliceRequest{ID: 99, No: 0}},
		{"payserver down", &fakePayments{claimErr: errors.New("down")}, model.SliceRequest{ID: 0, No: 0, PayID: "p"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, tt.pay)
			resp := post(t, srv.URL+"/slice", tt.req)
			var out model.ErrorResponse
			if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
				t.Fatal(err)
			}
			if out.Accepted || out.Error != model.RequestError {
				t.Fatalf("response = %+v", out)
			}
		})
	}
}

func TestSliceInvalidBody(t *testing.T) {
	srv := newTestServer(t, &fakePayments{})
	resp, err := http.Post(srv.URL+"/slice", "application/json", strings.NewReader("{"))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body := readBody(t, resp); body != "" {
		t.Fatalf("body = %q", body)
	}
}

func TestInfoAndSearch(t *testing.T) {
	srv := newTestServer(t, &fakePayments{})

	var info model.InfoResponse
	if err := json.NewDecoder(post(t, srv.URL+"/info", struct{}{}).Body).Decode(&info); err != nil {
		t.Fatal(err)
	}
	want := model.InfoResponse{Accepted: true, Version: "1.2.3", Provider: "prov", MaxListResults: 10, SuggestedCollateral: 200}
	if info != want {
		t.Fatalf("info = %+v", info)
	}

	var titles []model.TrackDescriptor
	resp := post(t, srv.URL+"/search", model.SearchRequest{Type: model.SearchGeneralTitle, Title: []string{"fre"}})
	if err := json.NewDecoder(resp.Body).Decode(&titles); err != nil {
		t.Fatal(err)
	}
	if len(titles) != 1 || titles[0].ID != 1 {
		t.Fatalf("titles = %+v", titles)
	}

	var albums []model.Album
	resp = post(t, srv.URL+"/search", model.SearchRequest{Type: model.SearchAlbum, SearchString: "fir"})
	if err := json.NewDecoder(resp.Body).Decode(&albums); err != nil {
		t.Fatal(err)
	}
	if len(albums) != 1 {
		t.Fatalf("albums = %+v", albums)
	}

	var failed model.ErrorResponse
	resp = post(t, srv.URL+"/search", model.SearchRequest{Type: "bogus"})
	if err := json.NewDecoder(resp.Body).Decode(&failed); err != nil {
		t.Fatal(err)
	}
	if failed.Error != model.RequestError {
		t.Fatalf("bogus search = %+v", failed)
	}
}

func TestCover(t *testing.T) {
	srv := newTestServer(t, &fakePayments{})
	for albumID, want := range map[string]string{"alb1": "cover", "missing": "default"} {
		resp, err := http.Get(srv.URL + "/cover/" + albumID)
		if err != nil {
			t.Fatal(err)
		}
		body := readBody(t, resp)
		resp.Body.Close()
		if body != want {
			t.Errorf("cover %s = %q, want %q", albumID, body, want)
		}
	}
}

func TestCORSPreflight(t *testing.T) {
	srv := newTestServer(t, &fakePayments{})
	req, _ := http.NewRequest(http.MethodOptions, srv.URL+"/slice", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK || resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("preflight = %d %v", resp.StatusCode, resp.Header)
	}
}

func TestPayRouterEndToEnd(t *testing.T) {
	store := ledger.NewMemoryStore()
	secret := []byte("s3cret")
	w := wallet.New(store, wallet.Options{Budget: 1000, Prepay: true})
	srv := httptest.NewServer(NewPayRouter(payserver.NewHandler(store, secret), w))
	defer srv.Close()

	// unauthenticated ledger calls are refused
	resp, err := http.Post(srv.URL+"/payserv", "application/json", strings.NewReader(`{"action":"getWebBalance","payID":"x"}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	b := bridge.NewClient("ws"+strings.TrimPrefix(srv.URL, "http")+"/bridge", 5*time.Second)
	defer b.Close()
	ctx := context.Background()
	if err := b.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}
	reg, err := b.RegisterProvider(ctx, "prov", 200, bridge.ProviderOptions{})
	if err != nil {
		t.Fatalf("register provider: %v", err)
	}
	channels, err := b.ListChannels(ctx, reg.ProviderID)
	if err != nil || len(channels) != 1 {
		t.Fatalf("channels = %v, %v", channels, err)
	}
	stream, err := b.RegisterStream(ctx, reg.ProviderID, 30)
	if err != nil {
		t.Fatalf("register stream: %v", err)
	}
	if _, err := b.PayStream(ctx, stream.StreamID, 50); err != nil {
		t.Fatalf("pay stream: %v", err)
	}

	// the endpoint claims against the channel the wallet funded
	pay := payserver.NewClient(srv.URL+"/payserv", "prov", secret, time.Second)
	claim, err := pay.ClaimDeposit(ctx, channels[0], 40)
	if err != nil {
		t.Fatal(err)
	}
	if !claim.Accepted || claim.Remaining != 210 {
		t.Fatalf("claim = %+v", claim)
	}
	if _, err := b.PayStream(ctx, "nope", 10); !bridge.Rejected(err, bridge.CodeUnknownStream) {
		t.Fatalf("unknown stream err = %v", err)
	}
}
