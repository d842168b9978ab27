package wallet

import (
	"context"
	"testing"

	"SliceFM/core/bridge"
	"SliceFM/core/ledger"
)

func TestStreamPayment(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewMemoryStore()
	w := New(store, Options{Budget: 300})

	reg, err := w.RegisterProvider(ctx, "prov", 200, bridge.ProviderOptions{URLPayServer: "http://pay"})
	if err != nil {
		t.Fatal(err)
	}
	again, _ := w.RegisterProvider(ctx, "prov", 200, bridge.ProviderOptions{})
	if again.ProviderID != reg.ProviderID {
		t.Fatal("second registration opened a new provider")
	}
	channels, err := w.ListChannels(ctx, reg.ProviderID)
	if err != nil || len(channels) != 1 {
		t.Fatalf("channels = %v, %v", channels, err)
	}
	if b, _ := store.Balance(ctx, channels[0]); b != 200 {
		t.Fatalf("collateral balance = %d", b)
	}

	s, err := w.RegisterStream(ctx, reg.ProviderID, 18)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.PayStream(ctx, s.StreamID, 50); !bridge.Rejected(err, bridge.CodeStreamNotPlaying) {
		t.Fatalf("pay before start = %v", err)
	}
	if _, err := w.StartStream(ctx, s.StreamID); err != nil {
		t.Fatal(err)
	}
	info, err := w.PayStream(ctx, s.StreamID, 50)
	if err != nil || info.ChannelID != channels[0] || info.Balance != 250 {
		t.Fatalf("pay = %+v, %v", info, err)
	}
	if _, err := w.PayStream(ctx, s.StreamID, 51); !bridge.Rejected(err, bridge.CodeInsufficientFunds) {
		t.Fatalf("over budget = %v", err)
	}
	st, err := w.Status(ctx, reg.ProviderID, s.StreamID)
	if err != nil || st.State != StreamPlaying || st.Budget != 50 {
		t.Fatalf("status = %+v, %v", st, err)
	}
	if _, err := w.CloseStream(ctx, s.StreamID); err != nil {
		t.Fatal(err)
	}
	if _, err := w.StopStream(ctx, s.StreamID); !bridge.Rejected(err, bridge.CodeUnknownStream) {
		t.Fatalf("stop closed stream = %v", err)
	}
}

func TestPrepayAndPayOnce(t *testing.T) {
	ctx := context.Background()
	w := New(ledger.NewMemoryStore(), Options{Budget: 100, Prepay: true})
	reg, _ := w.RegisterProvider(ctx, "prov", 10, bridge.ProviderOptions{})
	s, _ := w.RegisterStream(ctx, reg.ProviderID, 5)
	if _, err := w.PayStream(ctx, s.StreamID, 20); err != nil {
		t.Fatalf("prepay = %v", err)
	}
	tx, err := w.PayOnce(ctx, reg.ProviderID, 30)
	if err != nil || tx.Amount != 30 || tx.TxID == "" {
		t.Fatalf("pay once = %+v, %v", tx, err)
	}
	if _, err := w.PayOnce(ctx, "nobody", 1); !bridge.Rejected(err, bridge.CodeUnknownProvider) {
		t.Fatalf("unknown provider = %v", err)
	}
	if _, err := w.RegisterProvider(ctx, "big", 1000, bridge.ProviderOptions{}); !bridge.Rejected(err, bridge.CodeInsufficientFunds) {
		t.Fatalf("collateral over budget = %v", err)
	}
}

func TestDispatchThroughWallet(t *testing.T) {
	ctx := context.Background()
	w := New(ledger.NewMemoryStore(), Options{Budget: 100})
	reply := bridge.Dispatch(ctx, w, &bridge.Message{Type: bridge.MsgInitProvider, ReqID: "1", Provider: "prov", SuggestedCollateral: 10})
	if !reply.Accepted || reply.ProviderID == "" || reply.ReqID != "1" {
		t.Fatalf("reply = %+v", reply)
	}
	reply = bridge.Dispatch(ctx, w, &bridge.Message{Type: bridge.MsgPayStream, ReqID: "2", StreamID: "none", Amount: 1})
	if reply.Accepted || reply.Error != bridge.CodeUnknownStream {
		t.Fatalf("reply = %+v", reply)
	}
}

func TestRegisterStreamPriceCap(t *testing.T) {
	ctx := context.Background()
	w := New(ledger.NewMemoryStore(), Options{Budget: 100, MaxPPM: 60})
	reg, err := w.RegisterProvider(ctx, "prov", 10, bridge.ProviderOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.RegisterStream(ctx, reg.ProviderID, 61); !bridge.Rejected(err, bridge.CodePriceTooHigh) {
		t.Fatalf("over the cap = %v", err)
	}
	if _, err := w.RegisterStream(ctx, reg.ProviderID, -1); !bridge.Rejected(err, bridge.CodeInvalidRequest) {
		t.Fatalf("negative price = %v", err)
	}
	if _, err := w.RegisterStream(ctx, reg.ProviderID, 60); err != nil {
		t.Fatalf("at the cap = %v", err)
	}

	open := New(ledger.NewMemoryStore(), Options{Budget: 100})
	reg, _ = open.RegisterProvider(ctx, "prov", 10, bridge.ProviderOptions{})
	if _, err := open.RegisterStream(ctx, reg.ProviderID, 1_000_000); err != nil {
		t.Fatalf("no cap = %v", err)
	}
}
