package payout

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tablecash/cashier/internal/model"
)

func testTransfer() model.Transfer {
	return model.Transfer{
		UserID:    "u1",
		AmountWei: decimal.RequireFromString("12500000000000000"),
		Currency:  "0x0000000000000000000000000000000000000000",
		ChannelID: "c1",
		MessageID: "m1",
	}
}

func TestClient_SendTip(t *testing.T) {
	var got map[string]any
	var auth, key string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		key = r.Header.Get("Idempotency-Key")
		json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"tx_hash":"0xabc"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret", time.Second)
	hash, err := c.SendTip(context.Background(), testTransfer())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if hash != "0xabc" {
		t.Errorf("expected hash 0xabc, got %s", hash)
	}
	if auth != "Bearer secret" {
		t.Errorf("expected bearer token, got %q", auth)
	}
	if key == "" {
		t.Error("expected an idempotency key")
	}
	if got["amount"] != "12500000000000000" || got["user_id"] != "u1" || got["channel_id"] != "c1" {
		t.Errorf("unexpected request body %v", got)
	}
}

func TestClient_IdempotencyKey(t *testing.T) {
	var keys []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		keys = append(keys, r.Header.Get("Idempotency-Key"))
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", time.Second)
	ctx := context.Background()

	same := testTransfer()
	c.SendTip(ctx, same)
	c.SendTip(ctx, same)

	other := testTransfer()
	other.MessageID = "m2"
	c.SendTip(ctx, other)

	keyed := testTransfer()
	keyed.IdempotencyKey = "cashout-key-1"
	c.SendTip(ctx, keyed)
	keyed.MessageID = "m3"
	c.SendTip(ctx, keyed)

	if len(keys) != 5 {
		t.Fatalf("expected 5 requests, got %d", len(keys))
	}
	if keys[0] == "" || keys[0] != keys[1] {
		t.Errorf("identical transfers should share a key, got %q and %q", keys[0], keys[1])
	}
	if keys[2] == keys[0] {
		t.Error("different transfers should not share a key")
	}
	if keys[3] != "cashout-key-1" || keys[4] != "cashout-key-1" {
		t.Errorf("explicit key should be sent as is, got %q and %q", keys[3], keys[4])
	}
}

func TestClient_Rejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`{"error":"insufficient balance"}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "", time.Second).SendTip(context.Background(), testTransfer())
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("expected ErrRejected, got %v", err)
	}
	if want := "payout: gateway rejected transfer: insufficient balance"; err.Error() != want {
		t.Errorf("expected %q, got %q", want, err.Error())
	}
}

func TestClient_MissingHash(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "", time.Second).SendTip(context.Background(), testTransfer())
	if !errors.Is(err, ErrNoTxHash) {
		t.Fatalf("expected ErrNoTxHash, got %v", err)
	}
}

func TestClient_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "", 20*time.Millisecond).SendTip(context.Background(), testTransfer())
	if err == nil {
		t.Fatal("expected timeout error")
	}
}

func TestUnconfigured(t *testing.T) {
	_, err := Unconfigured{}.SendTip(context.Background(), testTransfer())
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}
