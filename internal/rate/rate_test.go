package rate

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

type stubFeed struct {
	price decimal.Decimal
	err   error
	calls int32
	delay time.Duration
}

func (s *stubFeed) FetchUSD(ctx context.Context) (decimal.Decimal, error) {
	atomic.AddInt32(&s.calls, 1)
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return decimal.Zero, ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return decimal.Zero, err
	}
	return s.price, s.err
}

func static(t *testing.T, raw string) decimal.NullDecimal {
	t.Helper()
	v, err := ParseStatic(raw)
	if err != nil {
		t.Fatalf("parse static %q: %v", raw, err)
	}
	return v
}

func TestResolve_FeedFirst(t *testing.T) {
	r := NewResolver(&stubFeed{price: decimal.RequireFromString("2000")}, static(t, "1500"))
	rate, err := r.Resolve(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !rate.Value.Equal(decimal.RequireFromString("200000000000")) {
		t.Errorf("expected 200000000000, got %s", rate.Value)
	}
	if rate.Source != SourceFeed {
		t.Errorf("expected source %s, got %s", SourceFeed, rate.Source)
	}
	if rate.FetchedAt.IsZero() {
		t.Error("expected fetch time")
	}
}

func TestResolve_FeedRoundsHalfAway(t *testing.T) {
	r := NewResolver(&stubFeed{price: decimal.RequireFromString("3123.456789125")}, decimal.NullDecimal{})
	rate, err := r.Resolve(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !rate.Value.Equal(decimal.RequireFromString("312345678913")) {
		t.Errorf("expected 312345678913, got %s", rate.Value)
	}
}

func TestResolve_FallsBackToStatic(t *testing.T) {
	tests := []struct {
		name string
		feed Feed
	}{
		{"feed error", &stubFeed{err: errors.New("network down")}},
		{"feed price rounds to zero", &stubFeed{price: decimal.RequireFromString("0.000000001")}},
		{"no feed", nil},
	}
	for _, tt := range tests {
		r := NewResolver(tt.feed, static(t, "1850.5"))
		rate, err := r.Resolve(context.Background())
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tt.name, err)
		}
		if rate.Source != SourceStatic {
			t.Errorf("%s: expected static source, got %s", tt.name, rate.Source)
		}
		if !rate.Value.Equal(decimal.RequireFromString("185050000000")) {
			t.Errorf("%s: expected 185050000000, got %s", tt.name, rate.Value)
		}
	}
}

func TestResolve_Unavailable(t *testing.T) {
	r := NewResolver(&stubFeed{err: errors.New("boom")}, decimal.NullDecimal{})
	if _, err := r.Resolve(context.Background()); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestResolve_CoalescesConcurrentFetches(t *testing.T) {
	feed := &stubFeed{price: decimal.RequireFromString("2000"), delay: 50 * time.Millisecond}
	r := NewResolver(feed, decimal.NullDecimal{})

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.Resolve(context.Background()); err != nil {
				t.Errorf("resolve: %v", err)
			}
		}()
	}
	wg.Wait()

	if n := atomic.LoadInt32(&feed.calls); n >= 5 {
		t.Errorf("expected concurrent fetches to be shared, got %d calls", n)
	}
}

func TestParseStatic(t *testing.T) {
	if v, err := ParseStatic(""); err != nil || v.Valid {
		t.Errorf("empty value should be unset, got %v %v", v, err)
	}
	for _, raw := range []string{"0", "0.00", "abc", "-5", "1e3"} {
		if _, err := ParseStatic(raw); err == nil {
			t.Errorf("expected error for %q", raw)
		}
	}
	v, err := ParseStatic("2000.123456789")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !v.Decimal.Equal(decimal.RequireFromString("200012345678")) {
		t.Errorf("expected truncation to 8 decimals, got %s", v.Decimal)
	}
}

func TestCoinGeckoFeed(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		want    string
		wantErr error
	}{
		{"ok", http.StatusOK, `{"ethereum":{"usd":3456.78}}`, "3456.78", nil},
		{"server error", http.StatusInternalServerError, `{}`, "", ErrFeedStatus},
		{"missing price", http.StatusOK, `{"bitcoin":{"usd":1}}`, "", ErrFeedPayload},
		{"zero price", http.StatusOK, `{"ethereum":{"usd":0}}`, "", ErrFeedPayload},
		{"garbage", http.StatusOK, `not json`, "", ErrFeedPayload},
	}
	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
			w.Write([]byte(tt.body))
		}))

		price, err := NewCoinGeckoFeed(srv.URL, time.Second).FetchUSD(context.Background())
		srv.Close()

		if tt.wantErr != nil {
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("%s: expected %v, got %v", tt.name, tt.wantErr, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tt.name, err)
		}
		if !price.Equal(decimal.RequireFromString(tt.want)) {
			t.Errorf("%s: expected %s, got %s", tt.name, tt.want, price)
		}
	}
}

func TestResolve_SharedFetchOutlivesCancelledCaller(t *testing.T) {
	feed := &stubFeed{price: decimal.RequireFromString("2000"), delay: 50 * time.Millisecond}
	r := NewResolver(feed, static(t, "1500"))

	first, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		r.Resolve(first)
	}()

	// Join the in-flight fetch, then drop the caller that started it.
	time.Sleep(10 * time.Millisecond)
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	rate, err := r.Resolve(context.Background())
	wg.Wait()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rate.Source != SourceFeed {
		t.Errorf("expected the shared fetch to finish from the feed, got source %s", rate.Source)
	}
	if got := atomic.LoadInt32(&feed.calls); got != 1 {
		t.Errorf("expected one shared fetch, got %d", got)
	}
}
