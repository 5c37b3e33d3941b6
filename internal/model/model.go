// Package model defines the core domain types shared across the cashier.
// All monetary values use shopspring/decimal, never float64.
//
// Amounts carry their unit in the field name: *Wei fields hold integer
// base units (18 implied decimals), *UsdCents fields hold integer cents
// (2 implied decimals) and EthUsdRate.Value holds the USD price of one ETH
// with 8 implied decimals.
package model

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of a session.
type Status string

const (
	StatusActive   Status = "active"
	StatusFinished Status = "finished"
)

// Rejected tip reasons.
const (
	ReasonSessionFinished = "Session finished"
	ReasonOutOfRange      = "Tip outside allowed range"
)

// EthUsdRate is the exchange rate frozen into a session at start time.
type EthUsdRate struct {
	Value     decimal.Decimal `json:"value"` // USD per ETH, scaled by 10^8
	FetchedAt time.Time       `json:"fetched_at"`
	Source    string          `json:"source"`
}

// PlayerState is one player's position in a session. Created on the first
// accepted tip and never deleted.
type PlayerState struct {
	UserID          string              `json:"user_id"`
	TotalDepositWei decimal.Decimal     `json:"total_deposit_wei"`
	CashoutWei      decimal.NullDecimal `json:"cashout_wei"`      // write-once per buy-in
	CashoutUsdCents decimal.NullDecimal `json:"cashout_usd_cents"`
	PayoutTxHash    string              `json:"payout_tx_hash,omitempty"`
	PayoutKey       string              `json:"payout_key,omitempty"` // idempotency key of the recorded cashout
	LastPayoutError string              `json:"last_payout_error,omitempty"`
	IsActive        bool                `json:"is_active"`
	JoinedAt        time.Time           `json:"joined_at"`
	LeftAt          time.Time           `json:"left_at"` // zero unless the player left
	LastActionAt    time.Time           `json:"last_action_at"`
}

// HasCashout reports whether a cashout has been recorded.
func (p PlayerState) HasCashout() bool {
	return p.CashoutWei.Valid
}

// PayoutPending reports whether a recorded cashout still owes a transfer.
func (p PlayerState) PayoutPending() bool {
	return p.CashoutWei.Valid && p.LastPayoutError != ""
}

// RejectedTip is an append-only audit record of a tip that did not apply.
type RejectedTip struct {
	ID             string          `json:"id"`
	UserID         string          `json:"user_id"`
	AmountWei      decimal.Decimal `json:"amount_wei"`
	AmountUsdCents decimal.Decimal `json:"amount_usd_cents"`
	ReceivedAt     time.Time       `json:"received_at"`
	Reason         string          `json:"reason"`
}

// Session is the cash game tracked for one channel.
type Session struct {
	ChannelID          string                 `json:"channel_id"`
	CreatedBy          string                 `json:"created_by"`
	CreatedAt          time.Time              `json:"created_at"`
	Status             Status                 `json:"status"`
	MinDepositUsdCents decimal.Decimal        `json:"min_deposit_usd_cents"`
	MaxDepositUsdCents decimal.Decimal        `json:"max_deposit_usd_cents"`
	ExchangeRate       EthUsdRate             `json:"exchange_rate"`
	Players            map[string]PlayerState `json:"players"`
	RejectedTips       []RejectedTip          `json:"rejected_tips"`
	FinishedAt         time.Time              `json:"finished_at"`
}

// Clone returns a deep copy. Mutations always work on a clone that is
// written back whole, so readers never observe a half-applied operation.
func (s *Session) Clone() *Session {
	c := *s
	c.Players = make(map[string]PlayerState, len(s.Players))
	for id, p := range s.Players {
		c.Players[id] = p
	}
	c.RejectedTips = make([]RejectedTip, len(s.RejectedTips))
	copy(c.RejectedTips, s.RejectedTips)
	return &c
}

// PlayersByJoinTime returns players ordered by join time, ascending.
// Ties are broken by user id so the order is deterministic.
func (s *Session) PlayersByJoinTime() []PlayerState {
	players := make([]PlayerState, 0, len(s.Players))
	for _, p := range s.Players {
		players = append(players, p)
	}
	sort.Slice(players, func(i, j int) bool {
		if players[i].JoinedAt.Equal(players[j].JoinedAt) {
			return players[i].UserID < players[j].UserID
		}
		return players[i].JoinedAt.Before(players[j].JoinedAt)
	})
	return players
}

// RejectedTipsByTime returns rejected tips ordered by receipt time.
func (s *Session) RejectedTipsByTime() []RejectedTip {
	tips := make([]RejectedTip, len(s.RejectedTips))
	copy(tips, s.RejectedTips)
	sort.SliceStable(tips, func(i, j int) bool {
		return tips[i].ReceivedAt.Before(tips[j].ReceivedAt)
	})
	return tips
}

// Totals aggregates deposits and cashouts across all players.
type Totals struct {
	DepositsWei decimal.Decimal `json:"deposits_wei"`
	CashoutsWei decimal.Decimal `json:"cashouts_wei"`
	PlayerCount int             `json:"player_count"`
}

// OutstandingWei is total deposits minus recorded cashouts. Negative when
// players cashed out more than was deposited.
func (t Totals) OutstandingWei() decimal.Decimal {
	return t.DepositsWei.Sub(t.CashoutsWei)
}

// Totals sums player deposits and recorded cashouts.
func (s *Session) Totals() Totals {
	t := Totals{
		DepositsWei: decimal.Zero,
		CashoutsWei: decimal.Zero,
		PlayerCount: len(s.Players),
	}
	for _, p := range s.Players {
		t.DepositsWei = t.DepositsWei.Add(p.TotalDepositWei)
		if p.CashoutWei.Valid {
			t.CashoutsWei = t.CashoutsWei.Add(p.CashoutWei.Decimal)
		}
	}
	return t
}

// Transfer is an outbound payout request handed to the payout transport.
// Attempts carrying the same IdempotencyKey pay out at most once.
type Transfer struct {
	UserID         string          `json:"user_id"`
	AmountWei      decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	ChannelID      string          `json:"channel_id"`
	MessageID      string          `json:"message_id"`
	IdempotencyKey string          `json:"-"`
}
