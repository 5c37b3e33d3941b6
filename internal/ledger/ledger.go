// Package ledger is the session ledger: it owns the lifecycle state machine
// (active → finished), applies deposits and cashouts, and serialises every
// mutation of a channel's session behind a per-channel lock.
//
// Each mutating operation reads a copy of the session, validates, builds
// the next state and writes it back whole, all while holding the channel
// lock. Outbound calls (rate lookup, payout transfer) happen inside that
// critical section, so two operations on the same channel can never
// interleave and lose an update. Different channels never contend.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tablecash/cashier/internal/keylock"
	"github.com/tablecash/cashier/internal/metrics"
	"github.com/tablecash/cashier/internal/model"
	"github.com/tablecash/cashier/internal/store"
	"github.com/tablecash/cashier/internal/units"
)

var (
	ErrNoSession       = errors.New("ledger: no session for channel")
	ErrSessionActive   = errors.New("ledger: session already active")
	ErrNotActive       = errors.New("ledger: session is not active")
	ErrNotFinished     = errors.New("ledger: session is not finished")
	ErrAlreadyFinished = errors.New("ledger: session already finished")
	ErrNotHost         = errors.New("ledger: only the session creator can do this")
	ErrNotParticipant  = errors.New("ledger: player did not join this session")
	ErrAlreadyLeft     = errors.New("ledger: player already left the table")
	ErrCashoutRecorded = errors.New("ledger: cashout already recorded")
	ErrCashoutTooSmall = errors.New("ledger: cashout converts to zero wei")
	ErrNegativeAmount  = errors.New("ledger: amount must not be negative")
	ErrPayoutsPending  = errors.New("ledger: session has pending payouts")
)

// RateSource resolves the exchange rate frozen into a new session.
type RateSource interface {
	Resolve(ctx context.Context) (model.EthUsdRate, error)
}

// Payer sends a native-token transfer and returns its transaction hash.
type Payer interface {
	SendTip(ctx context.Context, transfer model.Transfer) (string, error)
}

// Ledger applies session operations. Construct with New.
type Ledger struct {
	store    store.Store
	locks    *keylock.Locker
	rates    RateSource
	payer    Payer
	echoTips bool
	now      func() time.Time
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithTipEcho enables or disables the transfer echoed back for every
// accepted tip. Enabled by default.
func WithTipEcho(enabled bool) Option {
	return func(l *Ledger) { l.echoTips = enabled }
}

// New creates a ledger over the given session table.
func New(st store.Store, rates RateSource, payer Payer, opts ...Option) *Ledger {
	l := &Ledger{
		store:    st,
		locks:    keylock.New(),
		rates:    rates,
		payer:    payer,
		echoTips: true,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// --- Reads ---

// GetSession returns a snapshot of the channel's session. It does not take
// the channel lock: the store only ever holds fully written states.
func (l *Ledger) GetSession(ctx context.Context, channelID string) (*model.Session, error) {
	return l.load(ctx, channelID)
}

// ListSessions enumerates all sessions for diagnostics.
func (l *Ledger) ListSessions(ctx context.Context) ([]model.Session, error) {
	return l.store.ListSessions(ctx)
}

// --- Start ---

// StartSession opens a new active session for the channel, replacing a
// finished one if present. The rate is resolved once, under the channel
// lock, and frozen for the session's lifetime.
func (l *Ledger) StartSession(ctx context.Context, channelID, hostID string, minUsdCents, maxUsdCents decimal.Decimal) (*model.Session, error) {
	defer metrics.ObserveOp("start", time.Now())

	unlock, err := l.locks.Lock(ctx, channelID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	existing, err := l.load(ctx, channelID)
	switch {
	case err == nil && existing.Status == model.StatusActive:
		return nil, ErrSessionActive
	case err != nil && !errors.Is(err, ErrNoSession):
		return nil, err
	}

	bounds, err := NewDepositBounds(minUsdCents, maxUsdCents)
	if err != nil {
		return nil, err
	}

	rate, err := l.rates.Resolve(ctx)
	if err != nil {
		return nil, fmt.Errorf("ledger: start session: %w", err)
	}

	session := &model.Session{
		ChannelID:          channelID,
		CreatedBy:          hostID,
		CreatedAt:          l.now(),
		Status:             model.StatusActive,
		MinDepositUsdCents: bounds.MinUsdCents,
		MaxDepositUsdCents: bounds.MaxUsdCents,
		ExchangeRate:       rate,
		Players:            make(map[string]model.PlayerState),
		RejectedTips:       []model.RejectedTip{},
	}
	if err := l.store.PutSession(ctx, session); err != nil {
		return nil, fmt.Errorf("ledger: save session: %w", err)
	}

	metrics.SessionsStarted.Inc()
	metrics.ActiveSessions.Inc()
	slog.Info("session started",
		"channel", channelID,
		"host", hostID,
		"min_usd_cents", bounds.MinUsdCents.String(),
		"max_usd_cents", bounds.MaxUsdCents.String(),
		"rate", rate.Value.String(),
		"rate_source", rate.Source,
	)
	return session, nil
}

// --- Tips ---

// TipOutcome classifies what happened to an inbound tip.
type TipOutcome string

const (
	TipIgnored         TipOutcome = "ignored"
	TipNoSession       TipOutcome = "no_session"
	TipSessionFinished TipOutcome = "session_finished"
	TipOutOfRange      TipOutcome = "out_of_range"
	TipAccepted        TipOutcome = "accepted"
)

// Tip is an inbound deposit already filtered to this bot's address.
type Tip struct {
	ChannelID string
	UserID    string
	MessageID string
	AmountWei decimal.Decimal
	Currency  string
}

// TipResult describes the effect of ApplyTip.
type TipResult struct {
	Outcome        TipOutcome
	AmountUsdCents decimal.Decimal
	Player         model.PlayerState
	Session        *model.Session // state after the tip; nil when no session
	EchoTxHash     string
	EchoErr        error
}

// ApplyTip records a deposit. Non-positive amounts are ignored. Tips to a
// finished session or outside the deposit bounds are appended to the
// rejected list and never touch player state. An accepted tip creates the
// player or adds to their deposit, re-opening their stake if a cashout was
// recorded. After the write-back an echo transfer is attempted; its outcome
// never affects the recorded deposit.
func (l *Ledger) ApplyTip(ctx context.Context, tip Tip) (TipResult, error) {
	if !tip.AmountWei.IsPositive() {
		metrics.TipsTotal.WithLabelValues(string(TipIgnored)).Inc()
		return TipResult{Outcome: TipIgnored}, nil
	}
	defer metrics.ObserveOp("tip", time.Now())

	unlock, err := l.locks.Lock(ctx, tip.ChannelID)
	if err != nil {
		return TipResult{}, err
	}
	defer unlock()

	session, err := l.load(ctx, tip.ChannelID)
	if errors.Is(err, ErrNoSession) {
		metrics.TipsTotal.WithLabelValues(string(TipNoSession)).Inc()
		return TipResult{Outcome: TipNoSession}, nil
	}
	if err != nil {
		return TipResult{}, err
	}

	usdCents := units.WeiToUsdCents(tip.AmountWei, session.ExchangeRate.Value)
	now := l.now()

	if session.Status != model.StatusActive {
		return l.rejectTip(ctx, session, tip, usdCents, now, TipSessionFinished, model.ReasonSessionFinished)
	}

	bounds := DepositBounds{MinUsdCents: session.MinDepositUsdCents, MaxUsdCents: session.MaxDepositUsdCents}
	if err := bounds.Check(usdCents); err != nil {
		return l.rejectTip(ctx, session, tip, usdCents, now, TipOutOfRange, model.ReasonOutOfRange)
	}

	player, ok := session.Players[tip.UserID]
	if !ok {
		player = model.PlayerState{
			UserID:          tip.UserID,
			TotalDepositWei: tip.AmountWei,
			JoinedAt:        now,
		}
	} else {
		player.TotalDepositWei = player.TotalDepositWei.Add(tip.AmountWei)
		player.LeftAt = time.Time{}
		player.CashoutWei = decimal.NullDecimal{}
		player.CashoutUsdCents = decimal.NullDecimal{}
		player.PayoutTxHash = ""
		player.PayoutKey = ""
		player.LastPayoutError = ""
	}
	player.IsActive = true
	player.LastActionAt = now
	session.Players[tip.UserID] = player

	if err := l.store.PutSession(ctx, session); err != nil {
		return TipResult{}, fmt.Errorf("ledger: save session: %w", err)
	}
	metrics.TipsTotal.WithLabelValues(string(TipAccepted)).Inc()
	slog.Info("tip accepted",
		"channel", tip.ChannelID,
		"user", tip.UserID,
		"amount_wei", tip.AmountWei.String(),
		"usd_cents", usdCents.String(),
		"total_deposit_wei", player.TotalDepositWei.String(),
	)

	result := TipResult{
		Outcome:        TipAccepted,
		AmountUsdCents: usdCents,
		Player:         player,
		Session:        session,
	}

	if l.echoTips {
		result.EchoTxHash, result.EchoErr = l.payer.SendTip(ctx, model.Transfer{
			UserID:    tip.UserID,
			AmountWei: tip.AmountWei,
			Currency:  tip.Currency,
			ChannelID: tip.ChannelID,
			MessageID: tip.MessageID,
		})
		if result.EchoErr != nil {
			metrics.PayoutFailures.WithLabelValues("echo").Inc()
			slog.Error("tip echo transfer failed",
				"channel", tip.ChannelID,
				"user", tip.UserID,
				"err", result.EchoErr,
			)
		}
	}
	return result, nil
}

func (l *Ledger) rejectTip(ctx context.Context, session *model.Session, tip Tip, usdCents decimal.Decimal, now time.Time, outcome TipOutcome, reason string) (TipResult, error) {
	session.RejectedTips = append(session.RejectedTips, model.RejectedTip{
		ID:             uuid.New().String(),
		UserID:         tip.UserID,
		AmountWei:      tip.AmountWei,
		AmountUsdCents: usdCents,
		ReceivedAt:     now,
		Reason:         reason,
	})
	if err := l.store.PutSession(ctx, session); err != nil {
		return TipResult{}, fmt.Errorf("ledger: save session: %w", err)
	}

	metrics.TipsTotal.WithLabelValues(string(outcome)).Inc()
	slog.Info("tip rejected",
		"channel", tip.ChannelID,
		"user", tip.UserID,
		"amount_wei", tip.AmountWei.String(),
		"usd_cents", usdCents.String(),
		"reason", reason,
	)
	return TipResult{
		Outcome:        outcome,
		AmountUsdCents: usdCents,
		Session:        session,
	}, nil
}

// --- Leave ---

// LeaveSession marks an active player as away. Their deposit stays
// recorded for settlement.
func (l *Ledger) LeaveSession(ctx context.Context, channelID, userID string) (model.PlayerState, error) {
	defer metrics.ObserveOp("leave", time.Now())

	unlock, err := l.locks.Lock(ctx, channelID)
	if err != nil {
		return model.PlayerState{}, err
	}
	defer unlock()

	session, err := l.load(ctx, channelID)
	if err != nil {
		return model.PlayerState{}, err
	}
	if session.Status != model.StatusActive {
		return model.PlayerState{}, ErrNotActive
	}

	player, ok := session.Players[userID]
	if !ok {
		return model.PlayerState{}, ErrNotParticipant
	}
	if !player.IsActive {
		return model.PlayerState{}, ErrAlreadyLeft
	}

	now := l.now()
	player.IsActive = false
	player.LeftAt = now
	player.LastActionAt = now
	session.Players[userID] = player

	if err := l.store.PutSession(ctx, session); err != nil {
		return model.PlayerState{}, fmt.Errorf("ledger: save session: %w", err)
	}
	slog.Info("player left table", "channel", channelID, "user", userID)
	return player, nil
}

// --- Finish ---

// FinishSession moves the session to finished. Only its creator may do so.
// Every player is marked inactive; deposits are untouched.
func (l *Ledger) FinishSession(ctx context.Context, channelID, hostID string) (*model.Session, error) {
	defer metrics.ObserveOp("finish", time.Now())

	unlock, err := l.locks.Lock(ctx, channelID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	session, err := l.load(ctx, channelID)
	if err != nil {
		return nil, err
	}
	if session.CreatedBy != hostID {
		return nil, ErrNotHost
	}
	if session.Status == model.StatusFinished {
		return nil, ErrAlreadyFinished
	}

	session.Status = model.StatusFinished
	session.FinishedAt = l.now()
	for id, p := range session.Players {
		p.IsActive = false
		session.Players[id] = p
	}

	if err := l.store.PutSession(ctx, session); err != nil {
		return nil, fmt.Errorf("ledger: save session: %w", err)
	}

	metrics.SessionsFinished.Inc()
	metrics.ActiveSessions.Dec()
	slog.Info("session finished", "channel", channelID, "players", len(session.Players))
	return session, nil
}

// --- Discard ---

// DiscardSession removes a finished session from the table. Active
// sessions and sessions with a failed payout still awaiting retry are
// kept.
func (l *Ledger) DiscardSession(ctx context.Context, channelID string) error {
	defer metrics.ObserveOp("discard", time.Now())

	unlock, err := l.locks.Lock(ctx, channelID)
	if err != nil {
		return err
	}
	defer unlock()

	session, err := l.load(ctx, channelID)
	if err != nil {
		return err
	}
	if session.Status == model.StatusActive {
		return ErrSessionActive
	}
	for _, p := range session.Players {
		if p.PayoutPending() {
			return ErrPayoutsPending
		}
	}

	if err := l.store.DeleteSession(ctx, channelID); err != nil {
		return fmt.Errorf("ledger: delete session: %w", err)
	}
	slog.Info("session discarded", "channel", channelID, "players", len(session.Players))
	return nil
}

// --- Cashout ---

// NetOutcome classifies a player's result.
type NetOutcome string

const (
	NetEven   NetOutcome = "even"
	NetProfit NetOutcome = "profit"
	NetLoss   NetOutcome = "loss"
)

// CashoutRequest is a player's final stack report.
type CashoutRequest struct {
	ChannelID string
	UserID    string
	UsdCents  decimal.Decimal
	MessageID string
}

// CashoutResult describes a recorded cashout and its transfer attempt.
type CashoutResult struct {
	Player      model.PlayerState
	UsdCents    decimal.Decimal
	Wei         decimal.Decimal
	NetUsdCents decimal.Decimal
	NetWei      decimal.Decimal
	Net         NetOutcome
	TxHash      string
	PayoutErr   error
	Retried     bool // transfer retry of an already recorded cashout
	Session     *model.Session
}

// Cashout records a player's final stack and pays it out.
//
// The session must be finished. A zero claim records a zero cashout without
// a transfer. The record is committed even when the transfer fails; the
// failure is kept in LastPayoutError and a later Cashout retries the
// transfer of the recorded amount without changing it. A player whose
// cashout is settled gets ErrCashoutRecorded.
func (l *Ledger) Cashout(ctx context.Context, req CashoutRequest) (CashoutResult, error) {
	defer metrics.ObserveOp("cashout", time.Now())

	if req.UsdCents.IsNegative() {
		metrics.CashoutsTotal.WithLabelValues("rejected").Inc()
		return CashoutResult{}, ErrNegativeAmount
	}

	unlock, err := l.locks.Lock(ctx, req.ChannelID)
	if err != nil {
		return CashoutResult{}, err
	}
	defer unlock()

	session, err := l.load(ctx, req.ChannelID)
	if err != nil {
		metrics.CashoutsTotal.WithLabelValues("rejected").Inc()
		return CashoutResult{}, err
	}
	if session.Status != model.StatusFinished {
		metrics.CashoutsTotal.WithLabelValues("rejected").Inc()
		return CashoutResult{}, ErrNotFinished
	}

	player, ok := session.Players[req.UserID]
	if !ok {
		metrics.CashoutsTotal.WithLabelValues("rejected").Inc()
		return CashoutResult{}, ErrNotParticipant
	}
	if player.PayoutPending() {
		return l.retryPayout(ctx, session, player, req)
	}
	if player.HasCashout() {
		metrics.CashoutsTotal.WithLabelValues("duplicate").Inc()
		return CashoutResult{}, ErrCashoutRecorded
	}

	rate := session.ExchangeRate.Value
	wei := units.UsdCentsToWei(req.UsdCents, rate)
	if req.UsdCents.IsPositive() && !wei.IsPositive() {
		metrics.CashoutsTotal.WithLabelValues("rejected").Inc()
		return CashoutResult{}, ErrCashoutTooSmall
	}

	result := newCashoutResult(player, req.UsdCents, wei, rate)

	// Retries reuse this key so the gateway pays the cashout at most once.
	key := ""
	if wei.IsPositive() {
		key = uuid.New().String()
		result.TxHash, result.PayoutErr = l.payer.SendTip(ctx, model.Transfer{
			UserID:         req.UserID,
			AmountWei:      wei,
			Currency:       NativeCurrency,
			ChannelID:      req.ChannelID,
			MessageID:      req.MessageID,
			IdempotencyKey: key,
		})
	}

	player.CashoutWei = decimal.NewNullDecimal(wei)
	player.CashoutUsdCents = decimal.NewNullDecimal(req.UsdCents)
	player.PayoutKey = key
	player.PayoutTxHash = result.TxHash
	player.LastPayoutError = ""
	if result.PayoutErr != nil {
		player.LastPayoutError = result.PayoutErr.Error()
	}
	player.IsActive = false
	player.LastActionAt = l.now()
	session.Players[req.UserID] = player

	if err := l.store.PutSession(ctx, session); err != nil {
		return CashoutResult{}, fmt.Errorf("ledger: save session: %w", err)
	}

	result.Player = player
	result.Session = session

	if result.PayoutErr != nil {
		metrics.CashoutsTotal.WithLabelValues("recorded_payout_failed").Inc()
		metrics.PayoutFailures.WithLabelValues("cashout").Inc()
		slog.Error("cashout payout failed",
			"channel", req.ChannelID,
			"user", req.UserID,
			"cashout_wei", wei.String(),
			"message_id", req.MessageID,
			"err", result.PayoutErr,
		)
	} else {
		metrics.CashoutsTotal.WithLabelValues("recorded").Inc()
		slog.Info("cashout recorded",
			"channel", req.ChannelID,
			"user", req.UserID,
			"cashout_usd_cents", req.UsdCents.String(),
			"cashout_wei", wei.String(),
			"tx", result.TxHash,
		)
	}
	return result, nil
}

// retryPayout re-sends the transfer for a cashout whose payout failed.
// The recorded amounts never change.
func (l *Ledger) retryPayout(ctx context.Context, session *model.Session, player model.PlayerState, req CashoutRequest) (CashoutResult, error) {
	wei := player.CashoutWei.Decimal
	result := newCashoutResult(player, player.CashoutUsdCents.Decimal, wei, session.ExchangeRate.Value)
	result.Retried = true

	result.TxHash, result.PayoutErr = l.payer.SendTip(ctx, model.Transfer{
		UserID:         player.UserID,
		AmountWei:      wei,
		Currency:       NativeCurrency,
		ChannelID:      req.ChannelID,
		MessageID:      req.MessageID,
		IdempotencyKey: player.PayoutKey,
	})

	if result.PayoutErr != nil {
		player.LastPayoutError = result.PayoutErr.Error()
	} else {
		player.LastPayoutError = ""
		player.PayoutTxHash = result.TxHash
	}
	player.LastActionAt = l.now()
	session.Players[player.UserID] = player

	if err := l.store.PutSession(ctx, session); err != nil {
		return CashoutResult{}, fmt.Errorf("ledger: save session: %w", err)
	}

	result.Player = player
	result.Session = session

	if result.PayoutErr != nil {
		metrics.CashoutsTotal.WithLabelValues("retry_failed").Inc()
		metrics.PayoutFailures.WithLabelValues("retry").Inc()
		slog.Error("cashout payout retry failed",
			"channel", req.ChannelID,
			"user", player.UserID,
			"cashout_wei", wei.String(),
			"err", result.PayoutErr,
		)
	} else {
		metrics.CashoutsTotal.WithLabelValues("retried").Inc()
		slog.Info("cashout payout retried",
			"channel", req.ChannelID,
			"user", player.UserID,
			"tx", result.TxHash,
		)
	}
	return result, nil
}

func newCashoutResult(player model.PlayerState, usdCents, wei, rate decimal.Decimal) CashoutResult {
	depositUsdCents := units.WeiToUsdCents(player.TotalDepositWei, rate)
	netUsd := usdCents.Sub(depositUsdCents)

	net := NetEven
	switch {
	case netUsd.IsPositive():
		net = NetProfit
	case netUsd.IsNegative():
		net = NetLoss
	}

	return CashoutResult{
		UsdCents:    usdCents,
		Wei:         wei,
		NetUsdCents: netUsd,
		NetWei:      wei.Sub(player.TotalDepositWei),
		Net:         net,
	}
}

// NativeCurrency is the currency id of the chain's native token.
const NativeCurrency = "0x0000000000000000000000000000000000000000"

func (l *Ledger) load(ctx context.Context, channelID string) (*model.Session, error) {
	session, err := l.store.GetSession(ctx, channelID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNoSession
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: load session: %w", err)
	}
	return session, nil
}
