// Package cashier turns inbound chat events into ledger operations and
// replies. Each slash command is parsed and validated here, applied
// through the ledger, and answered with one report to the channel.
package cashier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/tablecash/cashier/internal/dedup"
	"github.com/tablecash/cashier/internal/event"
	"github.com/tablecash/cashier/internal/ledger"
	"github.com/tablecash/cashier/internal/metrics"
	"github.com/tablecash/cashier/internal/model"
	"github.com/tablecash/cashier/internal/notify"
	"github.com/tablecash/cashier/internal/rate"
	"github.com/tablecash/cashier/internal/units"
)

// Service dispatches events for a single bot wallet.
type Service struct {
	ledger *ledger.Ledger
	seen   dedup.Store
	out    notify.Sink
	bot    common.Address
}

// NewService creates a cashier. Tips are only applied when sent to bot.
func NewService(l *ledger.Ledger, seen dedup.Store, out notify.Sink, bot common.Address) *Service {
	return &Service{
		ledger: l,
		seen:   seen,
		out:    out,
		bot:    bot,
	}
}

// Handle applies one event. It reports false when the event id was
// already seen and the event was skipped. An id is claimed before the
// event runs; when the event fails the claim is released so a
// redelivery is applied.
func (s *Service) Handle(ctx context.Context, ev event.Event) (bool, error) {
	meta := ev.Metadata()
	if meta.ID != "" {
		first, err := s.seen.MarkSeen(ctx, meta.ID)
		if err != nil {
			return false, err
		}
		if !first {
			metrics.DuplicateEvents.Inc()
			slog.Info("duplicate event skipped", "event_id", meta.ID, "channel", meta.ChannelID)
			return false, nil
		}
	}

	err := s.dispatch(ctx, ev)
	if err != nil && meta.ID != "" {
		if ferr := s.seen.Forget(ctx, meta.ID); ferr != nil {
			slog.Error("release event id failed", "event_id", meta.ID, "err", ferr)
		}
	}
	return err == nil, err
}

func (s *Service) dispatch(ctx context.Context, ev event.Event) error {
	switch e := ev.(type) {
	case *event.Command:
		s.HandleCommand(ctx, e)
		return nil
	case *event.Tip:
		return s.HandleTip(ctx, e)
	}
	return fmt.Errorf("cashier: unhandled event %T", ev)
}

type commandFunc func(ctx context.Context, cmd *event.Command) (string, error)

func (s *Service) commands() map[string]commandFunc {
	return map[string]commandFunc{
		event.CmdHelp:    func(context.Context, *event.Command) (string, error) { return helpText, nil },
		event.CmdDeposit: func(context.Context, *event.Command) (string, error) { return depositText, nil },
		event.CmdStart:   s.start,
		event.CmdState:   s.state,
		event.CmdLeave:   s.leave,
		event.CmdFinish:  s.finish,
		event.CmdCashout: s.cashout,
	}
}

// HandleCommand runs one slash command and sends its reply. Expected
// failures become fixed user-facing sentences; anything else, panics
// included, is reported as "Command failed: <msg>".
func (s *Service) HandleCommand(ctx context.Context, cmd *event.Command) {
	reply := s.runCommand(ctx, cmd)
	if reply == "" {
		return
	}
	s.send(ctx, cmd.ChannelID, reply)
}

func (s *Service) runCommand(ctx context.Context, cmd *event.Command) (reply string) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("command panicked", "command", cmd.Name, "channel", cmd.ChannelID, "panic", r)
			reply = fmt.Sprintf("Command failed: %v", r)
		}
	}()

	fn, ok := s.commands()[cmd.Name]
	if !ok {
		return "Command failed: unsupported command " + cmd.Name
	}
	reply, err := fn(ctx, cmd)
	if err != nil {
		return userMessage(cmd, err)
	}
	return reply
}

// HandleTip applies a tip addressed to the bot wallet and reports the
// outcome. Tips to other receivers and non-positive amounts are ignored
// without a reply.
func (s *Service) HandleTip(ctx context.Context, tip *event.Tip) error {
	if !tip.AddressedTo(s.bot) {
		slog.Debug("tip for another receiver ignored", "channel", tip.ChannelID, "receiver", tip.Receiver.Hex())
		return nil
	}

	res, err := s.ledger.ApplyTip(ctx, ledger.Tip{
		ChannelID: tip.ChannelID,
		UserID:    tip.UserID,
		MessageID: tip.MessageID,
		AmountWei: tip.AmountWei,
		Currency:  tip.Currency.Hex(),
	})
	if err != nil {
		slog.Error("apply tip failed", "channel", tip.ChannelID, "user", tip.UserID, "err", err)
		return fmt.Errorf("cashier: apply tip: %w", err)
	}

	if text := tipReport(tip.UserID, tip.AmountWei, res); text != "" {
		s.send(ctx, tip.ChannelID, text)
	}
	return nil
}

func (s *Service) send(ctx context.Context, channelID, text string) {
	if err := s.out.Send(ctx, channelID, text); err != nil {
		slog.Error("report delivery failed", "channel", channelID, "err", err)
	}
}

// --- Commands ---

func (s *Service) start(ctx context.Context, cmd *event.Command) (string, error) {
	if existing, err := s.ledger.GetSession(ctx, cmd.ChannelID); err == nil && existing.Status == model.StatusActive {
		return "", ledger.ErrSessionActive
	}
	if len(cmd.Args) < 2 {
		return "Usage: `/start <minUSD> <maxUSD>` (example: `/start 20 200`).", nil
	}

	minCents, err := units.ParseUsdAmount(cmd.Args[0])
	if err != nil {
		return "", err
	}
	maxCents, err := units.ParseUsdAmount(cmd.Args[1])
	if err != nil {
		return "", err
	}

	session, err := s.ledger.StartSession(ctx, cmd.ChannelID, cmd.UserID, minCents, maxCents)
	if err != nil {
		return "", err
	}
	return startReport(session), nil
}

func (s *Service) state(ctx context.Context, cmd *event.Command) (string, error) {
	session, err := s.ledger.GetSession(ctx, cmd.ChannelID)
	if err != nil {
		return "", err
	}
	return stateReport(session), nil
}

func (s *Service) leave(ctx context.Context, cmd *event.Command) (string, error) {
	if _, err := s.ledger.LeaveSession(ctx, cmd.ChannelID, cmd.UserID); err != nil {
		return "", err
	}
	return mention(cmd.UserID) + " left the table. Their deposit remains recorded for settlement.", nil
}

func (s *Service) finish(ctx context.Context, cmd *event.Command) (string, error) {
	session, err := s.ledger.FinishSession(ctx, cmd.ChannelID, cmd.UserID)
	if err != nil {
		return "", err
	}
	return finishReport(session), nil
}

func (s *Service) cashout(ctx context.Context, cmd *event.Command) (string, error) {
	session, err := s.ledger.GetSession(ctx, cmd.ChannelID)
	if err != nil {
		return "", err
	}

	// A pending payout is retried with the recorded amount, so no
	// argument is needed.
	pending := session.Players[cmd.UserID].PayoutPending()
	if len(cmd.Args) == 0 && !pending {
		return "Usage: `/cashout <usd>` (example: `/cashout 85` or `/cashout 83.25`).", nil
	}

	claim := decimal.Zero
	if len(cmd.Args) > 0 && !pending {
		if claim, err = units.ParseUsdAmount(cmd.Args[0]); err != nil {
			return "", err
		}
	}

	res, err := s.ledger.Cashout(ctx, ledger.CashoutRequest{
		ChannelID: cmd.ChannelID,
		UserID:    cmd.UserID,
		UsdCents:  claim,
		MessageID: cmd.MessageID,
	})
	if err != nil {
		return "", err
	}
	return cashoutReport(cmd.UserID, res), nil
}

// userMessage maps an error from a command to the sentence shown in chat.
func userMessage(cmd *event.Command, err error) string {
	switch {
	case errors.Is(err, ledger.ErrNoSession):
		switch cmd.Name {
		case event.CmdLeave:
			return "There is no active session to leave."
		case event.CmdFinish:
			return "No session to finish. Start one with `/start <minUSD> <maxUSD>`."
		case event.CmdCashout:
			return "No session found. Start a new one with `/start <minUSD> <maxUSD>`."
		default:
			return "No poker session has been started yet. Use `/start <minUSD> <maxUSD>` to begin one."
		}
	case errors.Is(err, ledger.ErrNotActive):
		return "There is no active session to leave."
	case errors.Is(err, ledger.ErrSessionActive):
		return "A poker session is already active. Use `/finish` before starting another."
	case errors.Is(err, units.ErrAmountRequired):
		return "Amount is required (example: 25 or 25.50)."
	case errors.Is(err, units.ErrInvalidUsdAmount):
		return "Use a USD amount with up to two decimals (example: 25 or 25.50)."
	case errors.Is(err, ledger.ErrMinNotPositive):
		return "Minimum deposit must be greater than zero USD."
	case errors.Is(err, ledger.ErrMaxBelowMin):
		return "Maximum deposit must be greater than or equal to the minimum deposit."
	case errors.Is(err, rate.ErrUnavailable):
		return "Unable to start session: Unable to resolve ETH/USD exchange rate. " +
			"Set ETH_USD_RATE env variable or enable outbound network access."
	case errors.Is(err, ledger.ErrNotParticipant):
		if cmd.Name == event.CmdLeave {
			return "You have not deposited into this session yet. Tip the bot within the allowed range to join."
		}
		return "You did not participate in this session, so there is nothing to cash out."
	case errors.Is(err, ledger.ErrAlreadyLeft):
		return "You already marked yourself as away from the table."
	case errors.Is(err, ledger.ErrNotHost):
		return mention(cmd.UserID) + ", only the session creator can finish the game."
	case errors.Is(err, ledger.ErrAlreadyFinished):
		return "This session is already finished. Players should run `/cashout <usd>` to record their payouts."
	case errors.Is(err, ledger.ErrNotFinished):
		return "The session is still in progress. Run `/cashout <usd>` after the host closes it with `/finish`."
	case errors.Is(err, ledger.ErrCashoutRecorded):
		return "Your cashout has already been recorded. Thank you!"
	case errors.Is(err, ledger.ErrCashoutTooSmall):
		return "That cashout is too small to convert into ETH at the session rate."
	case errors.Is(err, ledger.ErrNegativeAmount):
		return "Cashout amount must not be negative."
	}

	slog.Error("command failed", "command", cmd.Name, "channel", cmd.ChannelID, "user", cmd.UserID, "err", err)
	return "Command failed: " + err.Error()
}
