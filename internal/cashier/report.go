package cashier

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tablecash/cashier/internal/ledger"
	"github.com/tablecash/cashier/internal/model"
	"github.com/tablecash/cashier/internal/units"
)

const helpText = "**Poker Cashier Bot**\n\n" +
	"• `/start <minUSD> <maxUSD>`: Host starts a session and sets the per-tip deposit bounds (USD).\n" +
	"• Players send ETH tips within the allowed range; deposits are recorded automatically using the live ETH/USD rate.\n" +
	"• `/state`: View current standings, deposits, and outstanding pot balance.\n" +
	"• `/leave`: Mark yourself as away from the table (deposit stays recorded).\n" +
	"• `/finish`: Host closes the session when play ends (tips blocked).\n" +
	"• `/cashout <usd>`: After finish, report your final stack (USD). The bot converts to ETH and sends your payout."

const depositText = "Link-based deposits are not available yet. Please continue using tips to buy in for now."

const retryHint = " Run `/cashout` again to retry the transfer."

func mention(userID string) string {
	return "<@" + userID + ">"
}

func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04 UTC")
}

// ethUsd renders "ETH 0.01 (~USD 20)".
func ethUsd(wei decimal.Decimal, rate decimal.Decimal) string {
	return fmt.Sprintf("%s (~%s)", units.FormatEth(wei), units.FormatUsd(units.WeiToUsdCents(wei, rate)))
}

func formatRate(r model.EthUsdRate) string {
	return fmt.Sprintf("1 ETH = USD %s (source: %s, fetched %s)",
		units.FormatRateValue(r.Value, units.RateDisplayDecimals), r.Source, formatTime(r.FetchedAt))
}

// shortenHash keeps the first 10 and last 6 characters of long 0x hashes.
func shortenHash(hash string) string {
	if !strings.HasPrefix(hash, "0x") || len(hash) <= 18 {
		return hash
	}
	return hash[:10] + "…" + hash[len(hash)-6:]
}

func startReport(s *model.Session) string {
	return fmt.Sprintf("Started a new poker session. Accepted deposit per tip: %s to %s.\n\n%s\n\n"+
		"Tip the bot within the allowed range to sit down or add to your stack.",
		units.FormatUsd(s.MinDepositUsdCents), units.FormatUsd(s.MaxDepositUsdCents), formatRate(s.ExchangeRate))
}

func tipReport(userID string, amountWei decimal.Decimal, res ledger.TipResult) string {
	switch res.Outcome {
	case ledger.TipNoSession:
		return mention(userID) + " tipped, but no poker session is active. Start one with `/start <minUSD> <maxUSD>` to track deposits."
	case ledger.TipSessionFinished:
		return mention(userID) + " tipped, but the session is finished. Hold on to your chips until a new session begins."
	case ledger.TipOutOfRange:
		return fmt.Sprintf("%s sent %s (~%s), which is outside the allowed range (%s - %s). "+
			"Tip not applied. Please send an amount within the limits.",
			mention(userID), units.FormatEth(amountWei), units.FormatUsd(res.AmountUsdCents),
			units.FormatUsd(res.Session.MinDepositUsdCents), units.FormatUsd(res.Session.MaxDepositUsdCents))
	case ledger.TipAccepted:
		rate := res.Session.ExchangeRate.Value
		totals := res.Session.Totals()
		return fmt.Sprintf("%s deposited %s (~%s). Their total stack: %s. Pot: %s.",
			mention(userID), units.FormatEth(amountWei), units.FormatUsd(res.AmountUsdCents),
			ethUsd(res.Player.TotalDepositWei, rate), ethUsd(totals.DepositsWei, rate))
	}
	return ""
}

func finishReport(s *model.Session) string {
	return "The game is now finished. Each player, please run `/cashout <usd>` with the cash value of your chips so we can settle the pot.\n\n" +
		stateReport(s)
}

func netSummary(res ledger.CashoutResult) string {
	switch res.Net {
	case ledger.NetProfit:
		return fmt.Sprintf("Net result: profit %s (~%s).", units.FormatUsd(res.NetUsdCents), units.FormatEth(res.NetWei))
	case ledger.NetLoss:
		return fmt.Sprintf("Net result: loss %s (~%s).", units.FormatUsd(res.NetUsdCents.Neg()), units.FormatEth(res.NetWei.Neg()))
	}
	return "Net result: even."
}

func payoutNotice(txHash string, err error) string {
	if err != nil {
		return " Attempted tip transfer failed: " + err.Error() + "." + retryHint
	}
	if txHash != "" {
		return fmt.Sprintf(" Tip sent on-chain (tx: %s).", shortenHash(txHash))
	}
	return ""
}

func cashoutReport(userID string, res ledger.CashoutResult) string {
	if res.Retried {
		head := fmt.Sprintf("%s payout retry for %s (~%s)", mention(userID), units.FormatUsd(res.UsdCents), units.FormatEth(res.Wei))
		if res.PayoutErr != nil {
			return head + " failed: " + res.PayoutErr.Error() + "." + retryHint
		}
		return head + fmt.Sprintf(": tip sent on-chain (tx: %s).", shortenHash(res.TxHash))
	}

	rate := res.Session.ExchangeRate.Value
	outstanding := res.Session.Totals().OutstandingWei()
	return fmt.Sprintf("%s cashes out %s (~%s).\n\n%s%s\n\nOutstanding pot balance: %s (~%s).",
		mention(userID), units.FormatUsd(res.UsdCents), units.FormatEth(res.Wei),
		netSummary(res), payoutNotice(res.TxHash, res.PayoutErr),
		units.FormatUsd(units.WeiToUsdCents(outstanding, rate)), units.FormatEth(outstanding))
}

// stateReport renders the full session status shown by /state and /finish.
func stateReport(s *model.Session) string {
	rate := s.ExchangeRate.Value
	totals := s.Totals()

	status := "In progress"
	if s.Status == model.StatusFinished {
		status = "Finished"
	}

	lines := []string{
		"**Session Status:** " + status,
		fmt.Sprintf("• Started by %s on %s", mention(s.CreatedBy), formatTime(s.CreatedAt)),
		fmt.Sprintf("• Buy-in bounds: %s to %s (%s)",
			units.FormatUsd(s.MinDepositUsdCents), units.FormatUsd(s.MaxDepositUsdCents), formatRate(s.ExchangeRate)),
		fmt.Sprintf("• Players seated: %d", totals.PlayerCount),
		"• Total deposits: " + ethUsd(totals.DepositsWei, rate),
		"• Recorded cashouts: " + ethUsd(totals.CashoutsWei, rate),
		"• Outstanding balance: " + ethUsd(totals.OutstandingWei(), rate),
	}
	out := strings.Join(lines, "\n\n")

	if players := s.PlayersByJoinTime(); len(players) > 0 {
		playerLines := make([]string, len(players))
		for i, p := range players {
			playerLines[i] = playerLine(p, s)
		}
		out += "\n\n**Players:**\n\n" + strings.Join(playerLines, "\n\n")
	}

	if rejected := rejectedSection(s); rejected != "" {
		out += "\n\n" + rejected
	}
	return out
}

func playerLine(p model.PlayerState, s *model.Session) string {
	rate := s.ExchangeRate.Value
	finished := s.Status == model.StatusFinished
	depositUsd := units.WeiToUsdCents(p.TotalDepositWei, rate)

	var status string
	switch {
	case finished && p.HasCashout():
		status = "Settled"
	case finished:
		status = "Awaiting cashout"
	case p.IsActive:
		status = "Active"
	default:
		status = "Left table"
	}

	cashoutText := "N/A"
	netText := "Net: pending"
	if p.HasCashout() {
		cashoutUsd := p.CashoutUsdCents.Decimal
		if !p.CashoutUsdCents.Valid {
			cashoutUsd = units.WeiToUsdCents(p.CashoutWei.Decimal, rate)
		}
		cashoutText = fmt.Sprintf("%s (~%s)", units.FormatUsd(cashoutUsd), units.FormatEth(p.CashoutWei.Decimal))
		if p.PayoutPending() {
			cashoutText += ", payout failed"
		}

		netUsd := cashoutUsd.Sub(depositUsd)
		netWei := p.CashoutWei.Decimal.Sub(p.TotalDepositWei)
		switch {
		case netUsd.IsZero():
			netText = "Net: even"
		case netUsd.IsPositive():
			netText = fmt.Sprintf("Net: profit %s (~%s)", units.FormatUsd(netUsd), units.FormatEth(netWei))
		default:
			netText = fmt.Sprintf("Net: loss %s (~%s)", units.FormatUsd(netUsd.Neg()), units.FormatEth(netWei.Neg()))
		}
	} else if finished {
		cashoutText = "Pending"
	}

	return fmt.Sprintf("• %s | %s | Deposit: %s (~%s) | Cashout: %s | %s",
		mention(p.UserID), status, units.FormatEth(p.TotalDepositWei), units.FormatUsd(depositUsd), cashoutText, netText)
}

func rejectedSection(s *model.Session) string {
	tips := s.RejectedTipsByTime()
	if len(tips) == 0 {
		return ""
	}
	lines := make([]string, len(tips))
	for i, t := range tips {
		lines[i] = fmt.Sprintf("- %s | %s (~%s) | %s (%s)",
			mention(t.UserID), units.FormatEth(t.AmountWei), units.FormatUsd(t.AmountUsdCents), t.Reason, formatTime(t.ReceivedAt))
	}
	return "**Ignored Tips:**\n" + strings.Join(lines, "\n")
}
