// Package event decodes and validates inbound chat events. An event is
// either a slash command or a tip; nothing else reaches the cashier.
package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Event types carried in the envelope's "type" field.
const (
	TypeCommand = "command"
	TypeTip     = "tip"
)

// Supported slash commands.
const (
	CmdHelp    = "help"
	CmdStart   = "start"
	CmdDeposit = "deposit"
	CmdState   = "state"
	CmdLeave   = "leave"
	CmdFinish  = "finish"
	CmdCashout = "cashout"
)

var validCommands = map[string]bool{
	CmdHelp:    true,
	CmdStart:   true,
	CmdDeposit: true,
	CmdState:   true,
	CmdLeave:   true,
	CmdFinish:  true,
	CmdCashout: true,
}

// commandRegex matches: /{name} [args...]
// Example: /start 20 200
var commandRegex = regexp.MustCompile(`^/([A-Za-z]+)(?:\s+(.*))?$`)

var (
	ErrInvalidEvent   = errors.New("event: invalid event")
	ErrUnknownType    = errors.New("event: unsupported event type")
	ErrUnknownCommand = errors.New("event: unsupported command")
	ErrInvalidAmount  = errors.New("event: invalid tip amount")
	ErrInvalidAddress = errors.New("event: invalid address")
)

// NativeCurrency is the zero address used for the chain's native token.
var NativeCurrency = common.Address{}

// Event is a validated inbound event: *Command or *Tip.
type Event interface {
	Metadata() Meta
	isEvent()
}

// Meta is common to every event.
type Meta struct {
	ID        string `json:"event_id"`
	ChannelID string `json:"channel_id"`
	UserID    string `json:"user_id"`
	MessageID string `json:"message_id,omitempty"`
}

// Command is a slash command issued in a channel.
type Command struct {
	Meta
	Name string
	Args []string
}

func (c *Command) Metadata() Meta { return c.Meta }
func (*Command) isEvent()         {}

// Tip is a native-token transfer sent by a user to some receiver.
type Tip struct {
	Meta
	Receiver  common.Address
	Currency  common.Address
	AmountWei decimal.Decimal
}

func (t *Tip) Metadata() Meta { return t.Meta }
func (*Tip) isEvent()         {}

// AddressedTo reports whether the tip was sent to addr.
func (t *Tip) AddressedTo(addr common.Address) bool {
	return t.Receiver == addr
}

// IsNative reports whether the tip is in the chain's native token.
func (t *Tip) IsNative() bool {
	return t.Currency == NativeCurrency
}

// envelope is the wire form accepted by Decode.
type envelope struct {
	Type string `json:"type"`
	Meta

	// command
	Command string   `json:"command,omitempty"`
	Args    []string `json:"args,omitempty"`
	Text    string   `json:"text,omitempty"`

	// tip
	Receiver string `json:"receiver_address,omitempty"`
	Currency string `json:"currency,omitempty"`
	Amount   string `json:"amount,omitempty"`
}

// Decode parses and validates one JSON event envelope.
//
// Commands arrive either as {"command": "start", "args": ["20","200"]} or
// as raw text {"text": "/start 20 200"}. Tips carry the receiver address,
// an optional currency address (native token when empty) and an integer
// amount in wei.
func Decode(data []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if env.ChannelID == "" {
		return nil, fmt.Errorf("%w: channel_id is required", ErrInvalidEvent)
	}
	if env.UserID == "" {
		return nil, fmt.Errorf("%w: user_id is required", ErrInvalidEvent)
	}

	switch env.Type {
	case TypeCommand:
		return decodeCommand(env)
	case TypeTip:
		return decodeTip(env)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
}

func decodeCommand(env envelope) (*Command, error) {
	name := strings.ToLower(strings.TrimPrefix(env.Command, "/"))
	args := env.Args
	if name == "" && env.Text != "" {
		var err error
		name, args, err = ParseCommand(env.Text)
		if err != nil {
			return nil, err
		}
	}
	if !validCommands[name] {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, name)
	}
	return &Command{Meta: env.Meta, Name: name, Args: args}, nil
}

func decodeTip(env envelope) (*Tip, error) {
	receiver, err := ParseAddress(env.Receiver)
	if err != nil {
		return nil, fmt.Errorf("receiver_address: %w", err)
	}

	currency := NativeCurrency
	if env.Currency != "" {
		if currency, err = ParseAddress(env.Currency); err != nil {
			return nil, fmt.Errorf("currency: %w", err)
		}
	}

	amount, err := ParseWei(env.Amount)
	if err != nil {
		return nil, err
	}

	return &Tip{
		Meta:      env.Meta,
		Receiver:  receiver,
		Currency:  currency,
		AmountWei: amount,
	}, nil
}

// ParseCommand splits raw command text into its name and arguments.
// Format: /{name} [args...]
func ParseCommand(text string) (string, []string, error) {
	matches := commandRegex.FindStringSubmatch(strings.TrimSpace(text))
	if matches == nil {
		return "", nil, fmt.Errorf("%w: %q (expected /{command} [args...])", ErrUnknownCommand, text)
	}
	name := strings.ToLower(matches[1])
	if !validCommands[name] {
		return "", nil, fmt.Errorf("%w: %q", ErrUnknownCommand, name)
	}
	return name, strings.Fields(matches[2]), nil
}

// ParseAddress parses a hex address, case-insensitively.
func ParseAddress(raw string) (common.Address, error) {
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, raw)
	}
	return common.HexToAddress(raw), nil
}

// ParseWei parses an integer amount of wei. Sign is preserved; the ledger
// ignores non-positive tips.
func ParseWei(raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, fmt.Errorf("%w: amount is required", ErrInvalidAmount)
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrInvalidAmount, raw)
	}
	if !v.Equal(v.Truncate(0)) {
		return decimal.Zero, fmt.Errorf("%w: %s is not a whole number of wei", ErrInvalidAmount, raw)
	}
	return v, nil
}
