package event

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

const bot = "0x1111111111111111111111111111111111111111"

func TestDecode_CommandWithArgs(t *testing.T) {
	ev, err := Decode([]byte(`{"type":"command","event_id":"e1","channel_id":"c1","user_id":"u1","command":"start","args":["20","200"]}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cmd, ok := ev.(*Command)
	if !ok {
		t.Fatalf("expected *Command, got %T", ev)
	}
	if cmd.Name != CmdStart {
		t.Errorf("expected name=start, got %s", cmd.Name)
	}
	if len(cmd.Args) != 2 || cmd.Args[0] != "20" || cmd.Args[1] != "200" {
		t.Errorf("unexpected args %v", cmd.Args)
	}
	if m := ev.Metadata(); m.ID != "e1" || m.ChannelID != "c1" || m.UserID != "u1" {
		t.Errorf("unexpected meta %+v", m)
	}
}

func TestDecode_CommandFromText(t *testing.T) {
	ev, err := Decode([]byte(`{"type":"command","channel_id":"c1","user_id":"u1","text":"/Cashout  83.25 "}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cmd := ev.(*Command)
	if cmd.Name != CmdCashout {
		t.Errorf("expected name=cashout, got %s", cmd.Name)
	}
	if len(cmd.Args) != 1 || cmd.Args[0] != "83.25" {
		t.Errorf("unexpected args %v", cmd.Args)
	}
}

func TestDecode_Tip(t *testing.T) {
	ev, err := Decode([]byte(`{"type":"tip","event_id":"e2","channel_id":"c1","user_id":"u1","message_id":"m1",` +
		`"receiver_address":"0x1111111111111111111111111111111111111111","amount":"10000000000000000"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tip, ok := ev.(*Tip)
	if !ok {
		t.Fatalf("expected *Tip, got %T", ev)
	}
	if !tip.AmountWei.Equal(decimal.RequireFromString("10000000000000000")) {
		t.Errorf("unexpected amount %s", tip.AmountWei)
	}
	if !tip.IsNative() {
		t.Error("missing currency should mean the native token")
	}
	if !tip.AddressedTo(common.HexToAddress(bot)) {
		t.Error("tip should be addressed to the bot")
	}
	if tip.MessageID != "m1" {
		t.Errorf("expected message_id=m1, got %s", tip.MessageID)
	}
}

func TestTip_AddressedToIgnoresCase(t *testing.T) {
	ev, err := Decode([]byte(`{"type":"tip","channel_id":"c1","user_id":"u1",` +
		`"receiver_address":"0xABCDEFabcdef0000000000000000000000000001","amount":"1"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	addr, _ := ParseAddress("0xabcdefABCDEF0000000000000000000000000001")
	if !ev.(*Tip).AddressedTo(addr) {
		t.Error("address comparison should be case-insensitive")
	}
	if ev.(*Tip).AddressedTo(common.HexToAddress(bot)) {
		t.Error("tip should not match another address")
	}
}

func TestDecode_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
		want error
	}{
		{"not json", `{`, ErrInvalidEvent},
		{"missing channel", `{"type":"command","user_id":"u","command":"help"}`, ErrInvalidEvent},
		{"missing user", `{"type":"command","channel_id":"c","command":"help"}`, ErrInvalidEvent},
		{"unknown type", `{"type":"reaction","channel_id":"c","user_id":"u"}`, ErrUnknownType},
		{"unknown command", `{"type":"command","channel_id":"c","user_id":"u","command":"bet"}`, ErrUnknownCommand},
		{"bad text", `{"type":"command","channel_id":"c","user_id":"u","text":"start 1 2"}`, ErrUnknownCommand},
		{"bad receiver", `{"type":"tip","channel_id":"c","user_id":"u","receiver_address":"0x12","amount":"1"}`, ErrInvalidAddress},
		{"bad currency", `{"type":"tip","channel_id":"c","user_id":"u","receiver_address":"` + bot + `","currency":"eth","amount":"1"}`, ErrInvalidAddress},
		{"missing amount", `{"type":"tip","channel_id":"c","user_id":"u","receiver_address":"` + bot + `"}`, ErrInvalidAmount},
		{"fractional amount", `{"type":"tip","channel_id":"c","user_id":"u","receiver_address":"` + bot + `","amount":"1.5"}`, ErrInvalidAmount},
		{"text amount", `{"type":"tip","channel_id":"c","user_id":"u","receiver_address":"` + bot + `","amount":"lots"}`, ErrInvalidAmount},
	}
	for _, tt := range tests {
		_, err := Decode([]byte(tt.body))
		if !errors.Is(err, tt.want) {
			t.Errorf("%s: expected %v, got %v", tt.name, tt.want, err)
		}
	}
}

func TestParseCommand(t *testing.T) {
	name, args, err := ParseCommand("/start 20 200")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if name != CmdStart || len(args) != 2 {
		t.Errorf("unexpected parse: %s %v", name, args)
	}

	name, args, err = ParseCommand("/state")
	if err != nil || name != CmdState || len(args) != 0 {
		t.Errorf("unexpected parse: %s %v %v", name, args, err)
	}
}

func TestParseWei_KeepsSign(t *testing.T) {
	v, err := ParseWei("-5")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !v.Equal(decimal.NewFromInt(-5)) {
		t.Errorf("expected -5, got %s", v)
	}
}
