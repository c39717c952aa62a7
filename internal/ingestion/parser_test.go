package ingestion_test

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"LendLedger/internal/engine"
	"LendLedger/internal/ingestion"
)

func rawWith(op engine.Op, data string) ingestion.RawInstruction {
	return ingestion.RawInstruction{
		Subject:  "lend.instructions." + op.String(),
		Op:       op,
		Data:     []byte(data),
		Received: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		AckFunc:  func() {},
		NakFunc:  func() {},
	}
}

func TestParseInstruction_Deposit(t *testing.T) {
	id := uuid.New()
	account := uuid.New()
	raw := rawWith(engine.OpDeposit, `{
		"instruction_id": "`+id.String()+`",
		"account": "`+account.String()+`",
		"amount": 1500,
		"timestamp_us": 1748779200000000
	}`)

	cmd, err := ingestion.ParseInstruction(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cmd.ID != id || cmd.Account != account {
		t.Errorf("cmd = %+v, want id/account echoed", cmd)
	}
	if cmd.Op != engine.OpDeposit || cmd.Amount != 1500 {
		t.Errorf("op/amount = %v/%d, want deposit/1500", cmd.Op, cmd.Amount)
	}
	if want := time.UnixMicro(1748779200000000); !cmd.Timestamp.Equal(want) {
		t.Errorf("timestamp = %v, want %v", cmd.Timestamp, want)
	}
}

func TestParseInstruction_MissingTimestampUsesReceiveTime(t *testing.T) {
	raw := rawWith(engine.OpDeposit, `{
		"instruction_id": "`+uuid.NewString()+`",
		"account": "`+uuid.NewString()+`",
		"amount": 100
	}`)

	cmd, err := ingestion.ParseInstruction(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !cmd.Timestamp.Equal(raw.Received) {
		t.Errorf("timestamp = %v, want receive time %v", cmd.Timestamp, raw.Received)
	}
}

func TestParseInstruction_RepayIgnoresAmount(t *testing.T) {
	raw := rawWith(engine.OpRepay, `{
		"instruction_id": "`+uuid.NewString()+`",
		"account": "`+uuid.NewString()+`"
	}`)

	cmd, err := ingestion.ParseInstruction(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cmd.Op != engine.OpRepay || cmd.Amount != 0 {
		t.Errorf("op/amount = %v/%d, want repay/0", cmd.Op, cmd.Amount)
	}
}

func TestParseInstruction_ZeroDepositAccepted(t *testing.T) {
	raw := rawWith(engine.OpDeposit, `{
		"instruction_id": "`+uuid.NewString()+`",
		"account": "`+uuid.NewString()+`"
	}`)

	cmd, err := ingestion.ParseInstruction(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cmd.Amount != 0 {
		t.Errorf("amount = %d, want 0", cmd.Amount)
	}
}

func TestParseInstruction_Invalid(t *testing.T) {
	cases := []struct {
		name string
		raw  ingestion.RawInstruction
	}{
		{"malformed json", rawWith(engine.OpDeposit, `{not json`)},
		{"bad instruction id", rawWith(engine.OpDeposit, `{"instruction_id":"nope","account":"`+uuid.NewString()+`","amount":1}`)},
		{"bad account", rawWith(engine.OpDeposit, `{"instruction_id":"`+uuid.NewString()+`","account":"nope","amount":1}`)},
		{"negative amount deposit", rawWith(engine.OpDeposit, `{"instruction_id":"`+uuid.NewString()+`","account":"`+uuid.NewString()+`","amount":-5}`)},
		{"zero amount borrow", rawWith(engine.OpBorrow, `{"instruction_id":"`+uuid.NewString()+`","account":"`+uuid.NewString()+`"}`)},
		{"negative amount borrow", rawWith(engine.OpBorrow, `{"instruction_id":"`+uuid.NewString()+`","account":"`+uuid.NewString()+`","amount":-5}`)},
		{"unknown op", rawWith(engine.OpUnknown, `{"instruction_id":"`+uuid.NewString()+`","account":"`+uuid.NewString()+`","amount":1}`)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ingestion.ParseInstruction(tc.raw); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}
