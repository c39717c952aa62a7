package ingestion

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"LendLedger/internal/engine"
)

// instructionJSON is the wire format received on instruction subjects.
// Field names use snake_case to match upstream producers. Amount is
// required for deposit and borrow and ignored for repay and withdraw.
type instructionJSON struct {
	InstructionID string `json:"instruction_id"`
	Account       string `json:"account"`
	Amount        int64  `json:"amount,omitempty"`
	TimestampUs   int64  `json:"timestamp_us,omitempty"`
}

// ParseInstruction validates a raw instruction and converts it into an
// engine command. The timestamp is the producer's if given, otherwise the
// receive time; either way the engine treats it as a versioned input.
func ParseInstruction(raw RawInstruction) (engine.Command, error) {
	var j instructionJSON
	if err := json.Unmarshal(raw.Data, &j); err != nil {
		return engine.Command{}, fmt.Errorf("parse %s: %w", raw.Op, err)
	}

	id, err := uuid.Parse(j.InstructionID)
	if err != nil {
		return engine.Command{}, fmt.Errorf("parse instruction_id: %w", err)
	}
	account, err := uuid.Parse(j.Account)
	if err != nil {
		return engine.Command{}, fmt.Errorf("parse account: %w", err)
	}

	switch raw.Op {
	case engine.OpDeposit:
		// Zero is a permitted no-op deposit; only negatives are malformed.
		if j.Amount < 0 {
			return engine.Command{}, fmt.Errorf("%s: amount must be non-negative, got %d", raw.Op, j.Amount)
		}
	case engine.OpBorrow:
		if j.Amount <= 0 {
			return engine.Command{}, fmt.Errorf("%s: amount must be positive, got %d", raw.Op, j.Amount)
		}
	case engine.OpRepay, engine.OpWithdraw:
		// Amount is derived from the position, not the instruction.
	default:
		return engine.Command{}, fmt.Errorf("unknown operation %d", raw.Op)
	}

	ts := raw.Received
	if j.TimestampUs > 0 {
		ts = time.UnixMicro(j.TimestampUs)
	}

	return engine.Command{
		ID:        id,
		Op:        raw.Op,
		Account:   account,
		Amount:    j.Amount,
		Timestamp: ts,
	}, nil
}
