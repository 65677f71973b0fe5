package models

import (
	"time"

	"github.com/google/uuid"
)

// Credit ledger entry types. Every task that reaches open produces exactly
// one escrow_lock and, on its terminal transition, exactly one of
// escrow_refund or task_earning.
const (
	EntryEscrowLock   = "escrow_lock"
	EntryEscrowRefund = "escrow_refund"
	EntryTaskEarning  = "task_earning"
)

// Transaction is an append-only credit ledger entry.
type Transaction struct {
	ID           uuid.UUID  `json:"id"`
	AccountID    uuid.UUID  `json:"account_id"`
	TaskID       *uuid.UUID `json:"task_id,omitempty"`
	EntryType    string     `json:"entry_type"`
	Amount       int        `json:"amount"`
	BalanceAfter int        `json:"balance_after"`
	CreatedAt    time.Time  `json:"created_at"`
}
