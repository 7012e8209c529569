/**
 * @description
 * This file defines the split-transfer record, the single source of truth for
 * disbursement idempotency. One row exists per (payment reference, recipient
 * bank account) pair; rows are created in `processing` state before the
 * provider call and are never deleted.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Split transfer lifecycle states. `completed` and `failed` are terminal;
// there is no retry state machine. A failed transfer is surfaced for manual
// follow-up, not re-driven automatically.
const (
	TransferStatusProcessing = "processing"
	TransferStatusCompleted  = "completed"
	TransferStatusFailed     = "failed"
)

// SplitTransfer maps to the `dwolla_transfers` table. The unique constraint on
// (payment_reference, bank_account_id) is what makes the processing claim
// transactional under duplicate webhook deliveries.
type SplitTransfer struct {
	ID                uuid.UUID `json:"id"`
	PaymentReference  string    `json:"payment_reference"`
	DonationID        uuid.UUID `json:"donation_id"`
	OrganizationID    uuid.UUID `json:"organization_id"`
	BankAccountID     uuid.UUID `json:"bank_account_id"`
	Amount            int64     `json:"amount"` // in cents
	Status            string    `json:"status"`
	DwollaTransferURL *string   `json:"dwolla_transfer_url,omitempty"`
	IdempotencyKey    string    `json:"idempotency_key"`
	FailureReason     *string   `json:"failure_reason,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}
