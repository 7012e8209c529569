package domain

import (
	"time"

	"github.com/google/uuid"
)

// DonationPaymentEvent is the message published by the payment webhook handler
// on the `donation_events` exchange (routing key `donation.payment.succeeded`)
// once a donation's card charge has settled and the donation row is committed.
type DonationPaymentEvent struct {
	EventID          string     `json:"event_id"`
	DonationID       uuid.UUID  `json:"donation_id"`
	OrganizationID   uuid.UUID  `json:"organization_id"`
	DonationLinkID   *uuid.UUID `json:"donation_link_id,omitempty"`
	EmbedCardID      *uuid.UUID `json:"embed_card_id,omitempty"`
	AmountCents      int64      `json:"amount_cents"`
	PaymentReference string     `json:"payment_reference"`
	OccurredAt       time.Time  `json:"occurred_at"`
}

// SplitTransferStatusEvent is published when a split transfer reaches a
// terminal state so the notification pipeline can alert staff about failures.
type SplitTransferStatusEvent struct {
	TransferID       uuid.UUID `json:"transfer_id"`
	DonationID       uuid.UUID `json:"donation_id"`
	OrganizationID   uuid.UUID `json:"organization_id"`
	BankAccountID    uuid.UUID `json:"bank_account_id"`
	PaymentReference string    `json:"payment_reference"`
	Amount           int64     `json:"amount"`
	Status           string    `json:"status"`
	FailureReason    string    `json:"failure_reason,omitempty"`
	OccurredAt       time.Time `json:"occurred_at"`
}
