/**
 * @description
 * This file defines the core domain models for the disbursement-service.
 * These structs represent the entities the service reads from the shared
 * donation-platform database and the value objects used by the split
 * resolution and disbursement logic.
 *
 * @notes
 * - Amounts are stored as `int64` in the smallest currency unit (cents),
 *   which avoids floating-point inaccuracies with financial data.
 * - Split percentages are `float64` because organizations configure
 *   fractional shares (e.g. 33.3); the per-recipient amount is rounded
 *   once, at disbursement time.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Split modes a donation form can be configured with. Only bank-account
// splits are disbursed by this service; Stripe Connect splits are settled
// by the card processor upstream.
const (
	SplitModeBankAccounts  = "bank_accounts"
	SplitModeStripeConnect = "stripe_connect"
)

// SplitEntry is one {percentage, recipient} pair describing a fractional
// share of a donation routed to a specific bank account.
type SplitEntry struct {
	Percentage    float64   `json:"percentage"`
	BankAccountID uuid.UUID `json:"bank_account_id"`
}

// SplitConfig is the raw split configuration stored on one of its three
// possible owners (donation link, embed card, or organization-level form
// customization).
type SplitConfig struct {
	Mode   string       `json:"split_mode"`
	Splits []SplitEntry `json:"splits"`
}

// HasBankAccountSplits reports whether the configuration is in bank-account
// mode with at least one entry, i.e. whether it is disbursable by this service.
func (c *SplitConfig) HasBankAccountSplits() bool {
	return c != nil && c.Mode == SplitModeBankAccounts && len(c.Splits) > 0
}

// ResolvedSplitConfig is the outcome of split resolution: the winning
// configuration plus the organization it belongs to.
type ResolvedSplitConfig struct {
	OrganizationID uuid.UUID    `json:"organization_id"`
	SplitMode      string       `json:"split_mode"`
	Splits         []SplitEntry `json:"splits"`
}

// Organization represents the subset of an organization row this service
// needs: the Dwolla customer and the verified source funding source that
// split transfers are drawn from.
type Organization struct {
	ID                     uuid.UUID `json:"id"`
	Name                   string    `json:"name"`
	DwollaCustomerURL      *string   `json:"dwolla_customer_url,omitempty"`
	DwollaFundingSourceURL *string   `json:"dwolla_funding_source_url,omitempty"`
}

// SplitBankAccount is a recipient bank account configured for splits. The
// funding source URL is the Dwolla-side handle for the verified account and
// is the destination of the recipient's share.
type SplitBankAccount struct {
	ID                     uuid.UUID `json:"id"`
	OrganizationID         uuid.UUID `json:"organization_id"`
	AccountName            string    `json:"account_name"`
	BankName               string    `json:"bank_name"`
	AccountNumberMasked    string    `json:"account_number_masked"`
	DwollaFundingSourceURL *string   `json:"dwolla_funding_source_url,omitempty"`
	CreatedAt              time.Time `json:"created_at"`
}

// Donation represents one payment event. Rows are created by the payment
// webhook handler after the card charge succeeds and are read-only to this
// service.
type Donation struct {
	ID               uuid.UUID  `json:"id"`
	OrganizationID   uuid.UUID  `json:"organization_id"`
	DonationLinkID   *uuid.UUID `json:"donation_link_id,omitempty"`
	EmbedCardID      *uuid.UUID `json:"embed_card_id,omitempty"`
	Amount           int64      `json:"amount"` // in cents
	PaymentReference string     `json:"payment_reference"`
	Status           string     `json:"status"`
	CreatedAt        time.Time  `json:"created_at"`
}

// DisbursementRequest carries everything the executor needs for one
// donation's split disbursement.
type DisbursementRequest struct {
	PaymentReference string       `json:"payment_reference"`
	DonationID       uuid.UUID    `json:"donation_id"`
	OrganizationID   uuid.UUID    `json:"organization_id"`
	AmountCents      int64        `json:"amount_cents"`
	Splits           []SplitEntry `json:"splits"`
}
