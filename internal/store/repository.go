/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract for
 * all data access operations required by the disbursement-service. By defining an
 * interface, we decouple the application's business logic from the specific
 * database implementation (PostgreSQL), making the code more modular and easier
 * to test.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID handling.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"time"

	"github.com/giveflow/disbursement-service/internal/domain"
	"github.com/google/uuid"
)

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Organization and bank account lookups
	FindOrganizationByID(ctx context.Context, organizationID uuid.UUID) (*domain.Organization, error)
	FindSplitBankAccountByID(ctx context.Context, bankAccountID uuid.UUID) (*domain.SplitBankAccount, error)

	// Split configuration sources, in resolution precedence order
	GetDonationLinkSplitConfig(ctx context.Context, donationLinkID uuid.UUID) (*domain.SplitConfig, error)
	GetEmbedCardSplitConfig(ctx context.Context, embedCardID uuid.UUID) (*domain.SplitConfig, error)
	GetFormCustomizationSplitConfig(ctx context.Context, organizationID uuid.UUID) (*domain.SplitConfig, error)

	// Donation reads (rows are owned by the payment webhook handler)
	FindDonationByID(ctx context.Context, donationID uuid.UUID) (*domain.Donation, error)

	// Split transfer records
	FindSplitTransfer(ctx context.Context, paymentReference string, bankAccountID uuid.UUID) (*domain.SplitTransfer, error)
	// ClaimSplitTransfer inserts the record in `processing` state. It returns
	// false without error when another execution already holds the
	// (payment_reference, bank_account_id) claim.
	ClaimSplitTransfer(ctx context.Context, transfer *domain.SplitTransfer) (bool, error)
	MarkSplitTransferCompleted(ctx context.Context, transferID uuid.UUID, dwollaTransferURL string) error
	MarkSplitTransferFailed(ctx context.Context, transferID uuid.UUID, failureReason string) error
	ListSplitTransfersByDonationID(ctx context.Context, donationID uuid.UUID) ([]domain.SplitTransfer, error)
	ListFailedSplitTransfers(ctx context.Context, since time.Time, limit int) ([]domain.SplitTransfer, error)

	// Reconciliation sweep support
	FindStaleProcessingTransfers(ctx context.Context, olderThan time.Time, limit int) ([]domain.SplitTransfer, error)
}
