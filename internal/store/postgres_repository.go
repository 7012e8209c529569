/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface.
 * It contains all the SQL queries used by the disbursement-service against the
 * shared donation-platform database: organization and bank-account lookups,
 * split-configuration reads, and the split transfer ledger.
 *
 * @dependencies
 * - context, encoding/json, errors, time: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/giveflow/disbursement-service/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrOrganizationNotFound      = errors.New("organization not found")
	ErrBankAccountNotFound       = errors.New("split bank account not found")
	ErrDonationNotFound          = errors.New("donation not found")
	ErrDonationLinkNotFound      = errors.New("donation link not found")
	ErrEmbedCardNotFound         = errors.New("embed card not found")
	ErrFormCustomizationNotFound = errors.New("form customization not found")
	ErrTransferNotFound          = errors.New("split transfer not found")
)

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// FindOrganizationByID retrieves an organization with its Dwolla references.
func (r *PostgresRepository) FindOrganizationByID(ctx context.Context, organizationID uuid.UUID) (*domain.Organization, error) {
	var org domain.Organization
	query := `SELECT id, name, dwolla_customer_url, dwolla_funding_source_url FROM organizations WHERE id = $1`
	err := r.db.QueryRow(ctx, query, organizationID).Scan(&org.ID, &org.Name, &org.DwollaCustomerURL, &org.DwollaFundingSourceURL)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrOrganizationNotFound
		}
		return nil, err
	}
	return &org, nil
}

// FindSplitBankAccountByID retrieves a recipient bank account configured for splits.
func (r *PostgresRepository) FindSplitBankAccountByID(ctx context.Context, bankAccountID uuid.UUID) (*domain.SplitBankAccount, error) {
	var account domain.SplitBankAccount
	query := `
		SELECT id, organization_id, account_name, bank_name, account_number_masked, dwolla_funding_source_url, created_at
		FROM split_bank_accounts
		WHERE id = $1
	`
	err := r.db.QueryRow(ctx, query, bankAccountID).Scan(
		&account.ID,
		&account.OrganizationID,
		&account.AccountName,
		&account.BankName,
		&account.AccountNumberMasked,
		&account.DwollaFundingSourceURL,
		&account.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrBankAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

// GetDonationLinkSplitConfig reads the split configuration stored on a donation link.
func (r *PostgresRepository) GetDonationLinkSplitConfig(ctx context.Context, donationLinkID uuid.UUID) (*domain.SplitConfig, error) {
	query := `SELECT split_mode, splits FROM donation_links WHERE id = $1`
	return r.scanSplitConfig(ctx, query, donationLinkID, ErrDonationLinkNotFound)
}

// GetEmbedCardSplitConfig reads the split configuration stored on an embed card.
func (r *PostgresRepository) GetEmbedCardSplitConfig(ctx context.Context, embedCardID uuid.UUID) (*domain.SplitConfig, error) {
	query := `SELECT split_mode, splits FROM org_embed_cards WHERE id = $1`
	return r.scanSplitConfig(ctx, query, embedCardID, ErrEmbedCardNotFound)
}

// GetFormCustomizationSplitConfig reads the organization-level default split configuration.
func (r *PostgresRepository) GetFormCustomizationSplitConfig(ctx context.Context, organizationID uuid.UUID) (*domain.SplitConfig, error) {
	query := `SELECT split_mode, splits FROM form_customizations WHERE organization_id = $1`
	return r.scanSplitConfig(ctx, query, organizationID, ErrFormCustomizationNotFound)
}

// scanSplitConfig runs a (split_mode, splits jsonb) query and decodes the
// splits column. A NULL splits column decodes to an empty slice.
func (r *PostgresRepository) scanSplitConfig(ctx context.Context, query string, id uuid.UUID, notFound error) (*domain.SplitConfig, error) {
	var mode *string
	var rawSplits []byte
	err := r.db.QueryRow(ctx, query, id).Scan(&mode, &rawSplits)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, notFound
		}
		return nil, err
	}

	config := domain.SplitConfig{}
	if mode != nil {
		config.Mode = *mode
	}
	if len(rawSplits) > 0 {
		if err := json.Unmarshal(rawSplits, &config.Splits); err != nil {
			return nil, err
		}
	}
	return &config, nil
}

// FindDonationByID retrieves a donation row.
func (r *PostgresRepository) FindDonationByID(ctx context.Context, donationID uuid.UUID) (*domain.Donation, error) {
	var donation domain.Donation
	query := `
		SELECT id, organization_id, donation_link_id, embed_card_id, amount, payment_reference, status, created_at
		FROM donations
		WHERE id = $1
	`
	err := r.db.QueryRow(ctx, query, donationID).Scan(
		&donation.ID,
		&donation.OrganizationID,
		&donation.DonationLinkID,
		&donation.EmbedCardID,
		&donation.Amount,
		&donation.PaymentReference,
		&donation.Status,
		&donation.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrDonationNotFound
		}
		return nil, err
	}
	return &donation, nil
}

const splitTransferColumns = `
	id, payment_reference, donation_id, organization_id, bank_account_id,
	amount, status, dwolla_transfer_url, idempotency_key, failure_reason,
	created_at, updated_at`

func scanSplitTransfer(row pgx.Row) (*domain.SplitTransfer, error) {
	var transfer domain.SplitTransfer
	err := row.Scan(
		&transfer.ID,
		&transfer.PaymentReference,
		&transfer.DonationID,
		&transfer.OrganizationID,
		&transfer.BankAccountID,
		&transfer.Amount,
		&transfer.Status,
		&transfer.DwollaTransferURL,
		&transfer.IdempotencyKey,
		&transfer.FailureReason,
		&transfer.CreatedAt,
		&transfer.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &transfer, nil
}

// FindSplitTransfer looks up the transfer record for one (payment, recipient) pair.
func (r *PostgresRepository) FindSplitTransfer(ctx context.Context, paymentReference string, bankAccountID uuid.UUID) (*domain.SplitTransfer, error) {
	query := `SELECT ` + splitTransferColumns + ` FROM dwolla_transfers WHERE payment_reference = $1 AND bank_account_id = $2`
	transfer, err := scanSplitTransfer(r.db.QueryRow(ctx, query, paymentReference, bankAccountID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrTransferNotFound
		}
		return nil, err
	}
	return transfer, nil
}

// ClaimSplitTransfer inserts the record in `processing` state before the
// provider call. The unique constraint on (payment_reference, bank_account_id)
// makes the claim atomic: a concurrent duplicate delivery loses the insert and
// gets claimed=false, so the provider is called at most once per pair by the
// application (the provider-side idempotency key is the second line of defense).
func (r *PostgresRepository) ClaimSplitTransfer(ctx context.Context, transfer *domain.SplitTransfer) (bool, error) {
	query := `
		INSERT INTO dwolla_transfers (
			id, payment_reference, donation_id, organization_id, bank_account_id,
			amount, status, idempotency_key, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
		ON CONFLICT (payment_reference, bank_account_id) DO NOTHING
	`
	tag, err := r.db.Exec(ctx, query,
		transfer.ID,
		transfer.PaymentReference,
		transfer.DonationID,
		transfer.OrganizationID,
		transfer.BankAccountID,
		transfer.Amount,
		transfer.Status,
		transfer.IdempotencyKey,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// MarkSplitTransferCompleted records the provider transfer reference on success.
func (r *PostgresRepository) MarkSplitTransferCompleted(ctx context.Context, transferID uuid.UUID, dwollaTransferURL string) error {
	query := `
		UPDATE dwolla_transfers
		SET status = 'completed', dwolla_transfer_url = $2, failure_reason = NULL, updated_at = NOW()
		WHERE id = $1
	`
	tag, err := r.db.Exec(ctx, query, transferID, dwollaTransferURL)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTransferNotFound
	}
	return nil
}

// MarkSplitTransferFailed records the failure reason. Failed rows are terminal
// and surfaced to staff for manual follow-up; they are not retried.
func (r *PostgresRepository) MarkSplitTransferFailed(ctx context.Context, transferID uuid.UUID, failureReason string) error {
	query := `
		UPDATE dwolla_transfers
		SET status = 'failed', failure_reason = $2, updated_at = NOW()
		WHERE id = $1
	`
	tag, err := r.db.Exec(ctx, query, transferID, failureReason)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTransferNotFound
	}
	return nil
}

// ListSplitTransfersByDonationID returns every split transfer recorded for a donation.
func (r *PostgresRepository) ListSplitTransfersByDonationID(ctx context.Context, donationID uuid.UUID) ([]domain.SplitTransfer, error) {
	query := `SELECT ` + splitTransferColumns + ` FROM dwolla_transfers WHERE donation_id = $1 ORDER BY created_at ASC`
	rows, err := r.db.Query(ctx, query, donationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSplitTransfers(rows)
}

// ListFailedSplitTransfers returns recent failed transfers for staff follow-up.
func (r *PostgresRepository) ListFailedSplitTransfers(ctx context.Context, since time.Time, limit int) ([]domain.SplitTransfer, error) {
	query := `
		SELECT ` + splitTransferColumns + `
		FROM dwolla_transfers
		WHERE status = 'failed' AND updated_at >= $1
		ORDER BY updated_at DESC
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSplitTransfers(rows)
}

// FindStaleProcessingTransfers returns `processing` rows created before the
// cutoff. These are claims whose provider call never resolved (crash between
// claim and update); the reconciliation sweep marks them failed.
func (r *PostgresRepository) FindStaleProcessingTransfers(ctx context.Context, olderThan time.Time, limit int) ([]domain.SplitTransfer, error) {
	query := `
		SELECT ` + splitTransferColumns + `
		FROM dwolla_transfers
		WHERE status = 'processing' AND created_at < $1
		ORDER BY created_at ASC
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, olderThan, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSplitTransfers(rows)
}

func collectSplitTransfers(rows pgx.Rows) ([]domain.SplitTransfer, error) {
	var transfers []domain.SplitTransfer
	for rows.Next() {
		transfer, err := scanSplitTransfer(rows)
		if err != nil {
			return nil, err
		}
		transfers = append(transfers, *transfer)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return transfers, nil
}
