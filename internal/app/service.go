/**
 * @description
 * This file contains the core business logic for the disbursement-service. The
 * `Service` struct orchestrates split-fund disbursement, coordinating between
 * the database repository, the Dwolla API client, and the message broker.
 *
 * Key features:
 * - Executes ACH transfers for every bank-account split entry of a donation.
 * - Enforces at-most-once execution per (payment, recipient) pair via a
 *   transactional claim on the transfer ledger plus a provider-side
 *   idempotency key.
 * - Degrades per entry: a missing funding source or a provider failure never
 *   fails the donation flow, it is logged and recorded for staff follow-up.
 * - Publishes terminal transfer events to RabbitMQ for the notification pipeline.
 *
 * @dependencies
 * - context, crypto/sha256, fmt, log, math, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID generation.
 * - internal/domain, internal/store: For domain models and data access.
 * - pkg/dwollaclient, pkg/rabbitmq: For external service communication.
 */

package app

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/giveflow/disbursement-service/internal/domain"
	"github.com/giveflow/disbursement-service/internal/store"
	"github.com/giveflow/disbursement-service/pkg/dwollaclient"
	"github.com/giveflow/disbursement-service/pkg/rabbitmq"
	"github.com/google/uuid"
)

const (
	// DonationEventsExchange is the topic exchange shared with the payment
	// webhook handler and the notification pipeline.
	DonationEventsExchange = "donation_events"

	routingKeyTransferCompleted = "disbursement.transfer.completed"
	routingKeyTransferFailed    = "disbursement.transfer.failed"
)

// TransferClient is the subset of the Dwolla client the executor needs.
type TransferClient interface {
	CreateTransfer(ctx context.Context, req dwollaclient.CreateTransferRequest) (string, error)
}

// Service provides the core business logic for split disbursement.
type Service struct {
	repo          store.Repository
	dwollaClient  TransferClient
	eventProducer rabbitmq.Publisher
	enabled       bool
}

// NewService creates a new disbursement service instance.
func NewService(repo store.Repository, dwolla TransferClient, producer rabbitmq.Publisher, enabled bool) *Service {
	return &Service{
		repo:          repo,
		dwollaClient:  dwolla,
		eventProducer: producer,
		enabled:       enabled,
	}
}

// Enabled reports whether split disbursement is switched on. The flag is
// checked at the point of use (consumer and HTTP entry), so a disabled
// service still boots and serves the staff read API.
func (s *Service) Enabled() bool {
	return s.enabled
}

// AmountForSplit computes the recipient's share of a donation in cents using
// standard rounding. The sum across entries is allowed to drift from the
// donation amount; no entry absorbs the rounding error.
func AmountForSplit(percentage float64, amountCents int64) int64 {
	return int64(math.Round(percentage / 100 * float64(amountCents)))
}

// TransferIdempotencyKey derives the deterministic provider idempotency key
// for one (payment reference, recipient) pair. Dwolla de-duplicates retried
// calls carrying the same key, which backstops the application-level claim.
func TransferIdempotencyKey(paymentReference string, bankAccountID uuid.UUID) string {
	sum := sha256.Sum256([]byte(paymentReference + ":" + bankAccountID.String()))
	return hex.EncodeToString(sum[:])
}

// ExecuteSplits runs the disbursement loop for one donation. Entries are
// processed sequentially, in the order given. Per-entry failures (missing
// funding source, provider rejection) are recorded and skipped; they are
// never propagated to the caller. A non-nil return means the executor could
// not start at all (storage unavailable) and the invocation is safe to retry.
func (s *Service) ExecuteSplits(ctx context.Context, req domain.DisbursementRequest) error {
	if len(req.Splits) == 0 {
		return nil
	}

	org, err := s.repo.FindOrganizationByID(ctx, req.OrganizationID)
	if err != nil {
		if err == store.ErrOrganizationNotFound {
			log.Printf("level=error component=disbursement msg=\"organization not found; skipping splits\" organization_id=%s donation_id=%s", req.OrganizationID, req.DonationID)
			return nil
		}
		return fmt.Errorf("failed to load organization %s: %w", req.OrganizationID, err)
	}

	if org.DwollaFundingSourceURL == nil || *org.DwollaFundingSourceURL == "" {
		log.Printf("level=error component=disbursement msg=\"organization has no source funding source; skipping splits\" organization_id=%s donation_id=%s", org.ID, req.DonationID)
		return nil
	}

	if total := totalPercentage(req.Splits); total > 100 {
		// Disburse per entry regardless; the configured sum is not capped.
		log.Printf("level=warn component=disbursement msg=\"split percentages exceed 100\" donation_id=%s total_percent=%.2f", req.DonationID, total)
	}

	for _, entry := range req.Splits {
		s.disburseEntry(ctx, req, *org.DwollaFundingSourceURL, entry)
	}

	return nil
}

// disburseEntry executes one split entry end to end. All failure modes are
// terminal for this entry only.
func (s *Service) disburseEntry(ctx context.Context, req domain.DisbursementRequest, sourceFundingSourceURL string, entry domain.SplitEntry) {
	if entry.Percentage <= 0 {
		return
	}

	amount := AmountForSplit(entry.Percentage, req.AmountCents)
	if amount < 1 {
		log.Printf("level=info component=disbursement msg=\"computed amount below one cent; skipping entry\" donation_id=%s bank_account_id=%s percent=%.2f", req.DonationID, entry.BankAccountID, entry.Percentage)
		return
	}

	// Fast path for webhook redelivery: the pair was already processed.
	if existing, err := s.repo.FindSplitTransfer(ctx, req.PaymentReference, entry.BankAccountID); err == nil {
		log.Printf("level=info component=disbursement msg=\"transfer already recorded; skipping entry\" payment_reference=%s bank_account_id=%s status=%s", req.PaymentReference, entry.BankAccountID, existing.Status)
		return
	} else if err != store.ErrTransferNotFound {
		log.Printf("level=error component=disbursement msg=\"idempotency lookup failed; skipping entry\" payment_reference=%s bank_account_id=%s err=%v", req.PaymentReference, entry.BankAccountID, err)
		return
	}

	account, err := s.repo.FindSplitBankAccountByID(ctx, entry.BankAccountID)
	if err != nil {
		log.Printf("level=error component=disbursement msg=\"recipient bank account lookup failed; skipping entry\" bank_account_id=%s err=%v", entry.BankAccountID, err)
		return
	}
	if account.DwollaFundingSourceURL == nil || *account.DwollaFundingSourceURL == "" {
		log.Printf("level=error component=disbursement msg=\"recipient has no destination funding source; skipping entry\" bank_account_id=%s donation_id=%s", account.ID, req.DonationID)
		return
	}

	transfer := &domain.SplitTransfer{
		ID:               uuid.New(),
		PaymentReference: req.PaymentReference,
		DonationID:       req.DonationID,
		OrganizationID:   req.OrganizationID,
		BankAccountID:    entry.BankAccountID,
		Amount:           amount,
		Status:           domain.TransferStatusProcessing,
		IdempotencyKey:   TransferIdempotencyKey(req.PaymentReference, entry.BankAccountID),
	}

	// Claim before calling the provider so a crash mid-call still holds the
	// idempotency key. Losing the claim means a concurrent execution for the
	// same payment got there first.
	claimed, err := s.repo.ClaimSplitTransfer(ctx, transfer)
	if err != nil {
		log.Printf("level=error component=disbursement msg=\"transfer claim failed; skipping entry\" payment_reference=%s bank_account_id=%s err=%v", req.PaymentReference, entry.BankAccountID, err)
		return
	}
	if !claimed {
		log.Printf("level=info component=disbursement msg=\"transfer claim already held; skipping entry\" payment_reference=%s bank_account_id=%s", req.PaymentReference, entry.BankAccountID)
		return
	}

	transferURL, err := s.dwollaClient.CreateTransfer(ctx, dwollaclient.CreateTransferRequest{
		SourceFundingSourceURL:      sourceFundingSourceURL,
		DestinationFundingSourceURL: *account.DwollaFundingSourceURL,
		AmountCents:                 amount,
		IdempotencyKey:              transfer.IdempotencyKey,
	})
	if err != nil {
		log.Printf("level=error component=disbursement msg=\"dwolla transfer failed\" transfer_id=%s bank_account_id=%s amount=%d err=%v", transfer.ID, entry.BankAccountID, amount, err)
		if markErr := s.repo.MarkSplitTransferFailed(ctx, transfer.ID, err.Error()); markErr != nil {
			log.Printf("level=error component=disbursement msg=\"failed to record transfer failure\" transfer_id=%s err=%v", transfer.ID, markErr)
		}
		s.publishTransferStatus(ctx, transfer, domain.TransferStatusFailed, err.Error())
		return
	}

	if err := s.repo.MarkSplitTransferCompleted(ctx, transfer.ID, transferURL); err != nil {
		// The provider call succeeded; the row stays `processing` until the
		// reconciliation sweep picks it up.
		log.Printf("level=error component=disbursement msg=\"failed to record transfer completion\" transfer_id=%s dwolla_transfer_url=%s err=%v", transfer.ID, transferURL, err)
		return
	}

	log.Printf("level=info component=disbursement msg=\"transfer completed\" transfer_id=%s donation_id=%s bank_account_id=%s amount=%d", transfer.ID, req.DonationID, entry.BankAccountID, amount)
	s.publishTransferStatus(ctx, transfer, domain.TransferStatusCompleted, "")
}

// ExecuteForDonation re-drives disbursement for one donation from its
// authoritative row: the donation is loaded, its split configuration
// resolved, and the executor run. Used by the internal HTTP entry point for
// synchronous invocation and operator re-drives. The ledger claim makes
// re-driving an already-disbursed donation a no-op. Returns whether a
// bank-account split applied.
func (s *Service) ExecuteForDonation(ctx context.Context, donationID uuid.UUID) (bool, error) {
	donation, err := s.repo.FindDonationByID(ctx, donationID)
	if err != nil {
		return false, err
	}

	config, err := s.ResolveSplitConfig(ctx, donation.OrganizationID, donation.DonationLinkID, donation.EmbedCardID)
	if err != nil {
		return false, err
	}
	if config == nil {
		return false, nil
	}

	err = s.ExecuteSplits(ctx, domain.DisbursementRequest{
		PaymentReference: donation.PaymentReference,
		DonationID:       donation.ID,
		OrganizationID:   donation.OrganizationID,
		AmountCents:      donation.Amount,
		Splits:           config.Splits,
	})
	if err != nil {
		return true, err
	}
	return true, nil
}

// publishTransferStatus emits a terminal transfer event. Publishing is
// best-effort; the ledger row is the source of truth.
func (s *Service) publishTransferStatus(ctx context.Context, transfer *domain.SplitTransfer, status, failureReason string) {
	if s.eventProducer == nil {
		return
	}

	routingKey := routingKeyTransferCompleted
	if status == domain.TransferStatusFailed {
		routingKey = routingKeyTransferFailed
	}

	event := domain.SplitTransferStatusEvent{
		TransferID:       transfer.ID,
		DonationID:       transfer.DonationID,
		OrganizationID:   transfer.OrganizationID,
		BankAccountID:    transfer.BankAccountID,
		PaymentReference: transfer.PaymentReference,
		Amount:           transfer.Amount,
		Status:           status,
		FailureReason:    failureReason,
		OccurredAt:       time.Now().UTC(),
	}
	if err := s.eventProducer.Publish(ctx, DonationEventsExchange, routingKey, event); err != nil {
		log.Printf("level=warn component=disbursement msg=\"transfer status publish failed\" transfer_id=%s routing_key=%s err=%v", transfer.ID, routingKey, err)
	}
}

// ListTransfersForDonation returns the split transfer records for a donation,
// for the staff API.
func (s *Service) ListTransfersForDonation(ctx context.Context, donationID uuid.UUID) ([]domain.SplitTransfer, error) {
	return s.repo.ListSplitTransfersByDonationID(ctx, donationID)
}

// ListFailedTransfers returns failed transfers recorded in the trailing
// window, for staff follow-up.
func (s *Service) ListFailedTransfers(ctx context.Context, window time.Duration, limit int) ([]domain.SplitTransfer, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.repo.ListFailedSplitTransfers(ctx, time.Now().Add(-window), limit)
}

func totalPercentage(splits []domain.SplitEntry) float64 {
	var total float64
	for _, entry := range splits {
		if entry.Percentage > 0 {
			total += entry.Percentage
		}
	}
	return total
}
