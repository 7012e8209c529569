/**
 * @description
 * Reconciliation sweep for stuck transfer claims. The claim-then-call pattern
 * leaves a window where a crash between the ledger claim and the provider
 * call's resolution strands a row in `processing` forever. The sweep closes
 * that window operationally: rows past the deadline are marked failed with an
 * explanatory reason and surfaced through the failed-transfer event stream
 * for manual review. The sweep never re-drives the provider call.
 */

package app

import (
	"context"
	"log"
	"time"

	"github.com/giveflow/disbursement-service/internal/domain"
)

const staleTransferFailureReason = "transfer stuck in processing past deadline; provider outcome unknown, requires manual review"

// Reconciler marks stale `processing` transfer rows as failed.
type Reconciler struct {
	service    *Service
	deadline   time.Duration
	batchLimit int
}

// NewReconciler creates a sweep runner. deadline is how long a `processing`
// row may exist before it is considered stuck.
func NewReconciler(service *Service, deadline time.Duration, batchLimit int) *Reconciler {
	if deadline <= 0 {
		deadline = 30 * time.Minute
	}
	if batchLimit <= 0 {
		batchLimit = 100
	}
	return &Reconciler{service: service, deadline: deadline, batchLimit: batchLimit}
}

// SweepStuckTransfers is the cron entry point.
func (r *Reconciler) SweepStuckTransfers() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	cutoff := time.Now().Add(-r.deadline)
	transfers, err := r.service.repo.FindStaleProcessingTransfers(ctx, cutoff, r.batchLimit)
	if err != nil {
		log.Printf("level=error component=reconciler msg=\"stale transfer query failed\" err=%v", err)
		return
	}

	if len(transfers) == 0 {
		return
	}

	log.Printf("level=warn component=reconciler msg=\"found stuck processing transfers\" count=%d cutoff=%s", len(transfers), cutoff.UTC().Format(time.RFC3339))

	for _, transfer := range transfers {
		if err := r.service.repo.MarkSplitTransferFailed(ctx, transfer.ID, staleTransferFailureReason); err != nil {
			log.Printf("level=error component=reconciler msg=\"failed to mark stuck transfer\" transfer_id=%s err=%v", transfer.ID, err)
			continue
		}
		log.Printf("level=warn component=reconciler msg=\"stuck transfer marked failed\" transfer_id=%s payment_reference=%s bank_account_id=%s age=%s", transfer.ID, transfer.PaymentReference, transfer.BankAccountID, time.Since(transfer.CreatedAt).Round(time.Second))
		r.service.publishTransferStatus(ctx, &transfer, domain.TransferStatusFailed, staleTransferFailureReason)
	}
}
