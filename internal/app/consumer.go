package app

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/giveflow/disbursement-service/internal/domain"
	"github.com/google/uuid"
)

// PaymentEventConsumer handles `donation.payment.succeeded` events published
// by the payment webhook handler once a donation row is committed. It is the
// primary driver of split disbursement.
type PaymentEventConsumer struct {
	service *Service
	deduper EventDeduper
}

// NewPaymentEventConsumer wires a consumer to the service. The deduper is
// optional; without it, duplicate deliveries fall through to the transfer
// ledger's claim, which remains the source of truth for idempotency.
func NewPaymentEventConsumer(service *Service, deduper EventDeduper) *PaymentEventConsumer {
	return &PaymentEventConsumer{service: service, deduper: deduper}
}

// HandleMessage processes one delivery. Returning true acknowledges the
// message; false requeues it for redelivery.
func (c *PaymentEventConsumer) HandleMessage(body []byte) bool {
	var event domain.DonationPaymentEvent
	if err := json.Unmarshal(body, &event); err != nil {
		log.Printf("level=warn component=payment_consumer msg=\"failed to unmarshal payload; dropping\" err=%v", err)
		return true
	}

	if event.PaymentReference == "" || event.DonationID == uuid.Nil || event.OrganizationID == uuid.Nil || event.AmountCents <= 0 {
		log.Printf("level=warn component=payment_consumer msg=\"event missing required fields; dropping\" event_id=%s donation_id=%s", event.EventID, event.DonationID)
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	if err := c.processEvent(ctx, event); err != nil {
		log.Printf("level=error component=payment_consumer msg=\"processing error; re-queuing\" donation_id=%s err=%v", event.DonationID, err)
		return false
	}

	return true
}

func (c *PaymentEventConsumer) processEvent(ctx context.Context, event domain.DonationPaymentEvent) error {
	if !c.service.Enabled() {
		log.Printf("level=info component=payment_consumer msg=\"split disbursements disabled; dropping event\" donation_id=%s", event.DonationID)
		return nil
	}

	// Cheap broker-redelivery suppression ahead of the DB claim. A dedupe
	// failure is non-fatal; the ledger claim still holds.
	if c.deduper != nil && event.EventID != "" {
		firstDelivery, err := c.deduper.MarkProcessed(ctx, event.EventID)
		if err != nil {
			log.Printf("level=warn component=payment_consumer msg=\"event dedupe check failed; continuing\" event_id=%s err=%v", event.EventID, err)
		} else if !firstDelivery {
			log.Printf("level=info component=payment_consumer msg=\"duplicate event delivery; dropping\" event_id=%s", event.EventID)
			return nil
		}
	}

	config, err := c.service.ResolveSplitConfig(ctx, event.OrganizationID, event.DonationLinkID, event.EmbedCardID)
	if err != nil {
		return err
	}
	if config == nil {
		log.Printf("level=info component=payment_consumer msg=\"no bank-account split applies\" donation_id=%s", event.DonationID)
		return nil
	}

	return c.service.ExecuteSplits(ctx, domain.DisbursementRequest{
		PaymentReference: event.PaymentReference,
		DonationID:       event.DonationID,
		OrganizationID:   event.OrganizationID,
		AmountCents:      event.AmountCents,
		Splits:           config.Splits,
	})
}
