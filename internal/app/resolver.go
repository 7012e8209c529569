/**
 * @description
 * Split resolution: given a donation's context (organization, optional
 * donation link, optional embed card), determine which bank-account split
 * configuration applies, in a fixed precedence order.
 *
 * Precedence (first match wins):
 *   1. Donation link. A link whose mode is not `bank_accounts` (or whose
 *      splits are empty) resolves to nothing at all — it does NOT fall
 *      through to card- or organization-level configuration.
 *   2. Embed card, then the card's organization-level form customization.
 *   3. Organization-level form customization.
 *
 * The asymmetry between step 1 (no fallback) and step 2 (fallback to the
 * organization defaults) is intentional: it mirrors the platform's observed
 * behavior, which product owns as a known quirk. Do not "fix" it here.
 */

package app

import (
	"context"
	"fmt"
	"log"

	"github.com/giveflow/disbursement-service/internal/domain"
	"github.com/giveflow/disbursement-service/internal/store"
	"github.com/google/uuid"
)

// ResolveSplitConfig returns the applicable bank-account split configuration
// for a donation, or nil when no bank-account split applies. Lookup errors
// other than not-found are returned so callers can retry.
func (s *Service) ResolveSplitConfig(ctx context.Context, organizationID uuid.UUID, donationLinkID, embedCardID *uuid.UUID) (*domain.ResolvedSplitConfig, error) {
	if donationLinkID != nil {
		return s.resolveFromDonationLink(ctx, organizationID, *donationLinkID)
	}
	if embedCardID != nil {
		return s.resolveFromEmbedCard(ctx, organizationID, *embedCardID)
	}
	return s.resolveFromFormCustomization(ctx, organizationID)
}

func (s *Service) resolveFromDonationLink(ctx context.Context, organizationID, donationLinkID uuid.UUID) (*domain.ResolvedSplitConfig, error) {
	config, err := s.repo.GetDonationLinkSplitConfig(ctx, donationLinkID)
	if err != nil {
		if err == store.ErrDonationLinkNotFound {
			log.Printf("level=warn component=split_resolver msg=\"donation link not found\" donation_link_id=%s", donationLinkID)
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load donation link %s: %w", donationLinkID, err)
	}
	// Strict short-circuit: a Stripe-Connect-mode link (or a bank-accounts
	// link with no entries) means no bank-account split for this donation.
	if !config.HasBankAccountSplits() {
		return nil, nil
	}
	return resolved(organizationID, config), nil
}

func (s *Service) resolveFromEmbedCard(ctx context.Context, organizationID, embedCardID uuid.UUID) (*domain.ResolvedSplitConfig, error) {
	config, err := s.repo.GetEmbedCardSplitConfig(ctx, embedCardID)
	if err != nil {
		if err == store.ErrEmbedCardNotFound {
			log.Printf("level=warn component=split_resolver msg=\"embed card not found; falling back to organization defaults\" embed_card_id=%s", embedCardID)
			return s.resolveFromFormCustomization(ctx, organizationID)
		}
		return nil, fmt.Errorf("failed to load embed card %s: %w", embedCardID, err)
	}
	if config.HasBankAccountSplits() {
		return resolved(organizationID, config), nil
	}
	// Unlike donation links, an embed card without usable splits falls
	// through to its organization's form customization.
	return s.resolveFromFormCustomization(ctx, organizationID)
}

func (s *Service) resolveFromFormCustomization(ctx context.Context, organizationID uuid.UUID) (*domain.ResolvedSplitConfig, error) {
	config, err := s.repo.GetFormCustomizationSplitConfig(ctx, organizationID)
	if err != nil {
		if err == store.ErrFormCustomizationNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load form customization for organization %s: %w", organizationID, err)
	}
	if !config.HasBankAccountSplits() {
		return nil, nil
	}
	return resolved(organizationID, config), nil
}

func resolved(organizationID uuid.UUID, config *domain.SplitConfig) *domain.ResolvedSplitConfig {
	return &domain.ResolvedSplitConfig{
		OrganizationID: organizationID,
		SplitMode:      domain.SplitModeBankAccounts,
		Splits:         config.Splits,
	}
}
