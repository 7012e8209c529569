package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/giveflow/disbursement-service/internal/app"
	"github.com/giveflow/disbursement-service/internal/domain"
	"github.com/giveflow/disbursement-service/internal/store"
	"github.com/giveflow/disbursement-service/pkg/dwollaclient"
	"github.com/google/uuid"
)

// handlerRepoStub serves the executor's read paths for one donation with an
// organization-level split. Methods outside the handler paths are left to the
// embedded interface and panic if reached.
type handlerRepoStub struct {
	store.Repository

	donation  *domain.Donation
	org       *domain.Organization
	account   *domain.SplitBankAccount
	config    *domain.SplitConfig
	transfers map[string]*domain.SplitTransfer
}

func newHandlerRepoStub() *handlerRepoStub {
	orgID := uuid.New()
	accountID := uuid.New()
	source := "https://api-sandbox.dwolla.com/funding-sources/org"
	destination := "https://api-sandbox.dwolla.com/funding-sources/recipient"
	return &handlerRepoStub{
		donation: &domain.Donation{
			ID:               uuid.New(),
			OrganizationID:   orgID,
			Amount:           10000,
			PaymentReference: "pi_handler",
			Status:           "succeeded",
		},
		org: &domain.Organization{
			ID:                     orgID,
			Name:                   "Grace Chapel",
			DwollaFundingSourceURL: &source,
		},
		account: &domain.SplitBankAccount{
			ID:                     accountID,
			OrganizationID:         orgID,
			AccountName:            "Recipient",
			DwollaFundingSourceURL: &destination,
		},
		config: &domain.SplitConfig{
			Mode:   domain.SplitModeBankAccounts,
			Splits: []domain.SplitEntry{{Percentage: 100, BankAccountID: accountID}},
		},
		transfers: make(map[string]*domain.SplitTransfer),
	}
}

func (s *handlerRepoStub) FindDonationByID(ctx context.Context, donationID uuid.UUID) (*domain.Donation, error) {
	if s.donation == nil || s.donation.ID != donationID {
		return nil, store.ErrDonationNotFound
	}
	return s.donation, nil
}

func (s *handlerRepoStub) FindOrganizationByID(ctx context.Context, organizationID uuid.UUID) (*domain.Organization, error) {
	return s.org, nil
}

func (s *handlerRepoStub) FindSplitBankAccountByID(ctx context.Context, bankAccountID uuid.UUID) (*domain.SplitBankAccount, error) {
	return s.account, nil
}

func (s *handlerRepoStub) GetFormCustomizationSplitConfig(ctx context.Context, organizationID uuid.UUID) (*domain.SplitConfig, error) {
	if s.config == nil {
		return nil, store.ErrFormCustomizationNotFound
	}
	return s.config, nil
}

func (s *handlerRepoStub) FindSplitTransfer(ctx context.Context, paymentReference string, bankAccountID uuid.UUID) (*domain.SplitTransfer, error) {
	transfer, ok := s.transfers[paymentReference+"|"+bankAccountID.String()]
	if !ok {
		return nil, store.ErrTransferNotFound
	}
	return transfer, nil
}

func (s *handlerRepoStub) ClaimSplitTransfer(ctx context.Context, transfer *domain.SplitTransfer) (bool, error) {
	key := transfer.PaymentReference + "|" + transfer.BankAccountID.String()
	if _, exists := s.transfers[key]; exists {
		return false, nil
	}
	copied := *transfer
	s.transfers[key] = &copied
	return true, nil
}

func (s *handlerRepoStub) MarkSplitTransferCompleted(ctx context.Context, transferID uuid.UUID, dwollaTransferURL string) error {
	for _, transfer := range s.transfers {
		if transfer.ID == transferID {
			transfer.Status = domain.TransferStatusCompleted
			transfer.DwollaTransferURL = &dwollaTransferURL
			return nil
		}
	}
	return store.ErrTransferNotFound
}

func (s *handlerRepoStub) ListSplitTransfersByDonationID(ctx context.Context, donationID uuid.UUID) ([]domain.SplitTransfer, error) {
	var transfers []domain.SplitTransfer
	for _, transfer := range s.transfers {
		if transfer.DonationID == donationID {
			transfers = append(transfers, *transfer)
		}
	}
	return transfers, nil
}

func (s *handlerRepoStub) ListFailedSplitTransfers(ctx context.Context, since time.Time, limit int) ([]domain.SplitTransfer, error) {
	var transfers []domain.SplitTransfer
	for _, transfer := range s.transfers {
		if transfer.Status == domain.TransferStatusFailed {
			transfers = append(transfers, *transfer)
		}
	}
	return transfers, nil
}

type handlerTransferClientStub struct {
	calls int
}

func (c *handlerTransferClientStub) CreateTransfer(ctx context.Context, req dwollaclient.CreateTransferRequest) (string, error) {
	c.calls++
	return "https://api-sandbox.dwolla.com/transfers/handler-test", nil
}

func executeBody(t *testing.T, donationID uuid.UUID) *bytes.Buffer {
	t.Helper()
	body, err := json.Marshal(map[string]string{"donation_id": donationID.String()})
	if err != nil {
		t.Fatalf("failed to marshal body: %v", err)
	}
	return bytes.NewBuffer(body)
}

func TestExecuteDisbursementHandler_Success(t *testing.T) {
	repo := newHandlerRepoStub()
	client := &handlerTransferClientStub{}
	service := app.NewService(repo, client, nil, true)
	handlers := NewDisbursementHandlers(service)

	req := httptest.NewRequest(http.MethodPost, "/execute", executeBody(t, repo.donation.ID))
	rec := httptest.NewRecorder()
	handlers.ExecuteDisbursementHandler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp executeDisbursementResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !resp.SplitApplied {
		t.Fatal("expected split_applied true")
	}
	if len(resp.Transfers) != 1 {
		t.Fatalf("expected 1 transfer in response, got %d", len(resp.Transfers))
	}
	if client.calls != 1 {
		t.Fatalf("expected 1 provider call, got %d", client.calls)
	}
}

func TestExecuteDisbursementHandler_NoApplicableSplit(t *testing.T) {
	repo := newHandlerRepoStub()
	repo.config = nil
	service := app.NewService(repo, &handlerTransferClientStub{}, nil, true)
	handlers := NewDisbursementHandlers(service)

	req := httptest.NewRequest(http.MethodPost, "/execute", executeBody(t, repo.donation.ID))
	rec := httptest.NewRecorder()
	handlers.ExecuteDisbursementHandler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp executeDisbursementResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.SplitApplied {
		t.Fatal("expected split_applied false when no configuration exists")
	}
}

func TestExecuteDisbursementHandler_DonationNotFound(t *testing.T) {
	repo := newHandlerRepoStub()
	service := app.NewService(repo, &handlerTransferClientStub{}, nil, true)
	handlers := NewDisbursementHandlers(service)

	req := httptest.NewRequest(http.MethodPost, "/execute", executeBody(t, uuid.New()))
	rec := httptest.NewRecorder()
	handlers.ExecuteDisbursementHandler(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestExecuteDisbursementHandler_InvalidBody(t *testing.T) {
	repo := newHandlerRepoStub()
	service := app.NewService(repo, &handlerTransferClientStub{}, nil, true)
	handlers := NewDisbursementHandlers(service)

	req := httptest.NewRequest(http.MethodPost, "/execute", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	handlers.ExecuteDisbursementHandler(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestExecuteDisbursementHandler_MissingDonationID(t *testing.T) {
	repo := newHandlerRepoStub()
	service := app.NewService(repo, &handlerTransferClientStub{}, nil, true)
	handlers := NewDisbursementHandlers(service)

	req := httptest.NewRequest(http.MethodPost, "/execute", bytes.NewBufferString("{}"))
	rec := httptest.NewRecorder()
	handlers.ExecuteDisbursementHandler(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestExecuteDisbursementHandler_DisabledService(t *testing.T) {
	repo := newHandlerRepoStub()
	service := app.NewService(repo, &handlerTransferClientStub{}, nil, false)
	handlers := NewDisbursementHandlers(service)

	req := httptest.NewRequest(http.MethodPost, "/execute", executeBody(t, repo.donation.ID))
	rec := httptest.NewRecorder()
	handlers.ExecuteDisbursementHandler(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestInternalAPIKeyMiddleware(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	guarded := InternalAPIKeyMiddleware("shared-secret")(next)

	tests := []struct {
		name     string
		provided string
		want     int
	}{
		{name: "valid key", provided: "shared-secret", want: http.StatusOK},
		{name: "wrong key", provided: "other", want: http.StatusUnauthorized},
		{name: "missing key", provided: "", want: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/execute", nil)
			if tt.provided != "" {
				req.Header.Set("X-Internal-API-Key", tt.provided)
			}
			rec := httptest.NewRecorder()
			guarded.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, rec.Code)
			}
		})
	}
}

func TestInternalAPIKeyMiddleware_EmptyConfiguredKeyRejectsAll(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	guarded := InternalAPIKeyMiddleware("")(next)

	req := httptest.NewRequest(http.MethodPost, "/execute", nil)
	req.Header.Set("X-Internal-API-Key", "")
	rec := httptest.NewRecorder()
	guarded.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatal("expected requests to be rejected when no key is configured")
	}
}
