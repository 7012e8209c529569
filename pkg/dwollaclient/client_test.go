package dwollaclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestServer(t *testing.T, transfers http.HandlerFunc) (*httptest.Server, *Client, *int) {
	t.Helper()
	tokenCalls := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		tokenCalls++
		if r.Method != http.MethodPost {
			t.Errorf("expected POST to /token, got %s", r.Method)
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "test-key" || pass != "test-secret" {
			t.Error("expected basic auth with the client credentials")
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "test-token",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	})
	mux.HandleFunc("/transfers", transfers)

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	client := NewClient(server.URL, "test-key", "test-secret")
	return server, client, &tokenCalls
}

func TestCreateTransfer_Success(t *testing.T) {
	var gotIdempotencyKey, gotAuthorization string
	var gotPayload transferPayload

	server, client, tokenCalls := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotIdempotencyKey = r.Header.Get("Idempotency-Key")
		gotAuthorization = r.Header.Get("Authorization")
		if ct := r.Header.Get("Content-Type"); ct != "application/vnd.dwolla.v1.hal+json" {
			t.Errorf("unexpected content type %q", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotPayload); err != nil {
			t.Errorf("failed to decode transfer payload: %v", err)
		}
		w.Header().Set("Location", "https://api-sandbox.dwolla.com/transfers/abc-123")
		w.WriteHeader(http.StatusCreated)
	})

	location, err := client.CreateTransfer(context.Background(), CreateTransferRequest{
		SourceFundingSourceURL:      server.URL + "/funding-sources/source",
		DestinationFundingSourceURL: server.URL + "/funding-sources/dest",
		AmountCents:                 6000,
		IdempotencyKey:              "key-1",
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if location != "https://api-sandbox.dwolla.com/transfers/abc-123" {
		t.Fatalf("expected the Location header value, got %q", location)
	}
	if gotIdempotencyKey != "key-1" {
		t.Fatalf("expected Idempotency-Key header, got %q", gotIdempotencyKey)
	}
	if gotAuthorization != "Bearer test-token" {
		t.Fatalf("expected bearer token header, got %q", gotAuthorization)
	}
	if gotPayload.Amount.Currency != "USD" || gotPayload.Amount.Value != "60.00" {
		t.Fatalf("expected USD 60.00, got %s %s", gotPayload.Amount.Currency, gotPayload.Amount.Value)
	}
	if gotPayload.Links.Source.Href != server.URL+"/funding-sources/source" {
		t.Fatalf("unexpected source link %q", gotPayload.Links.Source.Href)
	}
	if gotPayload.Links.Destination.Href != server.URL+"/funding-sources/dest" {
		t.Fatalf("unexpected destination link %q", gotPayload.Links.Destination.Href)
	}
	if *tokenCalls != 1 {
		t.Fatalf("expected 1 token fetch, got %d", *tokenCalls)
	}
}

func TestCreateTransfer_TokenIsCachedAcrossCalls(t *testing.T) {
	server, client, tokenCalls := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", "https://api-sandbox.dwolla.com/transfers/abc")
		w.WriteHeader(http.StatusCreated)
	})

	req := CreateTransferRequest{
		SourceFundingSourceURL:      server.URL + "/funding-sources/source",
		DestinationFundingSourceURL: server.URL + "/funding-sources/dest",
		AmountCents:                 100,
		IdempotencyKey:              "key-cache",
	}
	for i := 0; i < 3; i++ {
		if _, err := client.CreateTransfer(context.Background(), req); err != nil {
			t.Fatalf("call %d: expected nil error, got %v", i, err)
		}
	}
	if *tokenCalls != 1 {
		t.Fatalf("expected the token to be fetched once, got %d fetches", *tokenCalls)
	}
}

func TestCreateTransfer_APIErrorIsParsed(t *testing.T) {
	server, client, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/vnd.dwolla.v1.hal+json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"code":    "ValidationError",
			"message": "Validation error(s) present.",
			"_embedded": map[string]interface{}{
				"errors": []map[string]string{
					{"code": "Invalid", "message": "Funding source not found.", "path": "/_links/destination/href"},
				},
			},
		})
	})

	_, err := client.CreateTransfer(context.Background(), CreateTransferRequest{
		SourceFundingSourceURL:      server.URL + "/funding-sources/source",
		DestinationFundingSourceURL: server.URL + "/funding-sources/missing",
		AmountCents:                 100,
		IdempotencyKey:              "key-err",
	})
	if err == nil {
		t.Fatal("expected an error for a 400 response")
	}
	var apiErr *ErrorResponse
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected an *ErrorResponse, got %T", err)
	}
	if apiErr.Code != "ValidationError" {
		t.Fatalf("expected code ValidationError, got %q", apiErr.Code)
	}
	if got := apiErr.Error(); got != "dwolla api error: ValidationError - Funding source not found. (/_links/destination/href)" {
		t.Fatalf("unexpected error string %q", got)
	}
}

func TestCreateTransfer_MissingLocationHeader(t *testing.T) {
	server, client, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})

	_, err := client.CreateTransfer(context.Background(), CreateTransferRequest{
		SourceFundingSourceURL:      server.URL + "/funding-sources/source",
		DestinationFundingSourceURL: server.URL + "/funding-sources/dest",
		AmountCents:                 100,
		IdempotencyKey:              "key-loc",
	})
	if err == nil {
		t.Fatal("expected an error when the Location header is absent")
	}
}

func TestCreateTransfer_TokenRejection(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := NewClient(server.URL, "bad-key", "bad-secret")
	_, err := client.CreateTransfer(context.Background(), CreateTransferRequest{
		SourceFundingSourceURL:      server.URL + "/funding-sources/source",
		DestinationFundingSourceURL: server.URL + "/funding-sources/dest",
		AmountCents:                 100,
		IdempotencyKey:              "key-token",
	})
	if err == nil {
		t.Fatal("expected an error when the token request is rejected")
	}
}

func TestFormatAmount(t *testing.T) {
	tests := []struct {
		cents int64
		want  string
	}{
		{6000, "60.00"},
		{4000, "40.00"},
		{111, "1.11"},
		{1, "0.01"},
		{10, "0.10"},
		{100, "1.00"},
		{99, "0.99"},
		{123456, "1234.56"},
		{-250, "-2.50"},
		{0, "0.00"},
	}

	for _, tt := range tests {
		if got := FormatAmount(tt.cents); got != tt.want {
			t.Errorf("FormatAmount(%d) = %q, want %q", tt.cents, got, tt.want)
		}
	}
}
