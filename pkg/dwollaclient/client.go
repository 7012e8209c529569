/**
 * @description
 * This package provides a client for interacting with the Dwolla ACH API.
 * It encapsulates OAuth2 client-credentials token management, authenticated
 * HTTP requests against Dwolla's HAL endpoints, and response parsing.
 *
 * Key features:
 * - Transfers are created with an `Idempotency-Key` header so duplicate calls
 *   with the same key return the original transfer instead of creating a
 *   second one.
 * - Amounts are converted from integer minor units (cents) to Dwolla's
 *   decimal string format with exactly two decimal places.
 * - The created transfer's resource URL is read from the `Location` header of
 *   the 201 response.
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, net/http, sync, time: Standard Go libraries.
 */
package dwollaclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// Client is a client for the Dwolla API.
type Client struct {
	BaseURL    string
	Key        string
	Secret     string
	HTTPClient *http.Client

	tokenMu     sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// NewClient creates a new Dwolla API client.
func NewClient(baseURL, key, secret string) *Client {
	return &Client{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		Key:     key,
		Secret:  secret,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// CreateTransferRequest carries the parameters for one ACH transfer.
type CreateTransferRequest struct {
	SourceFundingSourceURL      string
	DestinationFundingSourceURL string
	AmountCents                 int64
	IdempotencyKey              string
}

// transferPayload is the HAL request body for POST /transfers.
type transferPayload struct {
	Links struct {
		Source struct {
			Href string `json:"href"`
		} `json:"source"`
		Destination struct {
			Href string `json:"href"`
		} `json:"destination"`
	} `json:"_links"`
	Amount struct {
		Currency string `json:"currency"`
		Value    string `json:"value"`
	} `json:"amount"`
}

// tokenResponse is the response from Dwolla's OAuth token endpoint.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// ErrorResponse represents an error returned by the Dwolla API.
type ErrorResponse struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Embedded struct {
		Errors []struct {
			Code    string `json:"code"`
			Message string `json:"message"`
			Path    string `json:"path"`
		} `json:"errors"`
	} `json:"_embedded"`
}

func (e *ErrorResponse) Error() string {
	if len(e.Embedded.Errors) > 0 {
		detail := e.Embedded.Errors[0]
		return fmt.Sprintf("dwolla api error: %s - %s (%s)", e.Code, detail.Message, detail.Path)
	}
	if e.Code != "" || e.Message != "" {
		return fmt.Sprintf("dwolla api error: %s - %s", e.Code, e.Message)
	}
	return "unknown dwolla api error"
}

// FormatAmount converts integer minor units to Dwolla's decimal string format
// with exactly two decimal places, e.g. 6000 -> "60.00", 111 -> "1.11".
func FormatAmount(amountCents int64) string {
	sign := ""
	if amountCents < 0 {
		sign = "-"
		amountCents = -amountCents
	}
	return fmt.Sprintf("%s%d.%02d", sign, amountCents/100, amountCents%100)
}

// CreateTransfer submits one ACH transfer and returns the created transfer's
// resource URL. Duplicate calls carrying the same idempotency key are
// de-duplicated by Dwolla and return the original transfer's location.
func (c *Client) CreateTransfer(ctx context.Context, req CreateTransferRequest) (string, error) {
	token, err := c.token(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to obtain dwolla access token: %w", err)
	}

	payload := transferPayload{}
	payload.Links.Source.Href = req.SourceFundingSourceURL
	payload.Links.Destination.Href = req.DestinationFundingSourceURL
	payload.Amount.Currency = "USD"
	payload.Amount.Value = FormatAmount(req.AmountCents)

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal transfer request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+"/transfers", bytes.NewBuffer(body))
	if err != nil {
		return "", fmt.Errorf("failed to create transfer request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/vnd.dwolla.v1.hal+json")
	httpReq.Header.Set("Accept", "application/vnd.dwolla.v1.hal+json")
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("failed to execute transfer request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read transfer response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp ErrorResponse
		if err := json.Unmarshal(bodyBytes, &errResp); err != nil {
			log.Printf("level=warn component=dwolla_client op=create_transfer status=%d msg=\"non-2xx response (unparsable error body)\"", resp.StatusCode)
			return "", fmt.Errorf("failed to decode error response (status %d)", resp.StatusCode)
		}
		log.Printf("level=warn component=dwolla_client op=create_transfer status=%d code=%q message=%q", resp.StatusCode, errResp.Code, errResp.Message)
		return "", &errResp
	}

	location := resp.Header.Get("Location")
	if location == "" {
		return "", fmt.Errorf("transfer created but response carried no Location header (status %d)", resp.StatusCode)
	}
	return location, nil
}

// token returns a cached application access token, fetching a fresh one from
// the OAuth endpoint when the cached token is missing or close to expiry.
func (c *Client) token(ctx context.Context) (string, error) {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()

	if c.accessToken != "" && time.Now().Before(c.tokenExpiry.Add(-30*time.Second)) {
		return c.accessToken, nil
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")

	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+"/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to create token request: %w", err)
	}
	req.SetBasicAuth(c.Key, c.Secret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to execute token request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read token response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Printf("level=warn component=dwolla_client op=token status=%d msg=\"token request rejected\"", resp.StatusCode)
		return "", fmt.Errorf("token request rejected (status %d)", resp.StatusCode)
	}

	var tokenResp tokenResponse
	if err := json.Unmarshal(bodyBytes, &tokenResp); err != nil {
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}
	if tokenResp.AccessToken == "" {
		return "", fmt.Errorf("token response carried no access token")
	}

	c.accessToken = tokenResp.AccessToken
	expiresIn := tokenResp.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = 3600
	}
	c.tokenExpiry = time.Now().Add(time.Duration(expiresIn) * time.Second)
	return c.accessToken, nil
}
