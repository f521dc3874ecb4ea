package zoho

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/rezonia/fiscal-sync/internal/model"
)

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	Error       string `json:"error"`
}

// RefreshAccessToken exchanges the integration's refresh token for a new
// access token
func (c *Client) RefreshAccessToken(ctx context.Context, in model.LedgerIntegration) (string, error) {
	if in.RefreshToken == "" {
		return "", fmt.Errorf("zoho refresh: no refresh token configured")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	form := url.Values{
		"refresh_token": {in.RefreshToken},
		"client_id":     {in.ClientID},
		"client_secret": {in.ClientSecret},
		"grant_type":    {"refresh_token"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.accountsURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("zoho refresh: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("zoho refresh: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("zoho refresh: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", &APIError{Op: "refresh token", StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(data))}
	}

	var tok tokenResponse
	if err := json.Unmarshal(data, &tok); err != nil {
		return "", fmt.Errorf("zoho refresh: decode response: %w", err)
	}
	// Failures can come back as 200 with an error field
	if tok.Error != "" || tok.AccessToken == "" {
		return "", &APIError{Op: "refresh token", StatusCode: resp.StatusCode, Message: tok.Error}
	}
	return tok.AccessToken, nil
}
