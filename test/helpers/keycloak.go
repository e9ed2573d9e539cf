//go:build integration

package helpers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"
)

// KeycloakConfig locates a pre-provisioned realm with a confidential client
// allowed to use the client credentials grant and an audience mapper.
type KeycloakConfig struct {
	Address      string
	Realm        string
	ClientID     string
	ClientSecret string
	Audience     string
}

// GetKeycloakConfig reads the Keycloak settings from the environment.
func GetKeycloakConfig() KeycloakConfig {
	return KeycloakConfig{
		Address:      getEnvOrDefault("KEYCLOAK_ADDR", DefaultKeycloakAddr),
		Realm:        getEnvOrDefault("KEYCLOAK_REALM", DefaultKeycloakRealm),
		ClientID:     getEnvOrDefault("KEYCLOAK_CLIENT_ID", DefaultKeycloakClientID),
		ClientSecret: getEnvOrDefault("KEYCLOAK_CLIENT_SECRET", DefaultKeycloakClientSecret),
		Audience:     getEnvOrDefault("KEYCLOAK_AUDIENCE", DefaultKeycloakAudience),
	}
}

// IssuerURL returns the realm issuer.
func (c KeycloakConfig) IssuerURL() string {
	return fmt.Sprintf("%s/realms/%s", c.Address, c.Realm)
}

// TokenResponse is the token endpoint response.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

// SkipIfKeycloakUnavailable skips the test if the realm cannot be reached.
func SkipIfKeycloakUnavailable(t *testing.T) {
	t.Helper()

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(GetKeycloakConfig().IssuerURL())
	if err == nil {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			return
		}
	}
	t.Skip("Keycloak realm not available at", GetKeycloakConfig().IssuerURL(), "- skipping test")
}

// ClientCredentialsToken obtains an access token for the configured client.
func (c KeycloakConfig) ClientCredentialsToken(ctx context.Context) (*TokenResponse, error) {
	data := url.Values{}
	data.Set("grant_type", "client_credentials")
	data.Set("client_id", c.ClientID)
	data.Set("client_secret", c.ClientSecret)

	tokenURL := c.IssuerURL() + "/protocol/openid-connect/token"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("token request failed: status=%d, body=%s", resp.StatusCode, string(body))
	}

	var tokenResp TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &tokenResp, nil
}
