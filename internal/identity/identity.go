// Package identity exchanges bearer credentials for a verified Principal.
package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"armory/api/internal/auth"
)

// Principal is the verified identity of a caller. It lives for one request
// and is never persisted.
type Principal struct {
	ID    string
	Email string
	Name  string
}

var (
	// ErrUnauthenticated means no credential was presented.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrInvalidCredential means the provider rejected the credential, or the
	// provider call itself failed. The two are intentionally not distinguished
	// so infrastructure state never leaks to callers.
	ErrInvalidCredential = errors.New("invalid credential")
)

type Verifier interface {
	Verify(ctx context.Context, token string) (Principal, error)
}

// HTTPVerifier resolves tokens against an external identity provider with a
// single round trip per request. No retries, no caching of validity.
type HTTPVerifier struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewHTTPVerifier(baseURL, apiKey string) *HTTPVerifier {
	return &HTTPVerifier{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (v *HTTPVerifier) Verify(ctx context.Context, token string) (Principal, error) {
	if strings.TrimSpace(token) == "" {
		return Principal{}, ErrUnauthenticated
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.baseURL+"/auth/v1/user", nil)
	if err != nil {
		return Principal{}, fmt.Errorf("build verify request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("apikey", v.apiKey)

	resp, err := v.client.Do(req)
	if err != nil {
		// Transport failure surfaces as a rejected credential; keep the real
		// cause in the server log.
		log.Printf("identity: provider call failed: %v", err)
		return Principal{}, ErrInvalidCredential
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Principal{}, ErrInvalidCredential
	}

	var body struct {
		ID    string `json:"id"`
		Email string `json:"email"`
		Name  string `json:"name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		log.Printf("identity: provider response malformed: %v", err)
		return Principal{}, ErrInvalidCredential
	}
	if body.ID == "" {
		return Principal{}, ErrInvalidCredential
	}
	if body.Name == "" {
		body.Name = body.Email
	}
	return Principal{ID: body.ID, Email: body.Email, Name: body.Name}, nil
}

// LocalVerifier validates tokens issued by the accounts service, so the
// system can run without an external provider.
type LocalVerifier struct {
	secret []byte
}

func NewLocalVerifier(secret string) *LocalVerifier {
	return &LocalVerifier{secret: []byte(secret)}
}

func (v *LocalVerifier) Verify(ctx context.Context, token string) (Principal, error) {
	if strings.TrimSpace(token) == "" {
		return Principal{}, ErrUnauthenticated
	}
	claims, err := auth.ParseToken(v.secret, token)
	if err != nil {
		return Principal{}, ErrInvalidCredential
	}
	return Principal{ID: claims.Sub, Email: claims.Email, Name: claims.Name}, nil
}
