package main

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/org/authcore/internal/api"
	"github.com/org/authcore/pkg/models"
)

// errUnauthorized marks a 401 from the server.
var errUnauthorized = errors.New("unauthorized")

// Client is an HTTP client for the authcore API.
type Client struct {
	addr  string
	token string
	http  *http.Client
}

// newClient creates a Client from the current config and environment.
func newClient() *Client {
	addr := cfg.Address
	if v := os.Getenv("AUTHCORE_ADDR"); v != "" {
		addr = v
	}
	token := cfg.Token
	if v := os.Getenv("AUTHCORE_TOKEN"); v != "" {
		token = v
	}
	caCert := cfg.TLSCACert
	if v := os.Getenv("AUTHCORE_CACERT"); v != "" {
		caCert = v
	}

	tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if caCert != "" {
		if data, err := os.ReadFile(caCert); err == nil {
			pool := x509.NewCertPool()
			pool.AppendCertsFromPEM(data)
			tlsCfg.RootCAs = pool
		}
	}

	return &Client{
		addr:  addr,
		token: token,
		http: &http.Client{
			Timeout:   30 * time.Second,
			Transport: &http.Transport{TLSClientConfig: tlsCfg},
		},
	}
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.addr+path, bodyReader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set(api.TokenHeader, c.token)
	}
	return c.http.Do(req)
}

func (c *Client) get(ctx context.Context, path string, query url.Values) (map[string]any, error) {
	if len(query) > 0 {
		path += "?" + query.Encode()
	}
	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	return parseResponse(resp)
}

func (c *Client) post(ctx context.Context, path string, body any) (map[string]any, error) {
	resp, err := c.do(ctx, http.MethodPost, path, body)
	if err != nil {
		return nil, err
	}
	return parseResponse(resp)
}

func parseResponse(resp *http.Response) (map[string]any, error) {
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNoContent {
		return map[string]any{}, nil
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, data)
	}
	if resp.StatusCode >= 400 {
		msg := fmt.Sprintf("HTTP %d", resp.StatusCode)
		if errs, ok := result["errors"].([]any); ok && len(errs) > 0 {
			msg = fmt.Sprint(errs[0])
		}
		if resp.StatusCode == http.StatusUnauthorized {
			return result, fmt.Errorf("%w: %s", errUnauthorized, msg)
		}
		return result, errors.New(msg)
	}
	return result, nil
}

// selfView is the lookup-self payload.
type selfView struct {
	PrincipalID     string              `json:"principal_id"`
	Role            models.Role         `json:"role"`
	Permissions     []models.Permission `json:"permissions"`
	AuthenticatedAt time.Time           `json:"authenticated_at"`
	ExpiresAt       time.Time           `json:"expires_at"`
}

// remoteIdentity is the identity provider for the CLI's saved token. It
// reads the server's view of the token and renews it on request.
type remoteIdentity struct {
	client *Client

	mu   sync.Mutex
	self *selfView
}

func (r *remoteIdentity) lookup(ctx context.Context, force bool) (*selfView, error) {
	r.mu.Lock()
	cached := r.self
	r.mu.Unlock()
	if cached != nil && !force {
		return cached, nil
	}

	result, err := r.client.get(ctx, "/v1/auth/token/lookup-self", nil)
	if errors.Is(err, errUnauthorized) {
		r.mu.Lock()
		r.self = nil
		r.mu.Unlock()
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	view, err := decodeSelf(result)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.self = view
	r.mu.Unlock()
	return view, nil
}

func (r *remoteIdentity) CurrentPrincipal(ctx context.Context) (*models.Principal, error) {
	view, err := r.lookup(ctx, false)
	if err != nil || view == nil {
		return nil, err
	}
	perms := make(map[models.Permission]struct{}, len(view.Permissions))
	for _, p := range view.Permissions {
		perms[p] = struct{}{}
	}
	return &models.Principal{ID: view.PrincipalID, Role: view.Role, Permissions: perms}, nil
}

func (r *remoteIdentity) TokenInfo(ctx context.Context, forceRefresh bool) (models.TokenInfo, error) {
	view, err := r.lookup(ctx, forceRefresh)
	if err != nil {
		return models.TokenInfo{}, err
	}
	if view == nil {
		return models.TokenInfo{}, errUnauthorized
	}
	return models.TokenInfo{ValidUntil: view.ExpiresAt, AuthenticatedAt: view.AuthenticatedAt}, nil
}

func (r *remoteIdentity) ForceRefresh(ctx context.Context) error {
	result, err := r.client.post(ctx, "/v1/auth/token/renew-self", nil)
	if err != nil {
		return err
	}
	view, err := decodeSelf(result)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.self = view
	r.mu.Unlock()
	return nil
}

func decodeSelf(result map[string]any) (*selfView, error) {
	raw, err := json.Marshal(result["data"])
	if err != nil {
		return nil, err
	}
	var view selfView
	if err := json.Unmarshal(raw, &view); err != nil {
		return nil, fmt.Errorf("decoding token view: %w", err)
	}
	return &view, nil
}

// remoteAuditor forwards sensitive permission probes to the server, which
// records them in the durable audit log.
type remoteAuditor struct {
	client *Client
}

func (a *remoteAuditor) LogResourceAccess(ctx context.Context, _ *models.Principal, _, resourceType, resourceID string, _ models.Result, _ map[string]any) {
	if resourceType != "permission" {
		return
	}
	if _, err := a.client.get(ctx, "/v1/auth/permissions", url.Values{"perm": {resourceID}, "sensitive": {resourceID}}); err != nil {
		printError("recording permission probe: " + err.Error())
	}
}

// serverTuning fetches the session thresholds the server advertises on its
// health endpoint. Missing or malformed values are left out.
func (c *Client) serverTuning(ctx context.Context) (map[string]time.Duration, error) {
	result, err := c.get(ctx, "/v1/sys/health", nil)
	if err != nil {
		return nil, err
	}
	raw, _ := result["session"].(map[string]any)
	out := make(map[string]time.Duration, len(raw))
	for k, v := range raw {
		s, ok := v.(string)
		if !ok {
			continue
		}
		if d, err := time.ParseDuration(s); err == nil && d > 0 {
			out[k] = d
		}
	}
	return out, nil
}
