package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-bridge/internal/config"
	"github.com/spec-kit/ticket-bridge/internal/domain"
	util "github.com/spec-kit/ticket-bridge/pkg/util"
)

// Client talks to the provider API. It owns the credential exclusively:
// every authenticated call goes through EnsureValid, concurrent renewal
// attempts coalesce onto a single in-flight exchange, and each credential
// change is persisted before it is considered committed.
type Client struct {
	httpClient *http.Client
	cfg        config.ProviderConfig
	tokens     *FileTokenStore
	logger     *zap.Logger
	now        func() time.Time

	credMu sync.RWMutex
	cred   *Credential

	flightMu      sync.Mutex
	ensureFlight  *flight
	refreshFlight *flight
}

type flight struct {
	done chan struct{}
	err  error
}

type tokenResponse struct {
	AccessToken            string `json:"accessToken"`
	ExpiresIn              int64  `json:"expiresIn"`
	RefreshToken           string `json:"refreshToken"`
	RefreshTokenExpiration string `json:"refreshTokenExpiration"`
}

// New creates a provider client and loads any persisted credential.
func New(cfg config.ProviderConfig, logger *zap.Logger) (*Client, error) {
	c := &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		cfg:        cfg,
		tokens:     NewFileTokenStore(cfg.TokenFile),
		logger:     logger,
		now:        time.Now,
	}

	cred, err := c.tokens.Load()
	if err != nil {
		logger.Warn("unable to load persisted credential", zap.Error(err))
	} else if cred != nil {
		c.cred = cred
		logger.Info("credential loaded", zap.String("path", c.tokens.Path()))
	}
	return c, nil
}

// EnsureValid guarantees a usable access token: generation when none
// exists, refresh when it is expiring, full regeneration when the
// refresh token itself has expired. Concurrent callers share one
// outcome.
func (c *Client) EnsureValid(ctx context.Context) error {
	return c.singleFlight(ctx, &c.ensureFlight, func() error {
		return c.ensure(ctx)
	})
}

func (c *Client) ensure(ctx context.Context) error {
	cred := c.currentCredential()
	if cred == nil || cred.AccessToken == "" {
		if err := c.generate(ctx); err != nil {
			return util.NewAuthError(err)
		}
		return nil
	}
	if cred.ExpiringSoon(c.now()) {
		return c.refreshOrGenerate(ctx)
	}
	return nil
}

// refreshOrGenerate runs the refresh flow under its own single-flight
// slot: refresh with the stored refresh token, falling back to full
// generation when that token is expired, absent, or rejected.
func (c *Client) refreshOrGenerate(ctx context.Context) error {
	return c.singleFlight(ctx, &c.refreshFlight, func() error {
		cred := c.currentCredential()
		if cred.RefreshExpired(c.now()) {
			c.logger.Info("refresh token expired, generating a new credential")
			if err := c.generate(ctx); err != nil {
				return util.NewAuthError(err)
			}
			return nil
		}

		c.logger.Info("refreshing access token")
		var tr tokenResponse
		err := c.postAuth(ctx, "/auth/token/refresh", map[string]string{"refreshToken": cred.RefreshToken}, &tr)
		if err != nil {
			c.logger.Warn("refresh failed, generating a new credential", zap.Error(err))
			if genErr := c.generate(ctx); genErr != nil {
				return util.NewAuthError(fmt.Errorf("refresh: %v; generate: %w", err, genErr))
			}
			return nil
		}
		return c.commitCredential(tr)
	})
}

func (c *Client) generate(ctx context.Context) error {
	c.logger.Info("generating new access token")
	var tr tokenResponse
	if err := c.postAuth(ctx, "/auth/token", map[string]string{"secret": c.cfg.APIKey}, &tr); err != nil {
		return err
	}
	return c.commitCredential(tr)
}

// commitCredential persists the exchanged token pair before making it
// visible to callers.
func (c *Client) commitCredential(tr tokenResponse) error {
	cred := &Credential{
		AccessToken:            tr.AccessToken,
		ExpireAt:               c.now().UnixMilli() + tr.ExpiresIn*1000,
		RefreshToken:           tr.RefreshToken,
		RefreshTokenExpiration: tr.RefreshTokenExpiration,
	}
	if err := c.tokens.Save(cred); err != nil {
		return fmt.Errorf("persist credential: %w", err)
	}
	c.credMu.Lock()
	c.cred = cred
	c.credMu.Unlock()
	return nil
}

func (c *Client) currentCredential() *Credential {
	c.credMu.RLock()
	defer c.credMu.RUnlock()
	return c.cred
}

// singleFlight coalesces concurrent callers onto the in-flight run held
// in slot. The slot is cleared on completion, success or failure, so a
// failed run never wedges later callers.
func (c *Client) singleFlight(ctx context.Context, slot **flight, fn func() error) error {
	c.flightMu.Lock()
	if f := *slot; f != nil {
		c.flightMu.Unlock()
		select {
		case <-f.done:
			return f.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f := &flight{done: make(chan struct{})}
	*slot = f
	c.flightMu.Unlock()

	f.err = fn()

	c.flightMu.Lock()
	*slot = nil
	c.flightMu.Unlock()
	close(f.done)
	return f.err
}

// ListTickets fetches the full remote ticket set.
func (c *Client) ListTickets(ctx context.Context) ([]domain.RemoteTicket, error) {
	var resp domain.TicketListResponse
	if err := c.get(ctx, "/tickets", &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// ListLocations fetches the provider location tree.
func (c *Client) ListLocations(ctx context.Context) ([]domain.Location, error) {
	var resp domain.LocationListResponse
	if err := c.get(ctx, "/locations?fields=_id,name,parent,_isDeleted", &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// get performs an authenticated GET. A 401 triggers exactly one
// refresh-or-generate cycle and one retry; a second failure is terminal
// for this request.
func (c *Client) get(ctx context.Context, path string, out any) error {
	if err := c.EnsureValid(ctx); err != nil {
		return err
	}
	status, err := c.send(ctx, http.MethodGet, path, nil, out)
	if err == nil {
		return nil
	}
	if status != http.StatusUnauthorized {
		return err
	}
	if err := c.refreshOrGenerate(ctx); err != nil {
		return err
	}
	_, err = c.send(ctx, http.MethodGet, path, nil, out)
	return err
}

func (c *Client) postAuth(ctx context.Context, path string, body any, out any) error {
	_, err := c.send(ctx, http.MethodPost, path, body, out)
	return err
}

func (c *Client) send(ctx context.Context, method, path string, body any, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.APIBase()+path, reader)
	if err != nil {
		return 0, err
	}
	req.Header.Set("X-MerciYanis-Workspace", c.cfg.Workspace)
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if cred := c.currentCredential(); cred != nil && cred.AccessToken != "" {
		req.Header.Set("Authorization", "Bearer "+cred.AccessToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return resp.StatusCode, fmt.Errorf("%s %s failed: %d %s", method, path, resp.StatusCode, snippet)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("%s %s: decode response: %w", method, path, err)
		}
	}
	return resp.StatusCode, nil
}
