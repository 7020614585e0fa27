package fiscal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/darkvelocity/retailcore/infrastructure/ratelimit"
	"github.com/darkvelocity/retailcore/internal/platform/apierr"
	"github.com/darkvelocity/retailcore/internal/platform/clock"
	"github.com/darkvelocity/retailcore/internal/platform/config"
	"github.com/darkvelocity/retailcore/internal/resilience"
	"github.com/darkvelocity/retailcore/pkg/version"
)

// Region identifies which national cloud-TSS middleware a client talks to.
type Region string

const (
	RegionGermany Region = "DE"
	RegionAustria Region = "AT"
	RegionItaly   Region = "IT"
)

// Environment selects between the cloud-TSS provider's test and
// production base URLs.
type Environment string

const (
	EnvironmentTest       Environment = "Test"
	EnvironmentProduction Environment = "Production"
)

// regionBaseURLs maps region x environment to the cloud-TSS middleware's
// base URL: Germany speaks KassenSichV middleware, Austria RKSV, Italy RT.
var regionBaseURLs = map[Region]map[Environment]string{
	RegionGermany: {
		EnvironmentTest:       "https://kassensichv-test.example/api/v1",
		EnvironmentProduction: "https://kassensichv.example/api/v1",
	},
	RegionAustria: {
		EnvironmentTest:       "https://rksv-test.example/api/v1",
		EnvironmentProduction: "https://rksv.example/api/v1",
	},
	RegionItaly: {
		EnvironmentTest:       "https://rt-test.example/api/v1",
		EnvironmentProduction: "https://rt.example/api/v1",
	},
}

// BaseURL resolves the cloud-TSS base URL for a region and environment.
func BaseURL(region Region, env Environment) (string, error) {
	byEnv, ok := regionBaseURLs[region]
	if !ok {
		return "", fmt.Errorf("no cloud-TSS region table entry for region %q", region)
	}
	url, ok := byEnv[env]
	if !ok {
		return "", fmt.Errorf("no cloud-TSS region table entry for region %q environment %q", region, env)
	}
	return url, nil
}

// AccessToken is a cached cloud-TSS bearer token plus its expiry.
type AccessToken struct {
	Value     string
	ExpiresAt time.Time
}

// ITseCloudClient is the adapter contract for an external cloud-TSS
// bridge: authenticate, resolve the device, start/finish a transaction,
// and sign an arbitrary receipt payload.
type ITseCloudClient interface {
	Authenticate(ctx context.Context) (AccessToken, error)
	GetTSS(ctx context.Context, locationID string) (string, error)
	StartTransaction(ctx context.Context, tssID string, req StartTransactionParams) (string, error)
	FinishTransaction(ctx context.Context, tssID, externalTxID string, receipt CloudReceipt) (SignatureResult, error)
	SignReceipt(ctx context.Context, tssID string, receipt CloudReceipt) (string, error)
}

// HTTPCloudClient is the production ITseCloudClient, talking to the
// region/environment base URL resolved from the region table, behind
// the platform retry schedule, a named circuit breaker, and a
// token-bucket rate limiter.
type HTTPCloudClient struct {
	httpClient *ratelimit.RateLimitedClient
	baseURL    string
	apiKey     string
	apiSecret  string
	leeway     time.Duration

	retrier  *resilience.Retrier
	breakers *resilience.BreakerRegistry

	token AccessToken
}

// NewHTTPCloudClient builds an HTTPCloudClient from the fiscal
// configuration, resolving the base URL from the region table.
func NewHTTPCloudClient(cfg config.FiscalConfig, retryCfg config.RetryConfig, breakerCfg config.CircuitBreakerConfig) (*HTTPCloudClient, error) {
	baseURL, err := BaseURL(Region(cfg.Region), Environment(cfg.Environment))
	if err != nil {
		return nil, err
	}
	return &HTTPCloudClient{
		httpClient: ratelimit.NewRateLimitedClient(&http.Client{Timeout: 30 * time.Second}, ratelimit.DefaultConfig()),
		baseURL:    baseURL,
		apiKey:     cfg.APIKey,
		apiSecret:  cfg.APISecret,
		leeway:     cfg.TokenRefreshLeeway,
		retrier:    resilience.NewRetrier(retryCfg),
		breakers:   resilience.NewBreakerRegistry(breakerCfg),
	}, nil
}

const breakerName = "cloud-tss"

// Authenticate exchanges (apiKey, apiSecret) for an access token, caching
// it and re-authenticating whenever the cached token is within leeway of
// expiring.
func (c *HTTPCloudClient) Authenticate(ctx context.Context) (AccessToken, error) {
	if c.token.Value != "" && time.Until(c.token.ExpiresAt) > c.leeway {
		return c.token, nil
	}

	var result AccessToken
	err := c.breakers.Execute(breakerName, func() error {
		return c.retrier.Do(ctx, func(attempt int) error {
			tok, err := c.doAuthenticate(ctx)
			if err != nil {
				return err
			}
			result = tok
			return nil
		})
	})
	if err != nil {
		return AccessToken{}, err
	}
	c.token = result
	return result, nil
}

func (c *HTTPCloudClient) doAuthenticate(ctx context.Context) (AccessToken, error) {
	body, _ := json.Marshal(map[string]string{"apiKey": c.apiKey, "apiSecret": c.apiSecret})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth/token", bytes.NewReader(body))
	if err != nil {
		return AccessToken{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return AccessToken{}, apierr.ErrTransientExternal("cloud-tss", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return AccessToken{}, apierr.ErrTransientExternal("cloud-tss", fmt.Errorf("auth returned %d", resp.StatusCode))
	}
	if resp.StatusCode >= 400 {
		return AccessToken{}, apierr.ErrTerminalExternal("cloud-tss", fmt.Sprintf("HTTP_%d", resp.StatusCode), fmt.Errorf("auth rejected"))
	}

	var parsed struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return AccessToken{}, apierr.ErrTerminalExternal("cloud-tss", "BAD_RESPONSE", err)
	}
	return AccessToken{
		Value:     parsed.AccessToken,
		ExpiresAt: time.Now().Add(time.Duration(parsed.ExpiresIn) * time.Second),
	}, nil
}

// GetTSS resolves the cloud-TSS identifier assigned to a location.
func (c *HTTPCloudClient) GetTSS(ctx context.Context, locationID string) (string, error) {
	var parsed struct {
		TssID string `json:"tssId"`
	}
	err := c.breakers.Execute(breakerName, func() error {
		return c.retrier.Do(ctx, func(attempt int) error {
			if _, err := c.Authenticate(ctx); err != nil {
				return err
			}
			return c.doJSON(ctx, http.MethodGet, "/tss/"+locationID, bytes.NewReader(nil), &parsed)
		})
	})
	return parsed.TssID, err
}

// StartTransaction forwards a started transaction to the cloud TSS,
// returning its externally assigned transaction id.
func (c *HTTPCloudClient) StartTransaction(ctx context.Context, tssID string, req StartTransactionParams) (string, error) {
	var externalTxID string
	err := c.breakers.Execute(breakerName, func() error {
		return c.retrier.Do(ctx, func(attempt int) error {
			if _, err := c.Authenticate(ctx); err != nil {
				return err
			}
			return c.postJSON(ctx, fmt.Sprintf("/tss/%s/transactions", tssID), req, &struct {
				ExternalTransactionID *string `json:"externalTransactionId"`
			}{ExternalTransactionID: &externalTxID})
		})
	})
	return externalTxID, err
}

// FinishTransaction forwards a finished transaction's receipt to the
// cloud TSS and returns its signature result.
func (c *HTTPCloudClient) FinishTransaction(ctx context.Context, tssID, externalTxID string, receipt CloudReceipt) (SignatureResult, error) {
	var result SignatureResult
	err := c.breakers.Execute(breakerName, func() error {
		return c.retrier.Do(ctx, func(attempt int) error {
			if _, err := c.Authenticate(ctx); err != nil {
				return err
			}
			return c.postJSON(ctx, fmt.Sprintf("/tss/%s/transactions/%s/finish", tssID, externalTxID), receipt, &result)
		})
	})
	return result, err
}

// SignReceipt asks the cloud TSS to sign an arbitrary receipt payload
// outside the start/finish transaction lifecycle.
func (c *HTTPCloudClient) SignReceipt(ctx context.Context, tssID string, receipt CloudReceipt) (string, error) {
	var signature string
	err := c.breakers.Execute(breakerName, func() error {
		return c.retrier.Do(ctx, func(attempt int) error {
			if _, err := c.Authenticate(ctx); err != nil {
				return err
			}
			return c.postJSON(ctx, fmt.Sprintf("/tss/%s/sign", tssID), receipt, &struct {
				Signature *string
			}{Signature: &signature})
		})
	})
	return signature, err
}

func (c *HTTPCloudClient) postJSON(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return c.doJSON(ctx, http.MethodPost, path, bytes.NewReader(body), out)
}

func (c *HTTPCloudClient) doJSON(ctx context.Context, method, path string, body *bytes.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token.Value)
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apierr.ErrTransientExternal("cloud-tss", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return apierr.ErrTransientExternal("cloud-tss", fmt.Errorf("%s %s returned %d", method, path, resp.StatusCode))
	}
	if resp.StatusCode >= 400 {
		return apierr.ErrTerminalExternal("cloud-tss", fmt.Sprintf("HTTP_%d", resp.StatusCode), fmt.Errorf("%s %s rejected", method, path))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
