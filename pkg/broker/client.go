// Package broker is a slim Angel One SmartAPI client covering what the
// signal engine needs: TOTP login, LTP quotes, historical candles, the
// instrument master, and the market data WebSocket stream.
package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/pquerna/otp/totp"
)

const (
	defaultRootURL = "https://apiconnect.angelone.in"
	defaultTimeout = 7 * time.Second
)

var routes = map[string]string{
	"login":       "/rest/auth/angelbroking/user/v1/loginByPassword",
	"logout":      "/rest/secure/angelbroking/user/v1/logout",
	"profile":     "/rest/secure/angelbroking/user/v1/getProfile",
	"ltp":         "/rest/secure/angelbroking/order/v1/getLtpData",
	"market.data": "/rest/secure/angelbroking/market/v1/quote",
	"candles":     "/rest/secure/angelbroking/historical/v1/getCandleData",
}

// Config configures the broker client. TOTPSecret is the base32 secret
// used to generate the one-time password at login, never the OTP itself.
type Config struct {
	APIKey     string
	ClientCode string
	PIN        string
	TOTPSecret string

	RootURL string        // default: https://apiconnect.angelone.in
	Timeout time.Duration // default: 7s
	Debug   bool
}

// Client is the authenticated REST client.
type Client struct {
	cfg        Config
	httpClient *http.Client

	mu          sync.RWMutex
	accessToken string
	feedToken   string

	localIP string

	// SessionExpiryHook fires when the API reports a TokenException,
	// i.e. the session needs a fresh login.
	SessionExpiryHook func()
}

// apiResponse is the envelope every SmartAPI endpoint returns.
type apiResponse struct {
	Status    bool            `json:"status"`
	Message   string          `json:"message"`
	ErrorCode string          `json:"errorcode"`
	Data      json.RawMessage `json:"data"`
}

// NewClient creates a broker client. No network calls happen until Login.
func NewClient(cfg Config) *Client {
	if cfg.RootURL == "" {
		cfg.RootURL = defaultRootURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}

	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		localIP:    localIP(),
	}
}

// Login generates a fresh TOTP from the configured secret and opens a
// session. Safe to call again after SessionExpiryHook fires.
func (c *Client) Login(ctx context.Context) error {
	code, err := totp.GenerateCode(c.cfg.TOTPSecret, time.Now())
	if err != nil {
		return fmt.Errorf("broker: generate totp: %w", err)
	}

	var data struct {
		JWTToken  string `json:"jwtToken"`
		FeedToken string `json:"feedToken"`
	}
	err = c.post(ctx, "login", map[string]any{
		"clientcode": c.cfg.ClientCode,
		"password":   c.cfg.PIN,
		"totp":       code,
	}, &data)
	if err != nil {
		return fmt.Errorf("broker: login: %w", err)
	}
	if data.JWTToken == "" {
		return fmt.Errorf("broker: login response missing tokens")
	}

	c.mu.Lock()
	c.accessToken = data.JWTToken
	c.feedToken = data.FeedToken
	c.mu.Unlock()

	log.Printf("[broker] session opened for %s", c.cfg.ClientCode)
	return nil
}

// Logout terminates the session.
func (c *Client) Logout(ctx context.Context) error {
	return c.post(ctx, "logout", map[string]any{"clientcode": c.cfg.ClientCode}, nil)
}

// FeedToken returns the WebSocket feed token from the current session.
func (c *Client) FeedToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.feedToken
}

// AccessToken returns the current session JWT.
func (c *Client) AccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accessToken
}

// post sends a JSON request and decodes the data field into out (out may
// be nil when the caller only cares about success).
func (c *Client) post(ctx context.Context, route string, params map[string]any, out interface{}) error {
	path, ok := routes[route]
	if !ok {
		return fmt.Errorf("broker: unknown route %q", route)
	}

	body, _ := json.Marshal(params)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.RootURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	c.setHeaders(req)

	if c.cfg.Debug {
		log.Printf("[broker] POST %s", path)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	var env apiResponse
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("broker: parse response: %w", err)
	}

	if resp.StatusCode == http.StatusForbidden && strings.Contains(env.Message, "Token") {
		if c.SessionExpiryHook != nil {
			c.SessionExpiryHook()
		}
	}
	if !env.Status {
		return fmt.Errorf("broker: %s failed: %s (code %s)", route, env.Message, env.ErrorCode)
	}

	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("broker: decode %s data: %w", route, err)
		}
	}
	return nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-PrivateKey", c.cfg.APIKey)
	req.Header.Set("X-UserType", "USER")
	req.Header.Set("X-SourceID", "WEB")
	req.Header.Set("X-ClientLocalIP", c.localIP)
	req.Header.Set("X-ClientPublicIP", c.localIP)
	req.Header.Set("X-MACAddress", macAddress())

	c.mu.RLock()
	token := c.accessToken
	c.mu.RUnlock()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

func localIP() string {
	addrs, err := net.InterfaceAddrs()
	if err == nil {
		for _, a := range addrs {
			if ipNet, ok := a.(*net.IPNet); ok && !ipNet.IP.IsLoopback() && ipNet.IP.To4() != nil {
				return ipNet.IP.String()
			}
		}
	}
	return "127.0.0.1"
}

func macAddress() string {
	ifs, _ := net.Interfaces()
	for _, ifc := range ifs {
		if len(ifc.HardwareAddr) > 0 {
			return ifc.HardwareAddr.String()
		}
	}
	return "00:11:22:33:44:55"
}
