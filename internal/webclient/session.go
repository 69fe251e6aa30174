package webclient

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Tokens are the cookies planted on the cookie jar after a successful
// login or refresh.
type Tokens struct {
	SessionID        string
	SteamLogin       string
	SteamLoginSecure string
	TimezoneOffset   string
}

// cookieNames are the four session cookies maintained per host.
const (
	cookieSessionID        = "sessionid"
	cookieSteamLogin       = "steamLogin"
	cookieSteamLoginSecure = "steamLoginSecure"
	cookieTimezoneOffset   = "timezoneOffset"
)

var primaryHosts = []HostKey{HostCommunity, HostStore, HostHelp}

// plantTokens sets the session cookies on the jar for each of the three
// primary hosts; timezoneOffset is set only when tokens carries one.
func (c *Client) plantTokens(tokens Tokens) error {
	for _, host := range primaryHosts {
		base := c.endpoints.BaseURL[host]
		u, err := url.Parse(base)
		if err != nil {
			return fmt.Errorf("webclient: parsing base url for %s: %w", host, err)
		}
		cookies := []*http.Cookie{
			{Name: cookieSessionID, Value: tokens.SessionID},
			{Name: cookieSteamLogin, Value: tokens.SteamLogin},
			{Name: cookieSteamLoginSecure, Value: tokens.SteamLoginSecure},
		}
		if tokens.TimezoneOffset != "" {
			cookies = append(cookies, &http.Cookie{Name: cookieTimezoneOffset, Value: tokens.TimezoneOffset})
		}
		c.jar.SetCookies(u, cookies)
	}
	return nil
}

// sessionIDCookie returns the sessionid cookie value currently planted
// for host, if any.
func (c *Client) sessionIDCookie(host HostKey) (string, bool) {
	base := c.endpoints.BaseURL[host]
	u, err := url.Parse(base)
	if err != nil {
		return "", false
	}
	for _, ck := range c.jar.Cookies(u) {
		if ck.Name == cookieSessionID {
			return ck.Value, true
		}
	}
	return "", false
}

// probeSession performs a HEAD to the cheap stable account-overview path
// and records the outcome. lastSessionCheck always advances;
// lastSessionRefresh only advances when the probe observed a valid
// session.
func (c *Client) probeSession(ctx context.Context) error {
	finalURL, err := c.Head(ctx, HostCommunity, pathAccountOverview)
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastSessionCheck = now
	c.lastProbeAt = now
	if err != nil {
		return err
	}
	if !c.isSessionExpiredURL(finalURL) {
		c.lastSessionRefresh = now
	}
	return nil
}

// EnsurePreemptiveCheck probes session validity if the cached outcome is
// older than the configured session-validity-window; otherwise it is a
// no-op, per spec's preemptive-check caching.
func (c *Client) EnsurePreemptiveCheck(ctx context.Context) error {
	c.mu.Lock()
	stale := time.Since(c.lastProbeAt) >= c.cfg.SessionValidityWindow()
	c.mu.Unlock()
	if !stale {
		return nil
	}
	return c.probeSession(ctx)
}

// Expired reports whether the session is currently considered expired:
// the last probe did not also refresh validity.
func (c *Client) Expired() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.lastSessionCheck.Equal(c.lastSessionRefresh)
}

// Refresh renegotiates session tokens via the account handle. Concurrent
// callers are serialized: a caller that waited behind a successful refresh
// finds it not yet due and returns nil, while one that waited behind a
// failed refresh attempts its own. Refresh only proceeds if the account is connected and
// logged on, and the session-validity-window has elapsed since the last
// successful refresh.
func (c *Client) Refresh(ctx context.Context) error {
	c.refreshing.Lock()
	defer c.refreshing.Unlock()

	c.mu.Lock()
	dueAt := c.lastSessionRefresh.Add(c.cfg.SessionValidityWindow())
	ready := time.Now().After(dueAt) || time.Now().Equal(dueAt)
	c.mu.Unlock()

	if !ready {
		return nil
	}
	if !c.account.Connected() || !c.account.LoggedOn() {
		return fmt.Errorf("webclient: cannot refresh session: account not connected/logged on")
	}

	tokens, err := c.account.RefreshSession(ctx)
	if err != nil {
		return fmt.Errorf("webclient: session refresh failed: %w", err)
	}
	if err := c.plantTokens(tokens); err != nil {
		return err
	}

	now := time.Now()
	c.mu.Lock()
	c.lastSessionCheck = now
	c.lastSessionRefresh = now
	c.mu.Unlock()
	return nil
}

// SessionInitRequest carries the inputs to the identity handshake.
type SessionInitRequest struct {
	AccountID    uint64
	Universe     uint8
	ServerNonce  []byte
	RSAPublicKey *rsa.PublicKey
	// ParentalCode, if set, must be exactly 4 digits.
	ParentalCode string
}

type authenticateUserResponse struct {
	Token       string `json:"token"`
	TokenSecure string `json:"tokensecure"`
}

// Init performs the full session-init handshake described in §4.2: wrap
// a fresh symmetric key under the platform's RSA public key, encrypt the
// server nonce under that key, authenticate, plant the resulting tokens,
// and optionally unlock the parental PIN.
func (c *Client) Init(ctx context.Context, req SessionInitRequest) error {
	sessionKey := make([]byte, 32)
	if _, err := rand.Read(sessionKey); err != nil {
		return fmt.Errorf("webclient: generating session key: %w", err)
	}

	encryptedKey, err := rsa.EncryptPKCS1v15(rand.Reader, req.RSAPublicKey, sessionKey)
	if err != nil {
		return fmt.Errorf("webclient: wrapping session key: %w", err)
	}

	encryptedNonce, err := aesEncryptCBC(sessionKey, req.ServerNonce)
	if err != nil {
		return fmt.Errorf("webclient: encrypting server nonce: %w", err)
	}

	form := url.Values{}
	form.Set("steamid", fmt.Sprintf("%d", req.AccountID))
	form.Set("encrypted_loginkey", base64.StdEncoding.EncodeToString(encryptedKey))
	form.Set("encrypted_sessionnonce", base64.StdEncoding.EncodeToString(encryptedNonce))

	body, err := c.Post(ctx, HostWebAPI, pathAuthenticateUser, WithForm(form), WithDecode(DecodeJSON))
	if err != nil {
		return fmt.Errorf("webclient: AuthenticateUser: %w", err)
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("webclient: re-encoding AuthenticateUser response: %w", err)
	}
	var resp authenticateUserResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return fmt.Errorf("webclient: decoding AuthenticateUser response: %w", err)
	}
	if resp.Token == "" || resp.TokenSecure == "" {
		return fmt.Errorf("webclient: AuthenticateUser returned no tokens")
	}

	accountIDBytes := []byte(fmt.Sprintf("%d", req.AccountID))
	tokens := Tokens{
		SessionID:        base64.StdEncoding.EncodeToString(accountIDBytes),
		SteamLogin:       fmt.Sprintf("%d||%s", req.AccountID, resp.Token),
		SteamLoginSecure: fmt.Sprintf("%d||%s", req.AccountID, resp.TokenSecure),
	}
	if err := c.plantTokens(tokens); err != nil {
		return err
	}

	now := time.Now()
	c.mu.Lock()
	c.lastSessionCheck = now
	c.lastSessionRefresh = now
	c.mu.Unlock()

	if len(req.ParentalCode) == 4 {
		if err := c.unlockParental(ctx, req.ParentalCode); err != nil {
			return fmt.Errorf("webclient: parental unlock: %w", err)
		}
	}
	return nil
}

func (c *Client) unlockParental(ctx context.Context, code string) error {
	form := url.Values{}
	form.Set("pin", code)
	for _, host := range []HostKey{HostCommunity, HostStore} {
		if _, err := c.Post(ctx, host, pathParentalUnlock, WithForm(form), WithSessionMode(SessionFieldSessionID), WithDecode(DecodeJSON)); err != nil {
			return fmt.Errorf("unlocking %s: %w", host, err)
		}
	}
	return nil
}

// aesEncryptCBC encrypts plaintext under key using AES-CBC with PKCS7
// padding and a random IV prefixed to the ciphertext.
func aesEncryptCBC(key, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	padded := pkcs7Pad(plaintext, block.BlockSize())
	iv := make([]byte, block.BlockSize())
	if _, err := rand.Read(iv); err != nil {
		return nil, err
	}

	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)
	return append(iv, ciphertext...), nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	padding := make([]byte, padLen)
	for i := range padding {
		padding[i] = byte(padLen)
	}
	return append(data, padding...)
}
