package okx

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strconv"
	"strings"
	"time"
)

// Request headers used by authenticated endpoints
const (
	HeaderAccessKey        = "OK-ACCESS-KEY"
	HeaderAccessSign       = "OK-ACCESS-SIGN"
	HeaderAccessTimestamp  = "OK-ACCESS-TIMESTAMP"
	HeaderAccessPassphrase = "OK-ACCESS-PASSPHRASE"
	HeaderSimulated        = "x-simulated-trading"
)

const (
	timestampLayout = "2006-01-02T15:04:05.000Z"
	verifyPath      = "/users/self/verify"
)

// Signer produces OKX V5 request signatures
type Signer struct {
	apiKey     string
	secretKey  []byte
	passphrase string
	demo       bool
	now        func() time.Time
}

// NewSigner creates a new signer
func NewSigner(apiKey, secretKey, passphrase string, demo bool) *Signer {
	return &Signer{
		apiKey:     apiKey,
		secretKey:  []byte(secretKey),
		passphrase: passphrase,
		demo:       demo,
		now:        time.Now,
	}
}

// HasCredentials reports whether private endpoints can be signed
func (s *Signer) HasCredentials() bool {
	return s != nil && s.apiKey != "" && len(s.secretKey) > 0 && s.passphrase != ""
}

// Sign returns base64(HMAC-SHA256(timestamp + METHOD + path + body))
func (s *Signer) Sign(timestamp, method, path, body string) string {
	mac := hmac.New(sha256.New, s.secretKey)
	mac.Write([]byte(timestamp + strings.ToUpper(method) + path + body))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Headers returns the authentication headers for one REST request.
// path must include the query string.
func (s *Signer) Headers(method, path, body string) map[string]string {
	ts := s.now().UTC().Format(timestampLayout)
	headers := map[string]string{
		HeaderAccessKey:        s.apiKey,
		HeaderAccessSign:       s.Sign(ts, method, path, body),
		HeaderAccessTimestamp:  ts,
		HeaderAccessPassphrase: s.passphrase,
		"Content-Type":         "application/json",
	}
	if s.demo {
		headers[HeaderSimulated] = "1"
	}
	return headers
}

// LoginArgs returns the argument of the websocket login op
func (s *Signer) LoginArgs() map[string]string {
	ts := strconv.FormatInt(s.now().Unix(), 10)
	return map[string]string{
		"apiKey":     s.apiKey,
		"passphrase": s.passphrase,
		"timestamp":  ts,
		"sign":       s.Sign(ts, "GET", verifyPath, ""),
	}
}
