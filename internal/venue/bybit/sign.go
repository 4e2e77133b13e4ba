package bybit

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Auth holds the credentials for HMAC-authenticated requests against the
// venue's v5 API.
type Auth struct {
	Key        string // API key
	Secret     string // API secret
	RecvWindow int    // receive window in milliseconds
}

// Headers returns the authentication headers for a request. payload is the
// raw JSON body for writes, or the deterministic key-sorted query string for
// reads. The signature is HMAC-SHA256(secret, timestamp+key+recvWindow+payload)
// hex-encoded.
//
// Returned header keys:
//   - X-BAPI-API-KEY
//   - X-BAPI-TIMESTAMP
//   - X-BAPI-RECV-WINDOW
//   - X-BAPI-SIGN
func (a *Auth) Headers(payload string) map[string]string {
	return a.HeadersAt(payload, time.Now().UnixMilli())
}

// HeadersAt is like Headers but lets the caller supply the millisecond Unix
// timestamp (useful for deterministic testing).
func (a *Auth) HeadersAt(payload string, unixMs int64) map[string]string {
	ts := strconv.FormatInt(unixMs, 10)
	recv := strconv.Itoa(a.RecvWindow)

	message := ts + a.Key + recv + payload
	sig := hmacSHA256Hex([]byte(a.Secret), message)

	return map[string]string{
		"X-BAPI-API-KEY":     a.Key,
		"X-BAPI-TIMESTAMP":   ts,
		"X-BAPI-RECV-WINDOW": recv,
		"X-BAPI-SIGN":        sig,
	}
}

// SortedQuery encodes params as a key-sorted query string. The venue signs
// reads over exactly this encoding, so it must be deterministic.
func SortedQuery(params url.Values) string {
	if len(params) == 0 {
		return ""
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(url.QueryEscape(k))
		sb.WriteByte('=')
		sb.WriteString(url.QueryEscape(params.Get(k)))
	}
	return sb.String()
}

// hmacSHA256Hex computes HMAC-SHA256 of message using key and returns the
// result hex-encoded.
func hmacSHA256Hex(key []byte, message string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

// String returns a redacted representation suitable for logging.
func (a *Auth) String() string {
	redact := func(s string) string {
		if len(s) <= 4 {
			return "****"
		}
		return s[:4] + "****"
	}
	return fmt.Sprintf("Auth{key=%s, secret=%s}", redact(a.Key), redact(a.Secret))
}
