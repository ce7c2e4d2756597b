package exchange

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
)

// sign computes the HMAC-SHA256 signature Binance requires on every signed
// endpoint: hex(HMAC_SHA256(secret, querystring)). The caller appends the
// result as the "signature" query parameter.
func sign(secret string, query url.Values) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(query.Encode()))
	return hex.EncodeToString(mac.Sum(nil))
}
