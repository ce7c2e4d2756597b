package exchange

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSignDeterministic(t *testing.T) {
	q := url.Values{}
	q.Set("symbol", "BTCUSDT")
	q.Set("timestamp", "1700000000000")

	sig1 := sign("supersecret", q)
	sig2 := sign("supersecret", q)
	require.Equal(t, sig1, sig2)
	require.Len(t, sig1, 64) // hex-encoded SHA256
}

func TestSignDiffersByQuery(t *testing.T) {
	secret := "supersecret"
	q1 := url.Values{"symbol": {"BTCUSDT"}}
	q2 := url.Values{"symbol": {"ETHUSDT"}}

	require.NotEqual(t, sign(secret, q1), sign(secret, q2))
}
