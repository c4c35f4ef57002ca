package tlsutil

import (
	"crypto/tls"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultTLSConfig(t *testing.T) {
	cfg := DefaultTLSConfig()
	assert.Equal(t, uint16(tls.VersionTLS12), cfg.MinVersion)
	assert.Len(t, cfg.CipherSuites, 6)
}

func TestSecureHTTPClient(t *testing.T) {
	client := SecureHTTPClient()
	require.NotNil(t, client)
	assert.Zero(t, client.Timeout)

	transport, ok := client.Transport.(*http.Transport)
	require.True(t, ok)
	assert.True(t, transport.ForceAttemptHTTP2)
	assert.Equal(t, 4, transport.MaxIdleConnsPerHost)
	assert.NotNil(t, transport.Proxy)
}
