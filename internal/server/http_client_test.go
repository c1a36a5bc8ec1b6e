package server

import (
	"net/http"
	"testing"
	"time"

	"github.com/any-hub/imghub/internal/config"
)

func TestNewUpstreamClientUsesConfigTimeout(t *testing.T) {
	client := NewUpstreamClient(config.UpstreamConfig{
		ConnectTimeout: config.Duration(2 * time.Second),
		Timeout:        config.Duration(45 * time.Second),
	})
	if client.Timeout != 45*time.Second {
		t.Fatalf("expected timeout 45s, got %s", client.Timeout)
	}
	transport, ok := client.Transport.(*http.Transport)
	if !ok {
		t.Fatalf("unexpected transport %T", client.Transport)
	}
	if transport.ResponseHeaderTimeout != 45*time.Second {
		t.Fatalf("response header timeout mismatch: %s", transport.ResponseHeaderTimeout)
	}
	if transport.DialContext == nil {
		t.Fatalf("dialer should be configured")
	}
}

func TestNewUpstreamClientDefaults(t *testing.T) {
	client := NewUpstreamClient(config.UpstreamConfig{})
	if client.Timeout != defaultUpstreamTimeout {
		t.Fatalf("expected default timeout, got %s", client.Timeout)
	}
	if client.Transport == http.DefaultTransport {
		t.Fatalf("client should not share the default transport")
	}
}
