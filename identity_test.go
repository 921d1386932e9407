package main

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolveIdentityForwardedFor(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1, 10.0.0.2")
	require.Equal(t, ClientIdentity("203.0.113.9"), ResolveIdentity(r))
}

func TestResolveIdentityTrimsWhitespace(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("X-Forwarded-For", "  203.0.113.9 , 10.0.0.1")
	require.Equal(t, ClientIdentity("203.0.113.9"), ResolveIdentity(r))
}

func TestResolveIdentityRealIPFallback(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("X-Real-IP", "198.51.100.7")
	require.Equal(t, ClientIdentity("198.51.100.7"), ResolveIdentity(r))
}

func TestResolveIdentityUnknown(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	require.Equal(t, IdentityUnknown, ResolveIdentity(r))

	// an empty first entry does not shadow the fallback
	r.Header.Set("X-Forwarded-For", " , 10.0.0.1")
	require.Equal(t, IdentityUnknown, ResolveIdentity(r))
}
