package main

import (
	"net/http"
	"strings"
)

// ClientIdentity is a heuristic bucket key for rate limiting and abuse
// detection, derived from proxy headers. Any client that controls its own
// forwarded headers can spoof it, so it must never be treated as an
// authenticated principal.
type ClientIdentity string

// IdentityUnknown is used when no address header is present.
const IdentityUnknown ClientIdentity = "unknown"

// ResolveIdentity derives a best-effort client identity from the request.
// It prefers the first entry of X-Forwarded-For, then X-Real-IP.
func ResolveIdentity(r *http.Request) ClientIdentity {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first := fwd
		if i := strings.Index(fwd, ","); i >= 0 {
			first = fwd[:i]
		}
		if s := strings.TrimSpace(first); s != "" {
			return ClientIdentity(s)
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ClientIdentity(ip)
	}
	return IdentityUnknown
}
