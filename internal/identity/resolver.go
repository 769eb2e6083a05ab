// Package identity derives the client address used as the key for deny-list,
// rate-limit and logging decisions.
package identity

import (
	"net"
	"net/http"
	"strings"
)

// Unknown is returned when neither the forwarding header nor the peer address
// yields a value. It is treated as an ordinary opaque key downstream.
const Unknown = "unknown"

const DefaultForwardedHeader = "X-Forwarded-For"

// Resolver picks the client IP. The result is untrusted text and is not
// validated as an address.
type Resolver struct {
	header string
}

func NewResolver(header string) *Resolver {
	header = strings.TrimSpace(header)
	if header == "" {
		header = DefaultForwardedHeader
	}
	return &Resolver{header: http.CanonicalHeaderKey(header)}
}

func (r *Resolver) Header() string {
	if r == nil || r.header == "" {
		return DefaultForwardedHeader
	}
	return r.header
}

// ClientIP takes the left-most entry of the forwarding header when present,
// otherwise the host part of remoteAddr.
func (r *Resolver) ClientIP(header http.Header, remoteAddr string) string {
	if header != nil {
		if forwarded := header.Get(r.Header()); strings.TrimSpace(forwarded) != "" {
			first, _, _ := strings.Cut(forwarded, ",")
			if first = strings.TrimSpace(first); first != "" {
				return first
			}
		}
	}

	remoteAddr = strings.TrimSpace(remoteAddr)
	if remoteAddr == "" {
		return Unknown
	}
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		if host == "" {
			return Unknown
		}
		return host
	}
	return remoteAddr
}

func (r *Resolver) FromRequest(req *http.Request) string {
	if req == nil {
		return Unknown
	}
	return r.ClientIP(req.Header, req.RemoteAddr)
}
