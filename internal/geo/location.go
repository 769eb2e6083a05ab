// Package geo enriches client addresses with a country and city, caching
// provider answers per address.
package geo

import (
	"crypto/sha256"
	"encoding/hex"
	"net"
	"strings"
)

type Location struct {
	Country string `json:"country"`
	City    string `json:"city"`
}

var (
	// Local marks loopback, private, link-local and unspecified addresses.
	Local = Location{Country: "Local", City: "Local"}
	// Unknown marks addresses that cannot be looked up.
	Unknown = Location{Country: "Unknown", City: "Unknown"}
	// Failed marks lookups that timed out or errored. It is never cached.
	Failed = Location{Country: "Error", City: "Error"}
)

func (l Location) IsZero() bool {
	return l.Country == "" && l.City == ""
}

// HashKey is the cache key for ip: the hex SHA-256 of its string form.
func HashKey(ip string) string {
	sum := sha256.Sum256([]byte(ip))
	return hex.EncodeToString(sum[:])
}

func parseIP(raw string) net.IP {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	return net.ParseIP(raw)
}

func isLocal(ip net.IP) bool {
	return ip.IsLoopback() ||
		ip.IsPrivate() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsUnspecified()
}
