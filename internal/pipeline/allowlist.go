package pipeline

import (
	"net"
	"strings"
)

// AllowListMatches implements §4.8 step 1: the source-instance identifier
// (or peer IP) is matched against exact strings, CIDRs, and *-wildcards.
// "*" alone allows all. An empty list denies everything.
func AllowListMatches(allow []string, sourceInstance string) bool {
	if len(allow) == 0 {
		return false
	}
	sourceInstance = strings.TrimSpace(sourceInstance)
	if sourceInstance == "" {
		return false
	}
	ip := net.ParseIP(sourceInstance)

	for _, entry := range allow {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if entry == "*" {
			return true
		}
		if entry == sourceInstance {
			return true
		}
		if ip != nil && strings.Contains(entry, "/") {
			if _, cidr, err := net.ParseCIDR(entry); err == nil && cidr.Contains(ip) {
				return true
			}
		}
	}
	return false
}
