package security

import "strings"

// Allowlist restricts outbound webhook hosts. When both lists are empty every
// host passes, subject to the address checks in URLGuard.
type Allowlist struct {
	Hosts    []string
	Suffixes []string
}

func NewAllowlist(hosts, suffixes []string) Allowlist {
	var a Allowlist
	for _, h := range hosts {
		if h = normalizeHost(h); h != "" {
			a.Hosts = append(a.Hosts, h)
		}
	}
	for _, s := range suffixes {
		if s = strings.TrimPrefix(normalizeHost(s), "*."); s != "" {
			a.Suffixes = append(a.Suffixes, strings.TrimPrefix(s, "."))
		}
	}
	return a
}

func (a Allowlist) Empty() bool {
	return len(a.Hosts) == 0 && len(a.Suffixes) == 0
}

// AllowsHost reports whether host is listed exactly or sits under a listed
// domain suffix. "example.com" admits "example.com" and "api.example.com" but
// not "badexample.com".
func (a Allowlist) AllowsHost(host string) bool {
	if a.Empty() {
		return true
	}
	host = normalizeHost(host)
	for _, h := range a.Hosts {
		if h == host {
			return true
		}
	}
	for _, s := range a.Suffixes {
		if host == s || strings.HasSuffix(host, "."+s) {
			return true
		}
	}
	return false
}

func normalizeHost(h string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(h)), ".")
}
