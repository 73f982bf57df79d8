package safety

import (
	"context"
	"net/netip"
	"net/url"
)

// URLResult is the outcome of [Kernel.ValidateURL].
type URLResult struct {
	// Safe reports whether the URL may be fetched.
	Safe bool

	// URL is the parsed URL when Safe is true.
	URL *url.URL

	// ResolvedIP is the address the hostname resolved to (or the IP literal
	// itself). The caller should fetch promptly; no rebinding pinning is
	// performed beyond this pre-resolution.
	ResolvedIP netip.Addr

	// Reason explains the denial when Safe is false.
	Reason string
}

// blocklistCIDRs is the fixed list of private, loopback, link-local,
// unique-local, and null ranges that outbound fetches may never target.
// The v4-mapped range ::ffff:0:0/96 is listed so mapped literals are caught
// even before unmapping.
var blocklistCIDRs = []string{
	"0.0.0.0/8",
	"10.0.0.0/8",
	"127.0.0.0/8",
	"169.254.0.0/16",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"::/128",
	"::1/128",
	"::ffff:0:0/96",
	"fc00::/7",
	"fe80::/10",
}

// buildBlocklist parses [blocklistCIDRs] once at kernel construction.
func buildBlocklist() []netip.Prefix {
	prefixes := make([]netip.Prefix, 0, len(blocklistCIDRs))
	for _, c := range blocklistCIDRs {
		p, err := netip.ParsePrefix(c)
		if err != nil {
			// The list is a compile-time constant; a parse failure is a bug.
			panic("safety: invalid blocklist CIDR " + c + ": " + err.Error())
		}
		prefixes = append(prefixes, p)
	}
	return prefixes
}

// ValidateURL parses rawURL, requires an http or https scheme, and checks
// the target address against the private-range blocklist. IP-literal hosts
// are checked directly; hostnames are resolved once via DNS and the first
// answer is checked. DNS failure is treated as unsafe.
func (k *Kernel) ValidateURL(ctx context.Context, rawURL string) URLResult {
	u, err := url.Parse(rawURL)
	if err != nil {
		return k.blockURL(rawURL, "malformed URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return k.blockURL(rawURL, "only http and https URLs are permitted")
	}
	host := u.Hostname()
	if host == "" {
		return k.blockURL(rawURL, "URL has no host")
	}

	if ip, parseErr := netip.ParseAddr(host); parseErr == nil {
		if k.ipBlocked(ip) {
			return k.blockURL(rawURL, "address "+ip.String()+" is in a blocked range")
		}
		return URLResult{Safe: true, URL: u, ResolvedIP: ip}
	}

	addrs, err := k.lookup(ctx, host)
	if err != nil || len(addrs) == 0 {
		return k.blockURL(rawURL, "hostname "+host+" did not resolve")
	}
	ip := addrs[0]
	if k.ipBlocked(ip) {
		return k.blockURL(rawURL, "hostname "+host+" resolves to blocked address "+ip.String())
	}
	return URLResult{Safe: true, URL: u, ResolvedIP: ip}
}

// ipBlocked checks ip (and its v4-unmapped form) against the blocklist.
func (k *Kernel) ipBlocked(ip netip.Addr) bool {
	for _, p := range k.blocklist {
		if p.Contains(ip) || p.Contains(ip.Unmap()) {
			return true
		}
	}
	return false
}

// blockURL audit-logs a denial and returns the unsafe result.
func (k *Kernel) blockURL(raw, reason string) URLResult {
	k.logAudit("url-block", reason, map[string]string{
		"url":    raw,
		"reason": reason,
	})
	return URLResult{Safe: false, Reason: reason}
}
