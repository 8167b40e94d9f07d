package security

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ValidateUpstreamURL checks a configured provider or sanctions-list URL.
// With allowPrivate false it also refuses hosts that are, or resolve to,
// loopback, private, link-local or unspecified addresses, so that a bad
// deployment setting cannot point server-side fetches at internal services.
func ValidateUpstreamURL(rawURL string, allowPrivate bool) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL %q", rawURL)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return fmt.Errorf("URL %q: scheme must be http or https", rawURL)
	}
	if u.Host == "" {
		return fmt.Errorf("URL %q: missing host", rawURL)
	}
	if allowPrivate {
		return nil
	}

	host := u.Hostname()
	for _, b := range []string{"localhost", "metadata.google.internal"} {
		if strings.EqualFold(host, b) {
			return fmt.Errorf("URL host %q is not allowed", host)
		}
	}

	if ip := net.ParseIP(host); ip != nil {
		return checkIP(ip)
	}
	ips, err := net.LookupHost(host)
	if err != nil {
		return fmt.Errorf("cannot resolve URL host %q", host)
	}
	for _, s := range ips {
		if ip := net.ParseIP(s); ip != nil {
			if err := checkIP(ip); err != nil {
				return fmt.Errorf("URL host %q resolves to blocked address: %w", host, err)
			}
		}
	}
	return nil
}

func checkIP(ip net.IP) error {
	switch {
	case ip.IsLoopback():
		return fmt.Errorf("loopback addresses are not allowed")
	case ip.IsPrivate():
		return fmt.Errorf("private addresses are not allowed")
	case ip.IsLinkLocalUnicast(), ip.IsLinkLocalMulticast():
		return fmt.Errorf("link-local addresses are not allowed")
	case ip.IsUnspecified():
		return fmt.Errorf("unspecified addresses are not allowed")
	}
	return nil
}
