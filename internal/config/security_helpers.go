package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

func dsnHost(dsn string) string {
	u, err := url.Parse(strings.TrimSpace(dsn))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(u.Hostname())
}

func dsnUsesInsecureSSL(dsn string) bool {
	u, err := url.Parse(strings.TrimSpace(dsn))
	if err != nil {
		return false
	}
	switch strings.TrimSpace(strings.ToLower(u.Query().Get("sslmode"))) {
	case "disable", "allow", "prefer":
		return true
	}
	return false
}

// isLocalHost accepts loopback IPs and the localhost name.
func isLocalHost(host string) bool {
	host = strings.TrimSpace(host)
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// checkEndpoint requires an absolute http(s) URL. Plain http is only
// accepted for a local host (a test validator, a sidecar signer) when
// secure transport is enforced.
func checkEndpoint(field, raw string, enforceTLS bool) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return fmt.Errorf("%s must be an absolute url", field)
	}
	switch strings.ToLower(u.Scheme) {
	case "https":
		return nil
	case "http":
		if !enforceTLS || isLocalHost(u.Hostname()) {
			return nil
		}
		return fmt.Errorf("%s must use https for non-local hosts when enforce_secure_transport is enabled", field)
	default:
		return fmt.Errorf("%s must use http or https, got %q", field, u.Scheme)
	}
}
