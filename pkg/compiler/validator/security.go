package validator

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"time"
)

// BlockedNetworks contains IP ranges that remote assets may not resolve to
var BlockedNetworks = []string{
	"127.0.0.0/8",    // Localhost
	"10.0.0.0/8",     // Private network
	"172.16.0.0/12",  // Private network
	"192.168.0.0/16", // Private network
	"169.254.0.0/16", // Link-local (cloud metadata service)
	"::1/128",        // IPv6 localhost
	"fc00::/7",       // IPv6 unique local
	"fe80::/10",      // IPv6 link-local
}

var blockedNets = mustParseCIDRs(BlockedNetworks)

// LookupIP resolves asset hosts; tests replace it
var LookupIP = func(ctx context.Context, host string) ([]net.IP, error) {
	return net.DefaultResolver.LookupIP(ctx, "ip", host)
}

func mustParseCIDRs(cidrs []string) []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, cidr := range cidrs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("invalid blocked network %q: %v", cidr, err))
		}
		nets = append(nets, network)
	}
	return nets
}

// IsBlockedIP checks if an IP address is in a blocked network range
func IsBlockedIP(ipStr string) bool {
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}
	return blockReason(ip) != ""
}

// ValidateHTTPURI rejects http(s) URIs whose host resolves to a blocked range
func ValidateHTTPURI(uri string) error {
	parsed, err := url.Parse(uri)
	if err != nil {
		return fmt.Errorf("invalid URI: %w", err)
	}

	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("expected http or https scheme")
	}

	hostname := parsed.Hostname()
	if hostname == "" {
		return fmt.Errorf("missing host")
	}

	var ips []net.IP
	if ip := net.ParseIP(hostname); ip != nil {
		ips = []net.IP{ip}
	} else {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		ips, err = LookupIP(ctx, hostname)
		if err != nil {
			return fmt.Errorf("failed to resolve hostname: %w", err)
		}
	}

	for _, ip := range ips {
		if reason := blockReason(ip); reason != "" {
			return fmt.Errorf("access denied: %s resolves to %s (%s)", hostname, ip, reason)
		}
	}

	return nil
}

// blockReason returns why ip is blocked, or "" when it is allowed
func blockReason(ip net.IP) string {
	if ip.IsLoopback() {
		return "localhost access not allowed"
	}
	if ip.IsLinkLocalUnicast() {
		return "link-local access not allowed"
	}
	for _, network := range blockedNets {
		if network.Contains(ip) {
			return "private network access not allowed"
		}
	}
	return ""
}
