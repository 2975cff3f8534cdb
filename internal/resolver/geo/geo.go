// Package geo answers "where is this host" for the check-host tool.
package geo

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"go.uber.org/multierr"
)

// HostInfo is what the check-host tool reports about an address. Fields the
// backing database does not know stay empty.
type HostInfo struct {
	IP          string  `json:"ip"`
	Hostname    string  `json:"hostname"`
	ISP         string  `json:"isp,omitempty"`
	Org         string  `json:"org,omitempty"`
	Country     string  `json:"country,omitempty"`
	CountryCode string  `json:"countryCode,omitempty"`
	Region      string  `json:"region,omitempty"`
	City        string  `json:"city,omitempty"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	Timezone    string  `json:"timezone,omitempty"`
	ASN         ASN     `json:"asn"`
	Location    string  `json:"location"`
	Source      string  `json:"source"`
}

type ASN struct {
	Number string `json:"asn,omitempty"`
	Name   string `json:"name,omitempty"`
}

// Locator looks up one address.
type Locator interface {
	Locate(ctx context.Context, ip net.IP) (*HostInfo, error)
}

// Chain tries each locator in order and returns the first answer.
type Chain []Locator

func (c Chain) Locate(ctx context.Context, ip net.IP) (*HostInfo, error) {
	if len(c) == 0 {
		return nil, errors.New("no geolocation source configured")
	}
	var errs error
	for _, l := range c {
		info, err := l.Locate(ctx, ip)
		if err == nil {
			return info, nil
		}
		errs = multierr.Append(errs, err)
	}
	return nil, errs
}

// Resolver is the part of *net.Resolver LookupHost needs.
type Resolver interface {
	LookupIP(ctx context.Context, network, host string) ([]net.IP, error)
	LookupAddr(ctx context.Context, addr string) ([]string, error)
}

// ErrUnresolvable means a host name had no IPv4 address.
var ErrUnresolvable = errors.New("could not resolve hostname")

// LookupHost resolves a name to its first IPv4 address, or reverse resolves
// an IP literal, and then locates the address.
func LookupHost(ctx context.Context, r Resolver, l Locator, host string) (*HostInfo, error) {
	host = strings.TrimSpace(host)
	if host == "" {
		return nil, errors.New("host is required")
	}

	var (
		ip       net.IP
		hostname string
	)
	if parsed := net.ParseIP(host); parsed != nil {
		ip = parsed
		if names, err := r.LookupAddr(ctx, host); err == nil && len(names) > 0 {
			hostname = strings.TrimSuffix(names[0], ".")
		}
	} else {
		ips, err := r.LookupIP(ctx, "ip4", host)
		if err != nil || len(ips) == 0 {
			return nil, fmt.Errorf("%w: %s", ErrUnresolvable, host)
		}
		ip = ips[0]
		hostname = host
	}

	info, err := l.Locate(ctx, ip)
	if err != nil {
		return nil, fmt.Errorf("locate %s: %w", ip, err)
	}
	if info.IP == "" {
		info.IP = ip.String()
	}
	if info.Hostname == "" {
		info.Hostname = hostname
	}
	if info.Location == "" {
		info.Location = joinLocation(info.City, info.Region, info.Country)
	}
	return info, nil
}

func joinLocation(parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, ", ")
}
