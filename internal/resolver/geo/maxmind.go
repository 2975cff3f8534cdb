package geo

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/oschwald/geoip2-golang"
	"go.uber.org/multierr"
)

// MaxMind reads GeoLite2/GeoIP2 City and, optionally, ASN databases.
type MaxMind struct {
	city *geoip2.Reader
	asn  *geoip2.Reader
}

// OpenMaxMind opens the city database and, when asnPath is set, the ASN one.
func OpenMaxMind(cityPath, asnPath string) (*MaxMind, error) {
	city, err := geoip2.Open(cityPath)
	if err != nil {
		return nil, fmt.Errorf("open geoip city db: %w", err)
	}
	m := &MaxMind{city: city}
	if asnPath != "" {
		asn, err := geoip2.Open(asnPath)
		if err != nil {
			return nil, multierr.Append(fmt.Errorf("open geoip asn db: %w", err), city.Close())
		}
		m.asn = asn
	}
	return m, nil
}

func (m *MaxMind) Locate(_ context.Context, ip net.IP) (*HostInfo, error) {
	if m == nil || m.city == nil {
		return nil, errors.New("geoip database not loaded")
	}
	rec, err := m.city.City(ip)
	if err != nil {
		return nil, fmt.Errorf("geoip city lookup: %w", err)
	}
	info := &HostInfo{
		IP:          ip.String(),
		Country:     rec.Country.Names["en"],
		CountryCode: rec.Country.IsoCode,
		City:        rec.City.Names["en"],
		Latitude:    rec.Location.Latitude,
		Longitude:   rec.Location.Longitude,
		Timezone:    rec.Location.TimeZone,
		Source:      "maxmind",
	}
	if len(rec.Subdivisions) > 0 {
		info.Region = rec.Subdivisions[0].Names["en"]
	}
	if m.asn != nil {
		if a, err := m.asn.ASN(ip); err == nil && a.AutonomousSystemNumber != 0 {
			info.ASN = ASN{
				Number: "AS" + strconv.FormatUint(uint64(a.AutonomousSystemNumber), 10),
				Name:   a.AutonomousSystemOrganization,
			}
			info.ISP = a.AutonomousSystemOrganization
		}
	}
	info.Location = joinLocation(info.City, info.Region, info.Country)
	return info, nil
}

func (m *MaxMind) Close() error {
	var err error
	if m.city != nil {
		err = multierr.Append(err, m.city.Close())
	}
	if m.asn != nil {
		err = multierr.Append(err, m.asn.Close())
	}
	return err
}
