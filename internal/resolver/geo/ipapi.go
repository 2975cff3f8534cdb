package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

const (
	DefaultIPAPIURL = "http://ip-api.com/json/"
	ipapiFields     = "status,message,country,countryCode,region,regionName,city,zip,lat,lon,timezone,isp,org,as,query"
)

// IPAPI queries the ip-api.com JSON endpoint.
type IPAPI struct {
	BaseURL string
	HTTP    *http.Client
}

func NewIPAPI(baseURL string, timeout time.Duration) *IPAPI {
	if baseURL == "" {
		baseURL = DefaultIPAPIURL
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return &IPAPI{BaseURL: baseURL, HTTP: &http.Client{Timeout: timeout}}
}

type ipapiResponse struct {
	Status      string  `json:"status"`
	Message     string  `json:"message"`
	Country     string  `json:"country"`
	CountryCode string  `json:"countryCode"`
	RegionName  string  `json:"regionName"`
	City        string  `json:"city"`
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
	Timezone    string  `json:"timezone"`
	ISP         string  `json:"isp"`
	Org         string  `json:"org"`
	AS          string  `json:"as"`
	Query       string  `json:"query"`
}

func (c *IPAPI) Locate(ctx context.Context, ip net.IP) (*HostInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+ip.String()+"?fields="+ipapiFields, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ip-api responded with status %d", resp.StatusCode)
	}

	var data ipapiResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&data); err != nil {
		return nil, fmt.Errorf("decode ip-api response: %w", err)
	}
	if data.Status != "success" {
		msg := data.Message
		if msg == "" {
			msg = "unknown error"
		}
		return nil, fmt.Errorf("ip-api error: %s", msg)
	}

	info := &HostInfo{
		IP:          data.Query,
		ISP:         data.ISP,
		Org:         data.Org,
		Country:     data.Country,
		CountryCode: data.CountryCode,
		Region:      data.RegionName,
		City:        data.City,
		Latitude:    data.Lat,
		Longitude:   data.Lon,
		Timezone:    data.Timezone,
		Source:      "ip-api",
	}
	if n, name, ok := ParseAS(data.AS); ok {
		info.ASN = ASN{Number: n, Name: name}
	}
	info.Location = joinLocation(info.City, info.Region, info.Country)
	return info, nil
}

// ParseAS splits "AS15169 Google LLC" into its number and holder.
func ParseAS(s string) (number, name string, ok bool) {
	num, rest, found := strings.Cut(strings.TrimSpace(s), " ")
	if !found || len(num) < 3 || !strings.HasPrefix(num, "AS") {
		return "", "", false
	}
	for _, r := range num[2:] {
		if r < '0' || r > '9' {
			return "", "", false
		}
	}
	rest = strings.TrimSpace(rest)
	if rest == "" {
		return "", "", false
	}
	return num, rest, true
}
