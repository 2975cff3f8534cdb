// Package doh queries DNS-over-HTTPS providers that speak the JSON API
// (dns.google, cloudflare-dns.com).
package doh

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hamed0406/netprobe/internal/probe"
)

const DefaultBaseURL = "https://dns.google/resolve"

// Response is the JSON answer body. Only the fields the probes use are kept.
type Response struct {
	Status   int      `json:"Status"`
	TC       bool     `json:"TC"`
	RD       bool     `json:"RD"`
	RA       bool     `json:"RA"`
	AD       bool     `json:"AD"`
	CD       bool     `json:"CD"`
	Answer   []Answer `json:"Answer"`
	Comment  string   `json:"Comment,omitempty"`
	EDNSInfo string   `json:"edns_client_subnet,omitempty"`
}

type Answer struct {
	Name string `json:"name"`
	Type int    `json:"type"`
	TTL  int    `json:"TTL"`
	Data string `json:"data"`
}

type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func New(baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{BaseURL: baseURL, HTTP: &http.Client{Timeout: timeout}}
}

// Query asks for one record type. ednsSubnet may be empty.
func (c *Client) Query(ctx context.Context, name, recordType, ednsSubnet string) (*Response, error) {
	q := url.Values{}
	q.Set("name", name)
	q.Set("type", strings.ToUpper(recordType))
	if ednsSubnet != "" {
		q.Set("edns_client_subnet", ednsSubnet)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build doh request: %w", err)
	}
	req.Header.Set("Accept", "application/dns-json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return nil, fmt.Errorf("doh: HTTP %d", resp.StatusCode)
	}
	var out Response
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return nil, &probe.Error{Class: probe.ClassParse, Reason: probe.ReasonParseError, Err: fmt.Errorf("decode doh response: %w", err)}
	}
	return &out, nil
}

// Resolve satisfies probe.DoHQuerier.
func (c *Client) Resolve(ctx context.Context, name, recordType, ednsSubnet string) (int, []probe.DoHAnswer, error) {
	r, err := c.Query(ctx, name, recordType, ednsSubnet)
	if err != nil {
		return 0, nil, err
	}
	answers := make([]probe.DoHAnswer, 0, len(r.Answer))
	for _, a := range r.Answer {
		answers = append(answers, probe.DoHAnswer{Name: a.Name, Type: a.Type, TTL: a.TTL, Data: a.Data})
	}
	return r.Status, answers, nil
}
