package geo

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

type fakeResolver struct {
	ips     []net.IP
	names   []string
	ipErr   error
	lookups []string
}

func (f *fakeResolver) LookupIP(ctx context.Context, network, host string) ([]net.IP, error) {
	f.lookups = append(f.lookups, "ip:"+network+":"+host)
	return f.ips, f.ipErr
}

func (f *fakeResolver) LookupAddr(ctx context.Context, addr string) ([]string, error) {
	f.lookups = append(f.lookups, "addr:"+addr)
	return f.names, nil
}

type fakeLocator struct {
	info *HostInfo
	err  error
	got  net.IP
}

func (f *fakeLocator) Locate(ctx context.Context, ip net.IP) (*HostInfo, error) {
	f.got = ip
	if f.err != nil {
		return nil, f.err
	}
	cp := *f.info
	return &cp, nil
}

func TestParseAS(t *testing.T) {
	cases := []struct {
		in        string
		num, name string
		ok        bool
	}{
		{"AS15169 Google LLC", "AS15169", "Google LLC", true},
		{"AS13335 Cloudflare, Inc.", "AS13335", "Cloudflare, Inc.", true},
		{"", "", "", false},
		{"AS15169", "", "", false},
		{"ASX12 Foo", "", "", false},
	}
	for _, c := range cases {
		num, name, ok := ParseAS(c.in)
		if num != c.num || name != c.name || ok != c.ok {
			t.Fatalf("ParseAS(%q) = %q %q %v", c.in, num, name, ok)
		}
	}
}

func TestIPAPI_Locate(t *testing.T) {
	var path, fields string
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		fields = r.URL.Query().Get("fields")
		w.Write([]byte(`{"status":"success","country":"United States","countryCode":"US","regionName":"Virginia","city":"Ashburn","lat":39.03,"lon":-77.5,"timezone":"America/New_York","isp":"Google LLC","org":"Google Public DNS","as":"AS15169 Google LLC","query":"8.8.8.8"}`))
	}))
	defer s.Close()

	info, err := NewIPAPI(s.URL, time.Second).Locate(context.Background(), net.ParseIP("8.8.8.8"))
	if err != nil {
		t.Fatalf("locate: %v", err)
	}
	if path != "/8.8.8.8" || !strings.Contains(fields, "as") {
		t.Fatalf("unexpected request %s ?fields=%s", path, fields)
	}
	if info.ASN.Number != "AS15169" || info.ASN.Name != "Google LLC" {
		t.Fatalf("unexpected asn %+v", info.ASN)
	}
	if info.Location != "Ashburn, Virginia, United States" || info.Source != "ip-api" {
		t.Fatalf("unexpected info %+v", info)
	}
}

func TestIPAPI_FailStatusIsError(t *testing.T) {
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"fail","message":"reserved range","query":"10.0.0.1"}`))
	}))
	defer s.Close()

	_, err := NewIPAPI(s.URL, time.Second).Locate(context.Background(), net.ParseIP("10.0.0.1"))
	if err == nil || !strings.Contains(err.Error(), "reserved range") {
		t.Fatalf("want reserved range error, got %v", err)
	}
}

func TestLookupHost_NameResolvesToIPv4(t *testing.T) {
	r := &fakeResolver{ips: []net.IP{net.ParseIP("93.184.216.34")}}
	l := &fakeLocator{info: &HostInfo{City: "Norwell", Country: "United States"}}

	info, err := LookupHost(context.Background(), r, l, " example.com ")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if !l.got.Equal(net.ParseIP("93.184.216.34")) {
		t.Fatalf("located wrong ip %v", l.got)
	}
	if info.Hostname != "example.com" || info.IP != "93.184.216.34" || info.Location != "Norwell, United States" {
		t.Fatalf("unexpected info %+v", info)
	}
	if len(r.lookups) != 1 || r.lookups[0] != "ip:ip4:example.com" {
		t.Fatalf("unexpected lookups %v", r.lookups)
	}
}

func TestLookupHost_IPUsesReverseName(t *testing.T) {
	r := &fakeResolver{names: []string{"dns.google."}}
	l := &fakeLocator{info: &HostInfo{}}

	info, err := LookupHost(context.Background(), r, l, "8.8.8.8")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if info.Hostname != "dns.google" {
		t.Fatalf("want reverse name, got %q", info.Hostname)
	}
}

func TestLookupHost_Errors(t *testing.T) {
	r := &fakeResolver{ipErr: errors.New("no such host")}
	if _, err := LookupHost(context.Background(), r, &fakeLocator{}, "nope.invalid"); !errors.Is(err, ErrUnresolvable) {
		t.Fatalf("want ErrUnresolvable, got %v", err)
	}

	r = &fakeResolver{ips: []net.IP{net.ParseIP("192.0.2.1")}}
	if _, err := LookupHost(context.Background(), r, &fakeLocator{err: errors.New("quota")}, "example.com"); err == nil {
		t.Fatalf("locator failure must surface, not be papered over")
	}
}

func TestChain_FallsThrough(t *testing.T) {
	first := &fakeLocator{err: errors.New("db missing")}
	second := &fakeLocator{info: &HostInfo{Country: "Sweden"}}
	info, err := Chain{first, second}.Locate(context.Background(), net.ParseIP("192.0.2.1"))
	if err != nil || info.Country != "Sweden" {
		t.Fatalf("want second answer, got %+v %v", info, err)
	}

	_, err = Chain{first, &fakeLocator{err: errors.New("quota")}}.Locate(context.Background(), net.ParseIP("192.0.2.1"))
	if err == nil || !strings.Contains(err.Error(), "db missing") || !strings.Contains(err.Error(), "quota") {
		t.Fatalf("want both errors combined, got %v", err)
	}
}
