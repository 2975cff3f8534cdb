package doh

import "github.com/hamed0406/netprobe/internal/probe"

// Source is a vantage point expressed as an EDNS client subnet.
type Source struct {
	Label   string `json:"label"`
	Country string `json:"country,omitempty"`
	EDNS    string `json:"edns"`
}

// Spec returns the doh probe spec for this source.
func (s Source) Spec(recordType string) probe.Spec {
	return probe.DoH(recordType, s.EDNS)
}

// DefaultSources mirrors the vantage points of common propagation checkers.
// Some subnets appear more than once under different labels.
var DefaultSources = []Source{
	{"San Francisco CA, United States", "us", "8.8.8.8/32"},
	{"OpenDNS", "", "208.67.222.222/32"},
	{"Mountain View CA, United States", "us", "8.8.4.4/32"},
	{"Google", "", "8.8.8.8/32"},
	{"Berkeley, US", "us", "34.102.136.0/24"},
	{"Quad9", "", "9.9.9.9/32"},
	{"San Jose, United States", "us", "34.102.0.0/24"},
	{"Corporate West Computer Systems", "", "45.33.0.0/24"},
	{"Kansas City, United States", "us", "199.192.0.0/24"},
	{"WholeSale Internet, Inc.", "", "64.71.128.0/24"},
	{"Ashburn, United States", "us", "52.0.0.0/16"},
	{"NeuStar", "", "156.154.70.0/24"},
	{"Fort Dodge, United States", "us", "8.8.8.8/32"},
	{"Aureon Network Services", "", "206.9.0.0/24"},
	{"Burnaby, Canada", "ca", "64.71.128.0/24"},
	{"Fortinet Inc", "", "103.30.136.0/24"},
	{"St Petersburg, Russia", "ru", "93.158.0.0/16"},
	{"YANDEX LLC", "", "77.88.8.8/32"},
	{"Cullinan, South Africa", "za", "196.40.0.0/16"},
	{"Liquid Telecommunications Ltd", "", "154.0.0.0/8"},
	{"Diemen, Netherlands", "nl", "146.185.0.0/16"},
	{"Tele2 Nederland B.V.", "", "212.184.0.0/16"},
	{"Lille, France", "fr", "37.187.0.0/16"},
	{"Completel SAS", "", "195.220.0.0/16"},
	{"Paterna de Rivera, Spain", "es", "85.58.0.0/16"},
	{"ServiHosting Networks S.L.", "", "80.24.0.0/16"},
	{"Innsbruck, Austria", "at", "85.13.128.0/17"},
	{"nemox.net", "", "5.9.0.0/16"},
	{"Salford, United Kingdom", "gb", "193.120.0.0/14"},
	{"Wavenet Limited", "", "92.22.0.0/15"},
	{"Leipzig, Germany", "de", "85.214.0.0/16"},
	{"Universitaet Leipzig", "", "131.130.0.0/16"},
	{"Mexico City, Mexico", "mx", "186.3.0.0/16"},
	{"Universidad LatinoAmericana S.C.", "", "201.144.0.0/16"},
	{"Sao Paulo, Brazil", "br", "177.54.0.0/16"},
	{"Vogel Solucoes em Telecom e Informatica S/A", "", "200.144.0.0/16"},
	{"Research, Australia", "au", "203.0.113.0/24"},
	{"Cloudflare Inc", "", "1.1.1.1/32"},
	{"Melbourne, Australia", "au", "203.0.113.128/25"},
	{"Pacific Internet", "", "202.6.0.0/16"},
	{"Auckland, New Zealand", "nz", "202.7.0.0/16"},
	{"Global-Gateway Internet", "", "103.246.0.0/16"},
	{"Singapore", "sg", "139.99.0.0/16"},
	{"DigitalOcean LLC", "", "138.68.0.0/16"},
	{"Seoul, South Korea", "kr", "121.78.0.0/16"},
	{"KT Corporation", "", "210.220.163.0/24"},
	{"Xinfeng, China", "cn", "221.226.0.0/16"},
	{"Nanjing Xinfeng Information Technologies Inc.", "", "183.129.0.0/16"},
	{"Antalya, Turkey", "tr", "77.92.0.0/16"},
	{"Teknet Yazlim", "", "185.35.0.0/16"},
	{"Coimbatore, India", "in", "103.64.0.0/16"},
	{"Skylink Fibernet Private Limited", "", "103.98.0.0/16"},
	{"Islamabad, Pakistan", "pk", "203.99.0.0/16"},
	{"CMPak Limited", "", "119.160.0.0/16"},
	{"Dublin, Ireland", "ie", "46.16.0.0/16"},
	{"Indigo", "", "213.105.0.0/16"},
	{"Dhaka, Bangladesh", "bd", "103.78.0.0/16"},
}

// Specs returns one doh spec per distinct subnet, in first-seen order.
func Specs(sources []Source, recordType string) []probe.Spec {
	seen := make(map[string]bool, len(sources))
	out := make([]probe.Spec, 0, len(sources))
	for _, s := range sources {
		if seen[s.EDNS] {
			continue
		}
		seen[s.EDNS] = true
		out = append(out, s.Spec(recordType))
	}
	return out
}
