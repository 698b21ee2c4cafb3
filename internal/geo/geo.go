// Package geo resolves client IP addresses to a human-readable location.
package geo

import (
	"net"
	"strings"

	"github.com/oschwald/geoip2-golang"
)

const Unknown = "Unknown"

type Locator interface {
	Locate(ip string) string
	Close() error
}

// Noop answers Unknown for every address.
type Noop struct{}

func (Noop) Locate(string) string { return Unknown }
func (Noop) Close() error         { return nil }

// GeoIP reads a MaxMind City or Country database.
type GeoIP struct {
	db   *geoip2.Reader
	lang string
}

func OpenGeoIP(path string) (*GeoIP, error) {
	r, err := geoip2.Open(path)
	if err != nil {
		return nil, err
	}
	return &GeoIP{db: r, lang: "en"}, nil
}

func (g *GeoIP) Locate(ip string) string {
	parsed := net.ParseIP(strings.TrimSpace(ip))
	if parsed == nil {
		return Unknown
	}
	if parsed.IsLoopback() || parsed.IsPrivate() {
		return "Local network"
	}
	rec, err := g.db.City(parsed)
	if err != nil {
		return Unknown
	}
	var region string
	if len(rec.Subdivisions) > 0 {
		region = rec.Subdivisions[0].Names[g.lang]
	}
	return formatLocation(rec.Country.Names[g.lang], region, rec.City.Names[g.lang])
}

// formatLocation joins the known parts from broadest to narrowest.
func formatLocation(parts ...string) string {
	var out []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return Unknown
	}
	return strings.Join(out, " ")
}

func (g *GeoIP) Close() error { return g.db.Close() }
