// Package geo resolves request origin metadata from local MaxMind
// databases. The resolver is a collaborator on the classification hot path
// and therefore fails open: missing databases or unresolvable addresses
// yield empty Info, never an error that could stall ingestion.
package geo

import (
	"net"

	"github.com/oschwald/geoip2-golang"

	"github.com/ssm-ops/watchtower/internal/logger"
)

// Info is the geographic and network picture of one address.
type Info struct {
	Country string `json:"country"`
	Region  string `json:"region"`
	City    string `json:"city"`
	ASN     uint   `json:"asn"`
	ISP     string `json:"isp"`
}

// Resolver looks up Info for an address.
type Resolver interface {
	Resolve(ip string) Info
	Close() error
}

type maxmindResolver struct {
	city *geoip2.Reader
	asn  *geoip2.Reader
}

// NewResolver opens the GeoLite2 City and ASN databases. Either path may be
// empty or unreadable; lookups against a missing database return empty
// fields.
func NewResolver(cityPath, asnPath string) Resolver {
	r := &maxmindResolver{}

	if cityPath != "" {
		city, err := geoip2.Open(cityPath)
		if err != nil {
			logger.WithFields(map[string]interface{}{"path": cityPath}).WithError(err).Warn("geoip city database unavailable")
		} else {
			r.city = city
		}
	}

	if asnPath != "" {
		asn, err := geoip2.Open(asnPath)
		if err != nil {
			logger.WithFields(map[string]interface{}{"path": asnPath}).WithError(err).Warn("geoip asn database unavailable")
		} else {
			r.asn = asn
		}
	}

	return r
}

func (r *maxmindResolver) Resolve(ip string) Info {
	var info Info

	parsed := net.ParseIP(ip)
	if parsed == nil {
		return info
	}

	if r.city != nil {
		if record, err := r.city.City(parsed); err == nil {
			info.Country = record.Country.IsoCode
			info.City = record.City.Names["en"]
			if len(record.Subdivisions) > 0 {
				info.Region = record.Subdivisions[0].Names["en"]
			}
		}
	}

	if r.asn != nil {
		if record, err := r.asn.ASN(parsed); err == nil {
			info.ASN = record.AutonomousSystemNumber
			info.ISP = record.AutonomousSystemOrganization
		}
	}

	return info
}

func (r *maxmindResolver) Close() error {
	if r.city != nil {
		if err := r.city.Close(); err != nil {
			return err
		}
	}
	if r.asn != nil {
		return r.asn.Close()
	}
	return nil
}

// Static returns a resolver that answers every lookup with the same Info.
// Used in tests and when no databases are configured.
func Static(info Info) Resolver {
	return staticResolver{info: info}
}

type staticResolver struct {
	info Info
}

func (s staticResolver) Resolve(string) Info { return s.info }
func (s staticResolver) Close() error        { return nil }
