package nominatim

import (
	"strings"

	"github.com/pollenindex/pollenindex/internal/geolocation"
)

// API response types.

type reverseResponse struct {
	Name        string  `json:"name"`
	DisplayName string  `json:"display_name"`
	Address     address `json:"address"`
	Error       string  `json:"error"`
}

type address struct {
	City        string `json:"city"`
	Town        string `json:"town"`
	Village     string `json:"village"`
	Hamlet      string `json:"hamlet"`
	Suburb      string `json:"suburb"`
	State       string `json:"state"`
	Country     string `json:"country"`
	CountryCode string `json:"country_code"`
}

// locality picks the most specific settlement name present.
func (a address) locality() string {
	for _, v := range []string{a.City, a.Town, a.Village, a.Hamlet, a.Suburb} {
		if v != "" {
			return v
		}
	}
	return ""
}

func (r *reverseResponse) toPlacename() geolocation.Placename {
	return geolocation.Placename{
		Name:        r.Name,
		Locality:    r.Address.locality(),
		Region:      r.Address.State,
		Country:     r.Address.Country,
		CountryCode: strings.ToUpper(r.Address.CountryCode),
		DisplayName: r.DisplayName,
	}
}
