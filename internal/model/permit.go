// Package model defines the rows that flow between pipeline stages and the
// lead quality records consumed by the scorer.
package model

// Permit is one permit record as it moves through the ingestion stages. The
// parser fills the raw fields, the normalizer adds the address components and
// dedupe key, the geocoder adds coordinates and county, and the deduplicator
// assigns the dupe group.
type Permit struct {
	Source           string            `json:"source"`
	ExternalPermitID string            `json:"external_permit_id"`
	IssuedDate       string            `json:"issued_date"`
	Trade            string            `json:"trade"`
	AddressRaw       string            `json:"address_raw"`
	Zipcode          string            `json:"zipcode"`
	Raw              map[string]string `json:"raw"`

	// Normalizer output. City, State and County may also arrive from mapped
	// source columns and act as fallbacks.
	Address   string `json:"address,omitempty"`
	City      string `json:"city,omitempty"`
	State     string `json:"state,omitempty"`
	DedupeKey string `json:"dedupe_key,omitempty"`

	// Geocoder output. Lat and Lon are either both set or both nil.
	Lat    *float64 `json:"lat,omitempty"`
	Lon    *float64 `json:"lon,omitempty"`
	County *string  `json:"county,omitempty"`

	DupeGroupID *int64 `json:"dupe_group_id,omitempty"`
}

// HasCoordinates reports whether the permit carries a geocoded point.
func (p *Permit) HasCoordinates() bool {
	return p.Lat != nil && p.Lon != nil
}

// SetCoordinates assigns both coordinates at once, or clears both.
func (p *Permit) SetCoordinates(lat, lon *float64) {
	if lat == nil || lon == nil {
		p.Lat, p.Lon = nil, nil
		return
	}
	la, lo := *lat, *lon
	p.Lat, p.Lon = &la, &lo
}
