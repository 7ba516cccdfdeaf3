package parser

import (
	"os"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Raw row fields a source column can map to.
const (
	FieldExternalPermitID = "external_permit_id"
	FieldIssuedDate       = "issued_date"
	FieldTrade            = "trade"
	FieldAddressRaw       = "address_raw"
	FieldZipcode          = "zipcode"
	FieldCity             = "city"
	FieldState            = "state"
	FieldCounty           = "county"
)

var knownFields = map[string]bool{
	FieldExternalPermitID: true,
	FieldIssuedDate:       true,
	FieldTrade:            true,
	FieldAddressRaw:       true,
	FieldZipcode:          true,
	FieldCity:             true,
	FieldState:            true,
	FieldCounty:           true,
}

// FieldMap lists candidate header names per field, in priority order.
type FieldMap map[string][]string

// Mappings holds the default field map and per-source overrides.
type Mappings struct {
	Default FieldMap            `yaml:"default"`
	Sources map[string]FieldMap `yaml:"sources"`
}

// DefaultFieldMap covers the column names common across municipal feeds.
func DefaultFieldMap() FieldMap {
	return FieldMap{
		FieldExternalPermitID: {"permit_number", "permit #", "permit num", "permit no", "permitnum", "permit_id", "record_id", "application number"},
		FieldIssuedDate:       {"issued_date", "issue_date", "date_issued", "issued", "issue date"},
		FieldTrade:            {"trade", "work_class", "permit_type", "permit type", "work type", "type"},
		FieldAddressRaw:       {"address_raw", "address", "original_address1", "site address", "street_address", "location"},
		FieldZipcode:          {"zipcode", "zip", "zip_code", "original_zip", "postal code"},
		FieldCity:             {"city", "original_city"},
		FieldState:            {"state", "original_state"},
		FieldCounty:           {"county"},
	}
}

// DefaultMappings returns mappings with only the built-in defaults.
func DefaultMappings() *Mappings {
	return &Mappings{Default: DefaultFieldMap(), Sources: map[string]FieldMap{}}
}

// LoadMappings reads a YAML mapping file. An empty path yields the defaults.
// Entries in the file extend the defaults: a field's candidates from the file
// are tried before the built-in ones.
func LoadMappings(path string) (*Mappings, error) {
	m := DefaultMappings()
	if path == "" {
		return m, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "parser: read mapping file %s", path)
	}

	var file Mappings
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, eris.Wrapf(err, "parser: decode mapping file %s", path)
	}

	if err := file.Default.validate("default"); err != nil {
		return nil, err
	}
	m.Default = merge(file.Default, m.Default)

	for name, fm := range file.Sources {
		if err := fm.validate(name); err != nil {
			return nil, err
		}
		m.Sources[name] = fm
	}
	return m, nil
}

// For returns the effective field map for a source: its own candidates first,
// then the defaults.
func (m *Mappings) For(source string) FieldMap {
	if m == nil {
		return DefaultFieldMap()
	}
	return merge(m.Sources[source], m.Default)
}

func (fm FieldMap) validate(scope string) error {
	var unknown []string
	for field := range fm {
		if !knownFields[field] {
			unknown = append(unknown, field)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return eris.Errorf("parser: mapping %q names unknown fields %v", scope, unknown)
	}
	return nil
}

func merge(first, second FieldMap) FieldMap {
	out := make(FieldMap, len(knownFields))
	for field := range knownFields {
		var cands []string
		cands = append(cands, first[field]...)
		cands = append(cands, second[field]...)
		if len(cands) > 0 {
			out[field] = cands
		}
	}
	return out
}

// headerKey folds a header name so "Permit_Number", "permit number" and
// " PERMIT  NUMBER " compare equal.
func headerKey(s string) string {
	s = strings.ToLower(s)
	s = strings.NewReplacer("_", " ", "-", " ").Replace(s)
	return strings.Join(strings.Fields(s), " ")
}

// columns resolves each field to the header indexes that can supply it, in
// candidate order.
type columns map[string][]int

func resolve(header []string, fm FieldMap) columns {
	index := make(map[string][]int, len(header))
	for i, h := range header {
		k := headerKey(h)
		index[k] = append(index[k], i)
	}

	cols := make(columns, len(fm))
	for field, cands := range fm {
		seen := make(map[int]bool)
		for _, c := range cands {
			for _, i := range index[headerKey(c)] {
				if !seen[i] {
					seen[i] = true
					cols[field] = append(cols[field], i)
				}
			}
		}
	}
	return cols
}

// value returns the first non-empty cell among the field's columns.
func (c columns) value(field string, record []string) string {
	for _, i := range c[field] {
		if i < len(record) {
			if v := strings.TrimSpace(record[i]); v != "" {
				return v
			}
		}
	}
	return ""
}
