package address

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/permit-leads/internal/model"
)

func TestTag(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		street string
		city   string
		state  string
		zip    string
	}{
		{"commas", "100 Main St, Austin, TX 78701", "100 Main St", "Austin", "TX", "78701"},
		{"no commas", "100 main st austin tx 78701", "100 main st", "austin", "TX", "78701"},
		{"extra spaces", "123   main st, houston, tx, 77002", "123 main st", "houston", "TX", "77002"},
		{"zip plus four", "9 Elm Dr, Dallas, TX 75201-1234", "9 Elm Dr", "Dallas", "TX", "75201"},
		{"full state name", "55 Oak Ave Portland Oregon 97201", "55 Oak Ave", "Portland", "OR", "97201"},
		{"two word state", "1 Broad St, Albany, New York 12207", "1 Broad St", "Albany", "NY", "12207"},
		{"directionals", "400 N Lamar Blvd W, Austin, TX", "400 N Lamar Blvd W", "Austin", "TX", ""},
		{"unit designator", "12 Pine Rd Apt 4B, Houston, TX 77002", "12 Pine Rd Apt 4B", "Houston", "TX", "77002"},
		{"hash unit", "12 Pine Rd #7 Houston TX 77002", "12 Pine Rd # 7", "Houston", "TX", "77002"},
		{"stacked suffix", "10 Park Ave, Dallas, TX", "10 Park Ave", "Dallas", "TX", ""},
		{"street only", "77 Sunset Blvd", "77 Sunset Blvd", "", "", ""},
		{"ct is a suffix without zip", "5 Maple Ct", "5 Maple Ct", "", "", ""},
		{"trailing periods", "100 Main St., Austin, TX 78701", "100 Main St", "Austin", "TX", "78701"},
		{"diacritics", "8 Peñasco Rd, Santa Fe, NM 87501", "8 Penasco Rd", "Santa Fe", "NM", "87501"},
		{"stacked suffixes", "10 Mill Pass Rd Austin TX 78701", "10 Mill Pass Rd", "Austin", "TX", "78701"},
		{"stacked suffixes with comma", "10 Spring Creek Trail, Austin, TX", "10 Spring Creek Trail", "Austin", "TX", ""},
		{"directional city", "100 main st south houston tx 77587", "100 main st", "south houston", "TX", "77587"},
		{"directional city with commas", "100 Main St, South Houston, TX 77587", "100 Main St", "South Houston", "TX", "77587"},
		{"three word directional city", "100 main st north richland hills tx 76180", "100 main st", "north richland hills", "TX", "76180"},
		{"abbreviated post directional", "400 lamar blvd w austin tx 78701", "400 lamar blvd w", "austin", "TX", "78701"},
		{"trailing spelled directional", "400 Lamar Blvd West", "400 Lamar Blvd West", "", "", ""},
		{"suffix word city", "100 main st bend or 97701", "100 main st", "bend", "OR", "97701"},
		{"suffix word city with commas", "100 Main St, Bend, OR 97701", "100 Main St", "Bend", "OR", "97701"},
		{"two word suffix city", "100 main st pass christian ms 39571", "100 main st", "pass christian", "MS", "39571"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := Tag(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.street, c.StreetLine())
			assert.Equal(t, tt.city, c.City)
			assert.Equal(t, tt.state, c.State)
			assert.Equal(t, tt.zip, c.Zip)
		})
	}
}

func TestTag_Empty(t *testing.T) {
	c, err := Tag("   ")
	require.NoError(t, err)
	assert.Equal(t, "", c.StreetLine())
}

func TestTag_Unparseable(t *testing.T) {
	for _, in := range []string{"#### !!!", "78701", "12 34"} {
		_, err := Tag(in)
		require.Error(t, err, in)
		assert.True(t, errors.Is(err, ErrUnparseable), in)
	}
}

func TestDedupeKey_CaseAndWhitespaceInsensitive(t *testing.T) {
	a := DedupeKey("123 Main St", "77002", "Electrical")
	b := DedupeKey("123   main st ", "77002", "electrical")
	assert.Equal(t, a, b)
	assert.NotEmpty(t, a)
}

func TestDedupeKey_DistinctTriples(t *testing.T) {
	base := DedupeKey("123 Main St", "77002", "electrical")
	assert.NotEqual(t, base, DedupeKey("124 Main St", "77002", "electrical"))
	assert.NotEqual(t, base, DedupeKey("123 Main St", "77003", "electrical"))
	assert.NotEqual(t, base, DedupeKey("123 Main St", "77002", "plumbing"))
	// Field boundaries matter.
	assert.NotEqual(t, DedupeKey("a", "bc", ""), DedupeKey("ab", "c", ""))
}

func TestDedupeKey_EmptyTriplesCollide(t *testing.T) {
	assert.Equal(t, DedupeKey("", "", ""), DedupeKey(" ", "", ""))
}

func TestNormalize_EquivalentFormatsShareKey(t *testing.T) {
	a := Normalize(model.Permit{AddressRaw: "123 Main St, Houston, TX 77002", Trade: "roofing"})
	b := Normalize(model.Permit{AddressRaw: "123   main st, houston, tx, 77002", Trade: "Roofing"})

	assert.Equal(t, a.DedupeKey, b.DedupeKey)
	assert.Equal(t, "123 Main St", a.Address)
	assert.Equal(t, "Houston", a.City)
	assert.Equal(t, "TX", a.State)
	assert.Equal(t, "77002", a.Zipcode)
}

func TestNormalize_CommaAndBareFormsShareKey(t *testing.T) {
	pairs := [][2]string{
		{"100 Main St, Austin, TX 78701", "100 main st austin tx 78701"},
		{"100 Main St, South Houston, TX 77587", "100 main st south houston tx 77587"},
		{"100 Main St, North Richland Hills, TX 76180", "100 main st north richland hills tx 76180"},
		{"100 Main St, West University Place, TX 77005", "100 main st west university place tx 77005"},
		{"100 Main St, Bend, OR 97701", "100 main st bend or 97701"},
		{"100 Main St, Pass Christian, MS 39571", "100 main st pass christian ms 39571"},
	}
	for _, p := range pairs {
		t.Run(p[1], func(t *testing.T) {
			a := Normalize(model.Permit{AddressRaw: p[0], Trade: "electrical"})
			b := Normalize(model.Permit{AddressRaw: p[1], Trade: "electrical"})
			assert.Equal(t, a.DedupeKey, b.DedupeKey)
			assert.Equal(t, "100 main st", canon(b.Address))
			assert.Equal(t, canon(a.City), canon(b.City))
		})
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	first := Normalize(model.Permit{AddressRaw: "100 Main St, Austin, TX 78701", Trade: "hvac"})

	again := Normalize(model.Permit{
		AddressRaw: first.Address + ", " + first.City + ", " + first.State + ", " + first.Zipcode,
		Trade:      "HVAC",
	})
	assert.Equal(t, first.DedupeKey, again.DedupeKey)
	assert.Equal(t, first.Address, again.Address)
}

func TestNormalize_FallsBackToRowFields(t *testing.T) {
	p := Normalize(model.Permit{
		AddressRaw: "77 Sunset Blvd",
		City:       "Los Angeles",
		State:      "california",
		Zipcode:    "900281234",
	})
	assert.Equal(t, "77 Sunset Blvd", p.Address)
	assert.Equal(t, "Los Angeles", p.City)
	assert.Equal(t, "CA", p.State)
	assert.Equal(t, "90028", p.Zipcode)
}

func TestNormalize_TaggerFailureUsesRawText(t *testing.T) {
	raw := map[string]string{"Address": "#### !!!"}
	p := Normalize(model.Permit{AddressRaw: "  #### !!! ", City: "Austin", State: "TX", Zipcode: "78701", Raw: raw})

	assert.Equal(t, "#### !!!", p.Address)
	assert.Empty(t, p.City)
	assert.Empty(t, p.State)
	assert.Empty(t, p.Zipcode)
	assert.NotEmpty(t, p.DedupeKey)
	assert.Equal(t, raw, p.Raw)
}

func TestNormalize_PreservesRawAndSource(t *testing.T) {
	in := model.Permit{
		Source:           "austin",
		ExternalPermitID: "2024-001",
		AddressRaw:       "100 Main St, Austin, TX 78701",
		Raw:              map[string]string{"Permit Num": "2024-001"},
	}
	out := Normalize(in)
	assert.Equal(t, "austin", out.Source)
	assert.Equal(t, "2024-001", out.ExternalPermitID)
	assert.Equal(t, in.Raw, out.Raw)
	assert.Equal(t, "100 Main St, Austin, TX 78701", out.AddressRaw)
}
