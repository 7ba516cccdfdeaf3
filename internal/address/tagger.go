// Package address tags free-text US addresses and builds the content-based
// dedupe key shared by every pipeline stage.
package address

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/rotisserie/eris"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// ErrUnparseable is returned when an address carries no recognizable street.
var ErrUnparseable = eris.New("address: unparseable")

// Components holds the tagged parts of an address.
type Components struct {
	AddressNumber   string
	PreDirectional  string
	StreetName      string
	StreetSuffix    string
	PostDirectional string
	OccupancyType   string
	OccupancyID     string
	City            string
	State           string // upper-case two-letter abbreviation
	Zip             string // five digits
}

// StreetLine reassembles the canonical street line: number, street name
// parts, then any occupancy type and identifier as trailing tokens.
func (c Components) StreetLine() string {
	parts := []string{
		c.AddressNumber, c.PreDirectional, c.StreetName, c.StreetSuffix,
		c.PostDirectional, c.OccupancyType, c.OccupancyID,
	}
	var out []string
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, " ")
}

type token struct {
	text  string
	lower string
	comma bool // a comma followed this token in the input
}

var (
	zipRe    = regexp.MustCompile(`^(\d{5})(-\d{4})?$`)
	numberRe = regexp.MustCompile(`^\d+[a-z]?(-\d+[a-z]?)?$|^\d+/\d+$`)
)

// foldDiacritics strips combining marks so "Peñasco" and "Penasco" tag alike.
func foldDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

func tokenize(s string) []token {
	var toks []token
	for _, seg := range strings.Split(s, ",") {
		for _, f := range strings.Fields(seg) {
			f = strings.Trim(f, ".;")
			if f == "" {
				continue
			}
			toks = append(toks, token{text: f, lower: strings.ToLower(f)})
		}
		if n := len(toks); n > 0 {
			toks[n-1].comma = true
		}
	}
	return toks
}

// Tag splits a free-text address into components. It never guesses beyond
// simple US address grammar: number, optional directional, street name,
// suffix, optional directional, optional unit, city, state, zip.
func Tag(raw string) (Components, error) {
	var c Components

	toks := tokenize(foldDiacritics(raw))
	if len(toks) == 0 {
		return c, nil
	}
	if !anyLetter(toks) {
		return c, eris.Wrapf(ErrUnparseable, "no street name in %q", raw)
	}

	// Zip from the tail.
	if m := zipRe.FindStringSubmatch(toks[len(toks)-1].lower); m != nil {
		c.Zip = m[1]
		toks = toks[:len(toks)-1]
	}

	// State from the tail: full names of up to three words, then abbreviations.
	toks, c.State = takeState(toks, c.Zip != "")

	if len(toks) == 0 {
		return c, eris.Wrapf(ErrUnparseable, "no street in %q", raw)
	}

	anchored := c.State != "" || c.Zip != ""

	i := 0
	if numberRe.MatchString(toks[i].lower) {
		c.AddressNumber = toks[i].text
		i++
	}
	if i < len(toks)-1 && directionals[toks[i].lower] && !toks[i].comma {
		c.PreDirectional = toks[i].text
		i++
	}

	// Street name runs until a suffix, a unit designator, or a comma.
	var name []string
	for i < len(toks) {
		t := toks[i]
		if len(name) > 0 && isOccupancy(t) {
			break
		}
		if len(name) > 0 && streetSuffixes[t.lower] {
			c.StreetSuffix = t.text
			i++
			// Stacked suffixes ("Mill Pass Rd") extend the street name.
			for i < len(toks) && stacksSuffix(toks, i, c.StreetSuffix, anchored) {
				name = append(name, c.StreetSuffix)
				c.StreetSuffix = toks[i].text
				i++
			}
			if i < len(toks) && takesPostDirectional(toks, i) {
				c.PostDirectional = toks[i].text
				i++
			}
			break
		}
		name = append(name, t.text)
		i++
		if t.comma {
			break
		}
	}
	c.StreetName = strings.Join(name, " ")

	// Occupancy designator and identifier.
	if i < len(toks) && isOccupancy(toks[i]) {
		i = takeOccupancy(toks, i, &c)
	}

	if c.StreetName == "" && c.AddressNumber == "" {
		return Components{}, eris.Wrapf(ErrUnparseable, "no street in %q", raw)
	}

	var city []string
	for ; i < len(toks); i++ {
		city = append(city, toks[i].text)
	}
	c.City = strings.Join(city, " ")

	return c, nil
}

// stacksSuffix reports whether toks[i] continues the street after the suffix
// cur. A terminal suffix ("St", "Road") closes the street, so "Main St Pass
// Christian" leaves "Pass" to the city. A trailing suffix word before the
// state or zip is read as the city ("Oak Dr Bend OR").
func stacksSuffix(toks []token, i int, cur string, anchored bool) bool {
	t := toks[i]
	if toks[i-1].comma || !streetSuffixes[t.lower] || terminalSuffixes[strings.ToLower(cur)] {
		return false
	}
	if t.comma || i < len(toks)-1 {
		return true
	}
	return !anchored || terminalSuffixes[t.lower]
}

// takesPostDirectional reports whether toks[i] is a post-directional rather
// than the first word of the city. Spelled-out directionals followed by more
// words open the city ("South Houston", "North Richland Hills").
func takesPostDirectional(toks []token, i int) bool {
	t := toks[i]
	if toks[i-1].comma || !directionals[t.lower] {
		return false
	}
	if t.comma || i == len(toks)-1 {
		return true
	}
	return len(t.lower) <= 2
}

func isOccupancy(t token) bool {
	return occupancyTypes[t.lower] || (strings.HasPrefix(t.lower, "#") && len(t.lower) > 1)
}

func takeOccupancy(toks []token, i int, c *Components) int {
	t := toks[i]
	if strings.HasPrefix(t.text, "#") && len(t.text) > 1 {
		c.OccupancyType = "#"
		c.OccupancyID = strings.TrimPrefix(t.text, "#")
		return i + 1
	}
	c.OccupancyType = t.text
	i++
	if i < len(toks) && !toks[i-1].comma {
		c.OccupancyID = strings.TrimPrefix(toks[i].text, "#")
		i++
	}
	return i
}

// takeState pops a trailing state from toks. A bare abbreviation that is also
// a street suffix ("Ct") only counts when a zip or a comma marks it as the
// state position.
func takeState(toks []token, hasZip bool) ([]token, string) {
	for n := 3; n >= 2; n-- {
		if len(toks) <= n {
			continue
		}
		words := make([]string, 0, n)
		for _, t := range toks[len(toks)-n:] {
			words = append(words, t.lower)
		}
		if abbr, ok := stateToAbbr[strings.Join(words, " ")]; ok {
			return toks[:len(toks)-n], strings.ToUpper(abbr)
		}
	}
	if len(toks) < 2 {
		return toks, ""
	}
	last := toks[len(toks)-1]
	prevComma := toks[len(toks)-2].comma
	if _, ok := abbrToState[last.lower]; ok {
		if streetSuffixes[last.lower] && !hasZip && !prevComma {
			return toks, ""
		}
		return toks[:len(toks)-1], strings.ToUpper(last.lower)
	}
	if abbr, ok := stateToAbbr[last.lower]; ok {
		return toks[:len(toks)-1], strings.ToUpper(abbr)
	}
	return toks, ""
}

func anyLetter(toks []token) bool {
	for _, t := range toks {
		for _, r := range t.text {
			if unicode.IsLetter(r) {
				return true
			}
		}
	}
	return false
}
