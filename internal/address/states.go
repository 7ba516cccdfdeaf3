package address

// abbrToState maps lowercase state abbreviations to lowercase full names.
var abbrToState = map[string]string{
	"al": "alabama", "ak": "alaska", "az": "arizona", "ar": "arkansas",
	"ca": "california", "co": "colorado", "ct": "connecticut", "de": "delaware",
	"fl": "florida", "ga": "georgia", "hi": "hawaii", "id": "idaho",
	"il": "illinois", "in": "indiana", "ia": "iowa", "ks": "kansas",
	"ky": "kentucky", "la": "louisiana", "me": "maine", "md": "maryland",
	"ma": "massachusetts", "mi": "michigan", "mn": "minnesota", "ms": "mississippi",
	"mo": "missouri", "mt": "montana", "ne": "nebraska", "nv": "nevada",
	"nh": "new hampshire", "nj": "new jersey", "nm": "new mexico", "ny": "new york",
	"nc": "north carolina", "nd": "north dakota", "oh": "ohio", "ok": "oklahoma",
	"or": "oregon", "pa": "pennsylvania", "ri": "rhode island", "sc": "south carolina",
	"sd": "south dakota", "tn": "tennessee", "tx": "texas", "ut": "utah",
	"vt": "vermont", "va": "virginia", "wa": "washington", "wv": "west virginia",
	"wi": "wisconsin", "wy": "wyoming", "dc": "district of columbia",
	"pr": "puerto rico",
}

// stateToAbbr maps lowercase full names to lowercase abbreviations.
var stateToAbbr = func() map[string]string {
	m := make(map[string]string, len(abbrToState))
	for abbr, full := range abbrToState {
		m[full] = abbr
	}
	return m
}()

// streetSuffixes holds lowercase USPS street suffixes and their common
// spelled-out forms.
var streetSuffixes = setOf(
	"aly", "alley", "ave", "av", "avenue", "blvd", "boulevard", "byp", "bypass",
	"cir", "circle", "ct", "court", "cv", "cove", "dr", "drive", "expy", "expressway",
	"fwy", "freeway", "hwy", "highway", "ln", "lane", "loop", "pass", "path",
	"pike", "pkwy", "parkway", "pl", "place", "plz", "plaza", "rd", "road",
	"row", "run", "sq", "st", "street", "ter", "terrace", "trl", "trail",
	"way", "xing", "crossing", "bnd", "bend", "holw", "hollow", "pt", "point",
	"rdg", "ridge", "tpke", "turnpike", "walk", "vw", "view", "crk", "creek",
)

// terminalSuffixes are suffixes that end a street name. They never take a
// further suffix after them.
var terminalSuffixes = setOf(
	"st", "street", "ave", "av", "avenue", "rd", "road", "dr", "drive",
	"blvd", "boulevard", "ln", "lane", "ct", "court", "cir", "pkwy", "hwy",
	"fwy", "expy", "pl", "ter", "trl", "plz", "sq", "aly", "byp", "cv",
	"tpke", "xing", "bnd", "holw", "rdg", "crk", "vw", "pt",
)

// directionals holds lowercase pre/post directionals.
var directionals = setOf(
	"n", "s", "e", "w", "ne", "nw", "se", "sw",
	"north", "south", "east", "west", "northeast", "northwest", "southeast", "southwest",
)

// occupancyTypes holds lowercase unit designators.
var occupancyTypes = setOf(
	"apt", "apartment", "unit", "ste", "suite", "bldg", "building", "fl", "floor",
	"rm", "room", "lot", "spc", "space", "trlr", "dept", "#",
)

func setOf(words ...string) map[string]bool {
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[w] = true
	}
	return m
}
