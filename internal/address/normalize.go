package address

import (
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"

	"github.com/sells-group/permit-leads/internal/model"
)

// DedupeKey hashes lower(address)|lower(zip)|lower(trade). Whitespace is
// collapsed first so formatting differences do not change the key. Absent
// parts hash as empty strings, so rows missing all three share one key.
func DedupeKey(address, zip, trade string) string {
	s := canon(address) + "|" + canon(zip) + "|" + canon(trade)
	return strconv.FormatUint(xxhash.Sum64String(s), 16)
}

func canon(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// Normalize returns a copy of p with address components and dedupe key set.
// Tagger failures fall back to the raw address text with empty city, state
// and zip; the row is never dropped.
func Normalize(p model.Permit) model.Permit {
	out := p

	comp, err := Tag(p.AddressRaw)
	if err != nil {
		zap.L().Debug("address: tag failed, using raw text",
			zap.String("address_raw", p.AddressRaw),
			zap.Error(err),
		)
		out.Address = strings.TrimSpace(p.AddressRaw)
		out.City = ""
		out.State = ""
		out.Zipcode = ""
		out.DedupeKey = DedupeKey(out.Address, out.Zipcode, out.Trade)
		return out
	}

	out.Address = comp.StreetLine()
	out.City = firstNonEmpty(comp.City, strings.TrimSpace(p.City))
	out.State = truncate(strings.ToUpper(firstNonEmpty(comp.State, strings.TrimSpace(p.State))), 2)
	out.Zipcode = truncate(firstNonEmpty(comp.Zip, strings.TrimSpace(p.Zipcode)), 5)
	out.DedupeKey = DedupeKey(out.Address, out.Zipcode, out.Trade)
	return out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) > n {
		return string(r[:n])
	}
	return s
}
