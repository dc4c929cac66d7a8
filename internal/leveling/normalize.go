package leveling

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/bidlevel/internal/model"
)

var (
	punctuation = regexp.MustCompile(`\p{P}+`)
	multiSpace  = regexp.MustCompile(`\s+`)
)

// NormalizeText folds s for exact-key grouping: diacritics and punctuation
// are stripped, whitespace collapsed and the result lowercased. Symbols such
// as "+" or "$" are kept.
// "Type-X Gyp. Bd. 5/8\"" becomes "typex gyp bd 58".
func NormalizeText(s string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	folded = punctuation.ReplaceAllString(folded, "")
	folded = multiSpace.ReplaceAllString(folded, " ")
	return strings.ToLower(strings.TrimSpace(folded))
}

// GroupKey identifies a set of comparable line items.
type GroupKey struct {
	CSICode     string // normalized; "" when absent
	Description string // normalized
	RawCSI      bool   // description normalized to empty; CSICode holds the raw code

	// Item names the single item of a RawCSI group as "<submission_id>:<line_number>".
	Item string
}

// String is the canonical wire form of the key, also used for ordering.
func (k GroupKey) String() string {
	switch {
	case k.RawCSI && k.Item != "":
		return "csi:" + k.CSICode + "#" + k.Item
	case k.RawCSI:
		return "csi:" + k.CSICode
	case k.CSICode == "":
		return k.Description
	default:
		return k.CSICode + "|" + k.Description
	}
}

// KeyFor derives the group key of a raw item. ok is false when both the CSI
// code and the description are empty.
func KeyFor(csi *string, description string) (GroupKey, bool) {
	raw := ""
	if csi != nil {
		raw = strings.TrimSpace(*csi)
	}
	desc := NormalizeText(description)
	if desc == "" {
		if raw == "" {
			return GroupKey{}, false
		}
		return GroupKey{CSICode: raw, RawCSI: true}, true
	}
	return GroupKey{CSICode: NormalizeText(raw), Description: desc}, true
}

// singletonKey gives an item without a usable description a key of its own,
// so it is never compared with other items.
func singletonKey(k GroupKey, item model.RawLineItem) GroupKey {
	if k.RawCSI {
		k.Item = fmt.Sprintf("%s:%d", item.SubmissionID, item.LineNumber)
	}
	return k
}
