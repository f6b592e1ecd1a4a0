package importer

import (
	"regexp"
	"strings"
)

// Entity is a category or tag reference carried by an import row.
type Entity struct {
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
}

// Canonical pricing values.
const (
	PricingFullyFree = "fully_free"
	PricingPaid      = "paid"
	PricingFreeTrial = "free_trial"
	PricingFreemium  = "freemium"
)

// Exact-match aliases, checked before the regex fallback. Includes the
// canonical values themselves so normalization is idempotent.
var pricingAliases = map[string]string{
	PricingFullyFree: PricingFullyFree,
	PricingPaid:      PricingPaid,
	PricingFreeTrial: PricingFreeTrial,
	PricingFreemium:  PricingFreemium,

	"free":       PricingFullyFree,
	"100% free":  PricingFullyFree,
	"besplatno":  PricingFullyFree,
	"gratis":     PricingFullyFree,
	"premium":    PricingPaid,
	"paid only":  PricingPaid,
	"trial":      PricingFreeTrial,
	"free trial": PricingFreeTrial,
}

// Regex fallback, checked in order. "trial" must precede "free" so that
// "free trial period" maps to free_trial, and the alias table catches
// "freemium" before the "free" pattern can.
var pricingPatterns = []struct {
	re    *regexp.Regexp
	value string
}{
	{regexp.MustCompile(`trial`), PricingFreeTrial},
	{regexp.MustCompile(`paid|premium|plac`), PricingPaid},
	{regexp.MustCompile(`free|besplatn|gratis`), PricingFullyFree},
	{regexp.MustCompile(`freemium`), PricingFreemium},
}

// NormalizePricing maps free-text pricing onto the canonical vocabulary.
// Unrecognized input defaults to freemium.
func NormalizePricing(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return PricingFreemium
	}
	if v, ok := pricingAliases[s]; ok {
		return v
	}
	for _, p := range pricingPatterns {
		if p.re.MatchString(s) {
			return p.value
		}
	}
	return PricingFreemium
}

// SplitList splits a delimited string on commas, semicolons, pipes and
// newlines, trimming each part and dropping empties.
func SplitList(s string) []string {
	parts := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ';' || r == '|' || r == '\n' || r == '\r'
	})
	var out []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parseEntities accepts either an array of {name,color} objects, an array of
// strings, or a single delimited string.
func parseEntities(v any) []Entity {
	switch val := v.(type) {
	case nil:
		return nil
	case string:
		var out []Entity
		for _, name := range SplitList(val) {
			out = append(out, Entity{Name: name})
		}
		return out
	case []any:
		var out []Entity
		for _, item := range val {
			switch e := item.(type) {
			case string:
				name := strings.TrimSpace(e)
				if name != "" {
					out = append(out, Entity{Name: name})
				}
			case map[string]any:
				name := strings.TrimSpace(asString(e["name"]))
				if name != "" {
					out = append(out, Entity{Name: name, Color: asString(e["color"])})
				}
			}
		}
		return out
	default:
		return nil
	}
}

// parseBool accepts true, "true" and 1 as truthy.
func parseBool(v any) bool {
	switch val := v.(type) {
	case bool:
		return val
	case string:
		return strings.EqualFold(strings.TrimSpace(val), "true") || strings.TrimSpace(val) == "1"
	case float64:
		return val == 1
	case int:
		return val == 1
	default:
		return false
	}
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}
