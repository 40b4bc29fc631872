package clients

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var firstNameGenders = map[string]Gender{
	"maria":     GenderFemale,
	"mari":      GenderFemale,
	"lucia":     GenderFemale,
	"sofia":     GenderFemale,
	"julia":     GenderFemale,
	"claudia":   GenderFemale,
	"patricia":  GenderFemale,
	"silvia":    GenderFemale,
	"sonia":     GenderFemale,
	"natalia":   GenderFemale,
	"alicia":    GenderFemale,
	"carmen":    GenderFemale,
	"pilar":     GenderFemale,
	"isabel":    GenderFemale,
	"raquel":    GenderFemale,
	"mercedes":  GenderFemale,
	"dolores":   GenderFemale,
	"beatriz":   GenderFemale,
	"ines":      GenderFemale,
	"nuria":     GenderFemale,
	"rocio":     GenderFemale,
	"consuelo":  GenderFemale,
	"rosario":   GenderFemale,
	"amparo":    GenderFemale,
	"carlos":    GenderMale,
	"jose":      GenderMale,
	"juan":      GenderMale,
	"luis":      GenderMale,
	"miguel":    GenderMale,
	"javier":    GenderMale,
	"david":     GenderMale,
	"daniel":    GenderMale,
	"manuel":    GenderMale,
	"jesus":     GenderMale,
	"angel":     GenderMale,
	"rafael":    GenderMale,
	"andres":    GenderMale,
	"ruben":     GenderMale,
	"adrian":    GenderMale,
	"ivan":      GenderMale,
	"oscar":     GenderMale,
	"victor":    GenderMale,
	"raul":      GenderMale,
	"joan":      GenderMale,
	"jordi":     GenderMale,
	"borja":     GenderMale,
	"luca":      GenderMale,
	"andrea":    GenderFemale,
	"elias":     GenderMale,
	"matias":    GenderMale,
	"tobias":    GenderMale,
	"guillermo": GenderMale,
}

var accentStripper = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// InferGender guesses a gender from the first token of a full name.
// The lookup table wins; otherwise a trailing "a" means female and a trailing
// "o" means male, except names ending in "ia" which stay unknown.
func InferGender(fullName string) Gender {
	first := firstName(fullName)
	if first == "" {
		return GenderUnknown
	}
	if g, ok := firstNameGenders[first]; ok {
		return g
	}
	switch {
	case strings.HasSuffix(first, "ia"):
		return GenderUnknown
	case strings.HasSuffix(first, "a"):
		return GenderFemale
	case strings.HasSuffix(first, "o"):
		return GenderMale
	default:
		return GenderUnknown
	}
}

func firstName(fullName string) string {
	fields := strings.Fields(fullName)
	if len(fields) == 0 {
		return ""
	}
	normalized, _, err := transform.String(accentStripper, fields[0])
	if err != nil {
		normalized = fields[0]
	}
	return strings.ToLower(strings.Trim(normalized, ".,;:"))
}
