package util

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

var (
	reLeadingDigit = regexp.MustCompile(`^\s*-?\d`)
	reWeightUnits  = regexp.MustCompile(`(KGS?|TONNES?|TONS?|LBS?|POUNDS?|T)`)
	reThousandDot  = regexp.MustCompile(`^\d{1,3}(?:\.\d{3})+$`)
	reThousandComm = regexp.MustCompile(`^\d{1,3}(?:,\d{3})+(?:\.\d+)?$`)
)

// ParseWeightText reads weights such as "12.5 T", "12 500 kg" or "24,380KG".
// kg reports an explicit kilogram suffix.
func ParseWeightText(input string) (value float64, kg bool, ok bool) {
	text := strings.ToUpper(strings.TrimSpace(input))
	if text == "" || !reLeadingDigit.MatchString(text) {
		return 0, false, false
	}
	kg = strings.Contains(text, "KG")
	text = reWeightUnits.ReplaceAllString(text, "")
	token := normalizeNumericToken(text)
	if token == "" {
		return 0, false, false
	}
	parsed, err := strconv.ParseFloat(token, 64)
	if err != nil {
		return 0, false, false
	}
	return parsed, kg, true
}

// ToTonnes converts kilograms to tonnes when the value is marked as kg or is
// too large to be a tonnage.
func ToTonnes(value float64, kg bool) float64 {
	if kg || value > 1000 {
		return value / 1000
	}
	return value
}

func Round(value float64, places int) float64 {
	pow := math.Pow(10, float64(places))
	return math.Round(value*pow) / pow
}

func normalizeNumericToken(token string) string {
	compact := strings.Map(func(r rune) rune {
		if r == ' ' || r == '\u00a0' || r == '\t' {
			return -1
		}
		return r
	}, token)
	if reThousandDot.MatchString(compact) && strings.Count(compact, ".") > 1 {
		return strings.ReplaceAll(compact, ".", "")
	}
	if reThousandComm.MatchString(compact) {
		return strings.ReplaceAll(compact, ",", "")
	}
	if strings.Contains(compact, ",") && !strings.Contains(compact, ".") {
		compact = strings.ReplaceAll(compact, ",", ".")
	}
	return strings.Map(func(r rune) rune {
		if (r >= '0' && r <= '9') || r == '.' || r == '-' {
			return r
		}
		return -1
	}, compact)
}
