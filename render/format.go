package render

import (
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/shopspring/decimal"

	"strdash/core"
)

// Formatter turns a cell value into display text.
type Formatter func(v any) string

// FormatText is the default formatter.
func FormatText(v any) string {
	return core.ScalarString(v)
}

// FormatDate renders compact (20240110) or ISO datetimes as
// "2006-01-02 15:04:05", dropping fractional seconds.
func FormatDate(v any) string {
	s := strings.TrimSpace(core.ScalarString(v))
	if s == "" {
		return ""
	}
	s = strings.Replace(s, "T", " ", 1)
	if len(s) >= 8 && isDigits(s[:8]) && (len(s) == 8 || s[8] == ' ') {
		s = s[:4] + "-" + s[4:6] + "-" + s[6:8] + s[8:]
	}
	if i := strings.IndexByte(s, '.'); i > 10 {
		s = s[:i]
	}
	return s
}

// FormatAmount renders a monetary amount with thousands separators and at
// most two decimals. Values that are not numbers are returned unchanged.
func FormatAmount(v any) string {
	s := strings.TrimSpace(core.ScalarString(v))
	d, err := decimal.NewFromString(strings.ReplaceAll(s, ",", ""))
	if err != nil {
		return s
	}
	d = d.Round(2)
	whole := d.Truncate(0)
	out := humanize.Comma(whole.IntPart())
	if d.IsNegative() && whole.IsZero() {
		out = "-" + out
	}
	if frac := d.Sub(whole).Abs(); !frac.IsZero() {
		out += strings.TrimPrefix(frac.StringFixed(2), "0")
	}
	return out
}

// FormatCount renders an integer count with thousands separators.
func FormatCount(v any) string {
	s := strings.TrimSpace(core.ScalarString(v))
	d, err := decimal.NewFromString(s)
	if err != nil {
		return s
	}
	return humanize.Comma(d.Round(0).IntPart())
}

// FormatPercent renders a ratio already expressed in percent.
func FormatPercent(v any) string {
	s := strings.TrimSpace(core.ScalarString(v))
	d, err := decimal.NewFromString(s)
	if err != nil {
		return s
	}
	return d.StringFixed(2) + "%"
}

// MaskIdentifier hides the personal part of resident numbers, phone
// numbers and email addresses.
func MaskIdentifier(v any) string {
	s := strings.TrimSpace(core.ScalarString(v))
	switch {
	case s == "":
		return ""
	case strings.Contains(s, "@"):
		at := strings.IndexByte(s, '@')
		local := s[:at]
		if len(local) <= 2 {
			return strings.Repeat("*", len(local)) + s[at:]
		}
		return local[:2] + strings.Repeat("*", len(local)-2) + s[at:]
	}

	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
	switch {
	case len(digits) == 13 && !strings.HasPrefix(digits, "0"):
		// Resident registration number: keep birth date and gender digit.
		return digits[:6] + "-" + digits[6:7] + "******"
	case len(digits) >= 10 && strings.HasPrefix(digits, "01"):
		return digits[:3] + "-****-" + digits[len(digits)-4:]
	case len(s) > 4:
		return strings.Repeat("*", len(s)-4) + s[len(s)-4:]
	default:
		return strings.Repeat("*", len(s))
	}
}

// FormatterFor picks a formatter from column naming conventions.
func FormatterFor(column string) Formatter {
	c := strings.ToUpper(column)
	switch {
	case c == "RRN" || strings.HasSuffix(c, "_RRN") || c == core.ColPhone || c == core.ColEmail ||
		strings.HasSuffix(c, "_PHONE") || strings.HasSuffix(c, "_EMAIL"):
		return MaskIdentifier
	case strings.HasSuffix(c, "_DT") || strings.HasSuffix(c, "_DTM") || strings.HasSuffix(c, "_DATE") ||
		c == core.ColTranStart || c == core.ColTranEnd:
		return FormatDate
	case strings.HasSuffix(c, "_AMT") || strings.HasSuffix(c, "_AMOUNT") || strings.HasSuffix(c, "_KRW"):
		return FormatAmount
	case strings.HasSuffix(c, "_CNT") || strings.HasSuffix(c, "_COUNT") || strings.HasSuffix(c, "_QTY"):
		return FormatCount
	case strings.HasSuffix(c, "_RATE") || strings.HasSuffix(c, "_RATIO") || strings.HasSuffix(c, "_PCT"):
		return FormatPercent
	default:
		return FormatText
	}
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return s != ""
}
