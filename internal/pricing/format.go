package pricing

import (
	"strings"

	"github.com/shopspring/decimal"
)

// FormatINR renders an amount in paise using Indian digit grouping, e.g.
// 12345650 -> "₹1,23,456.50".
func FormatINR(minor int64) string {
	neg := minor < 0
	if neg {
		minor = -minor
	}
	s := decimal.New(minor, -2).StringFixed(2)
	whole, frac, _ := strings.Cut(s, ".")

	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	b.WriteString("₹")
	b.WriteString(groupIndian(whole))
	b.WriteByte('.')
	b.WriteString(frac)
	return b.String()
}

func groupIndian(digits string) string {
	if len(digits) <= 3 {
		return digits
	}
	head, tail := digits[:len(digits)-3], digits[len(digits)-3:]
	var parts []string
	for len(head) > 2 {
		parts = append([]string{head[len(head)-2:]}, parts...)
		head = head[:len(head)-2]
	}
	if head != "" {
		parts = append([]string{head}, parts...)
	}
	return strings.Join(parts, ",") + "," + tail
}
