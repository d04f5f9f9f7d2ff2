package report

import (
	"fmt"
	"math"

	"github.com/dustin/go-humanize"
)

const missing = "n/a"

// num formats a float with thousands separators and two decimals.
func num(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return missing
	}
	return humanize.CommafWithDigits(v, 2)
}

func count(n int) string {
	return humanize.Comma(int64(n))
}

func pct(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return missing
	}
	return fmt.Sprintf("%.1f%%", v)
}

// withUnit formats a value the way its unit reads best.
func withUnit(v float64, unit string) string {
	switch unit {
	case "%":
		return pct(v)
	case "", "INR":
		return num(v)
	default:
		if s := num(v); s != missing {
			return s + " " + unit
		}
		return missing
	}
}

// ratio is mule over legit, "n/a" when legit is zero or missing.
func ratio(legit, mule float64) string {
	if legit == 0 || math.IsNaN(legit) || math.IsNaN(mule) {
		return missing
	}
	return fmt.Sprintf("%.2fx", mule/legit)
}
