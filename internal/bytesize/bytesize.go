// Package bytesize renders byte counts for display.
package bytesize

import (
	"math"
	"strconv"
)

var units = []string{"Bytes", "KB", "MB", "GB", "TB"}

// Format renders n using 1024-based units rounded to two decimals, dropping
// trailing zeros: 1536 -> "1.5 KB", 1048576 -> "1 MB". Zero and negative
// counts render as "0 Bytes". Magnitudes past TB stay in TB.
func Format(n int64) string {
	if n <= 0 {
		return "0 Bytes"
	}
	mag := 0
	for limit := int64(1024); mag < len(units)-1 && n >= limit; limit *= 1024 {
		mag++
	}
	v := float64(n) / math.Pow(1024, float64(mag))
	v = math.Round(v*100) / 100
	return strconv.FormatFloat(v, 'f', -1, 64) + " " + units[mag]
}
