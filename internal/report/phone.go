package report

import (
	"strings"
)

// NormalizePhone turns an international +81 number into its domestic form
// and formats 11 digit numbers as XXX-XXXX-XXXX. Other lengths are returned
// as bare digits.
func NormalizePhone(phone string) string {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return ""
	}
	if strings.HasPrefix(phone, "+81") {
		phone = "0" + strings.TrimPrefix(phone, "+81")
	}

	digits := strings.Builder{}
	for _, r := range phone {
		switch {
		case r >= '0' && r <= '9':
			digits.WriteRune(r)
		case r >= '\uff10' && r <= '\uff19':
			// full-width digits
			digits.WriteRune('0' + r - '\uff10')
		}
	}
	out := digits.String()
	// +81 0 90... leaves a doubled trunk prefix
	if strings.HasPrefix(out, "00") && len(out) == 12 {
		out = out[1:]
	}
	if len(out) == 11 {
		return out[0:3] + "-" + out[3:7] + "-" + out[7:]
	}
	return out
}
