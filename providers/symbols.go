package providers

import (
	"strings"
)

// NormalizeSymbol converts user input to the canonical exchange-prefixed
// form used throughout the pipeline: "600000" -> "sh600000",
// "SZ000001" -> "sz000001". The exchange is inferred from the leading
// digit of bare six-digit codes: 6/5/9 trade on Shanghai, 0/3 on
// Shenzhen. Returns false for anything else.
func NormalizeSymbol(code string) (string, bool) {
	code = strings.ToLower(strings.TrimSpace(code))

	if len(code) == 8 {
		prefix, digits := code[:2], code[2:]
		if (prefix == "sh" || prefix == "sz") && allDigits(digits) {
			return code, true
		}
		return "", false
	}

	if len(code) != 6 || !allDigits(code) {
		return "", false
	}

	switch code[0] {
	case '6', '5', '9':
		return "sh" + code, true
	case '0', '3':
		return "sz" + code, true
	}
	return "", false
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return len(s) > 0
}
