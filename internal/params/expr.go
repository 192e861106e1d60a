package params

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

var numberPrefix = regexp.MustCompile(`^[+-]?(\d+\.?\d*|\.\d+)([eE][+-]?\d+)?`)

// SPICE scale suffixes. "meg" and "mil" are checked before single letters.
var suffixScale = map[byte]float64{
	't': 1e12,
	'g': 1e9,
	'k': 1e3,
	'm': 1e-3,
	'u': 1e-6,
	'n': 1e-9,
	'p': 1e-12,
	'f': 1e-15,
	'a': 1e-18,
}

// ParseNumber parses a SPICE number such as "2.5u", "10meg" or "1e-6".
// Trailing unit letters after the scale suffix are ignored ("1uF").
func ParseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	loc := numberPrefix.FindStringIndex(s)
	if loc == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(s[:loc[1]], 64)
	if err != nil {
		return 0, false
	}
	rest := strings.ToLower(s[loc[1]:])
	if rest == "" {
		return v, true
	}
	for _, r := range rest {
		if !unicode.IsLetter(r) {
			return 0, false
		}
	}
	switch {
	case strings.HasPrefix(rest, "meg"):
		return v * 1e6, true
	case strings.HasPrefix(rest, "mil"):
		return v * 25.4e-6, true
	}
	if scale, ok := suffixScale[rest[0]]; ok {
		return v * scale, true
	}
	return v, true
}

// spiceFuncs maps expression functions onto the CUE math package.
var spiceFuncs = map[string]string{
	"sqrt":  "math.Sqrt",
	"exp":   "math.Exp",
	"log":   "math.Log",
	"ln":    "math.Log",
	"log10": "math.Log10",
	"abs":   "math.Abs",
	"pow":   "math.Pow",
	"pwr":   "math.Pow",
	"floor": "math.Floor",
	"ceil":  "math.Ceil",
	"round": "math.Round",
}

// translate rewrites a SPICE expression into CUE source. Parameter names are
// replaced by their values; numbers lose their scale suffixes.
func translate(expr string, lookup func(string) (float64, bool)) (string, bool, error) {
	var b strings.Builder
	usesMath := false
	depth := 0
	i := 0
	for i < len(expr) {
		ch := expr[i]
		switch {
		case ch == ' ' || ch == '\t':
			i++

		case isDigit(ch) || (ch == '.' && i+1 < len(expr) && isDigit(expr[i+1])):
			j := i + 1
			for j < len(expr) && (isDigit(expr[j]) || expr[j] == '.') {
				j++
			}
			if j < len(expr) && (expr[j] == 'e' || expr[j] == 'E') {
				k := j + 1
				if k < len(expr) && (expr[k] == '+' || expr[k] == '-') {
					k++
				}
				if k < len(expr) && isDigit(expr[k]) {
					for k < len(expr) && isDigit(expr[k]) {
						k++
					}
					j = k
				}
			}
			for j < len(expr) && isLetter(expr[j]) {
				j++
			}
			v, ok := ParseNumber(expr[i:j])
			if !ok {
				return "", false, fmt.Errorf("bad number %q", expr[i:j])
			}
			b.WriteString(literal(v))
			i = j

		case isLetter(ch) || ch == '_':
			j := i + 1
			for j < len(expr) && (isLetter(expr[j]) || isDigit(expr[j]) || expr[j] == '_') {
				j++
			}
			name := expr[i:j]
			k := j
			for k < len(expr) && expr[k] == ' ' {
				k++
			}
			if k < len(expr) && expr[k] == '(' {
				fn, ok := spiceFuncs[strings.ToLower(name)]
				if !ok {
					return "", false, fmt.Errorf("unknown function %q", name)
				}
				usesMath = true
				b.WriteString(fn)
				i = k
				continue
			}
			v, ok := lookup(name)
			if !ok {
				return "", false, fmt.Errorf("undefined parameter %q", name)
			}
			b.WriteString(literal(v))
			i = j

		case strings.ContainsRune("+-*/,", rune(ch)):
			b.WriteByte(' ')
			b.WriteByte(ch)
			b.WriteByte(' ')
			i++

		case ch == '(':
			depth++
			b.WriteByte(ch)
			i++

		case ch == ')':
			depth--
			if depth < 0 {
				return "", false, fmt.Errorf("unbalanced parenthesis")
			}
			b.WriteByte(ch)
			i++

		default:
			return "", false, fmt.Errorf("unexpected %q", ch)
		}
	}
	if depth != 0 {
		return "", false, fmt.Errorf("unbalanced parenthesis")
	}
	if b.Len() == 0 {
		return "", false, fmt.Errorf("empty expression")
	}
	return b.String(), usesMath, nil
}

// literal renders v as a CUE number. Integral values keep a decimal point so
// that CUE performs float arithmetic throughout.
func literal(v float64) string {
	s := strconv.FormatFloat(v, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eE") && !strings.Contains(s, "Inf") && !strings.Contains(s, "NaN") {
		s += ".0"
	}
	if v < 0 {
		return "(" + s + ")"
	}
	return s
}

func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}

func isLetter(ch byte) bool {
	return (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z')
}
