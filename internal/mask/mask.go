// Package mask implements the data masking engine.
//
// Mask is a pure function from (value, rule, role) to a display value. It is
// total (never panics, unknown rules and nil/empty inputs pass through) and
// deterministic (identical inputs always yield identical output). Both
// properties are required for cache correctness, since masked pages are what
// gets cached.
package mask

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/stratadb/strata/pkg/types"
)

// Built-in masking rule names.
const (
	RuleEmail        = "email"
	RulePartialEmail = "partial_email"
	RulePhone        = "phone"
	RuleSSN          = "ssn"
	RuleCreditCard   = "credit_card"
	RuleName         = "name"
	RulePartialText  = "partial_text"
	RuleIP           = "ip"
	RuleRedact       = "redact"
	RuleHash         = "hash"
	RuleNumericRound = "numeric_round"

	// customPrefix marks a rule carrying an inline regex pattern,
	// e.g. "custom:[0-9]{3}".
	customPrefix = "custom:"
)

const (
	maskToken   = "***"
	redactedLen = 8
	hashPrefix  = 12
)

// nonDigit strips everything but digits for the last-four style rules.
var nonDigit = regexp.MustCompile(`\D`)

// customPatterns caches compiled custom:<pattern> regexes. Compilation
// failures are cached as nil so invalid patterns stay pass-through.
var customPatterns sync.Map // pattern string → *regexp.Regexp (nil if invalid)

// Mask applies rule to value for the given caller role and returns the
// display value. Admin callers always see the raw value. Nil or empty
// values, and unknown rule names, pass through unchanged.
func Mask(value interface{}, rule, role string) interface{} {
	if role == types.RoleAdmin {
		return value
	}
	if value == nil || rule == "" {
		return value
	}
	s := stringify(value)
	if s == "" {
		return value
	}

	switch rule {
	case RuleEmail, RulePartialEmail:
		return maskEmail(s)
	case RulePhone:
		return maskLastFour(s, "***-***-", 4)
	case RuleSSN:
		return maskLastFour(s, "***-**-", 4)
	case RuleCreditCard:
		return maskLastFour(s, "****-****-****-", 4)
	case RuleName, RulePartialText:
		return maskTokens(s)
	case RuleIP:
		return maskIP(s)
	case RuleRedact:
		return strings.Repeat("*", redactedLen)
	case RuleHash:
		return maskHash(s)
	case RuleNumericRound:
		return maskNumericRound(value, s)
	}

	if strings.HasPrefix(rule, customPrefix) {
		return maskCustom(s, strings.TrimPrefix(rule, customPrefix))
	}

	// Unknown rule: reads degrade to pass-through rather than failing.
	return value
}

// ValidRule reports whether rule names a known masking rule. An empty rule
// is valid and means "no masking". Invalid rules are rejected at
// schema-patch time, never at read time.
func ValidRule(rule string) bool {
	switch rule {
	case "", RuleEmail, RulePartialEmail, RulePhone, RuleSSN, RuleCreditCard,
		RuleName, RulePartialText, RuleIP, RuleRedact, RuleHash, RuleNumericRound:
		return true
	}
	if pattern, ok := strings.CutPrefix(rule, customPrefix); ok {
		_, err := regexp.Compile(pattern)
		return err == nil
	}
	return false
}

// stringify renders a value for string-oriented rules. Floats use the
// shortest round-trip representation so repeated calls are stable.
func stringify(value interface{}) string {
	switch v := value.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'g', -1, 32)
	default:
		return fmt.Sprint(v)
	}
}

// maskEmail keeps the first two characters of the local part and redacts
// the rest up to the domain: john.doe@example.com → jo***@example.com.
func maskEmail(s string) string {
	at := strings.Index(s, "@")
	if at < 0 {
		return "***@***.***"
	}
	local, domain := s[:at], s[at+1:]
	keep := local
	if r := []rune(local); len(r) > 2 {
		keep = string(r[:2])
	}
	return keep + maskToken + "@" + domain
}

// maskLastFour keeps the last n digits and replaces everything before them
// with a fixed mask prefix sized to the rule.
func maskLastFour(s, prefix string, n int) string {
	digits := nonDigit.ReplaceAllString(s, "")
	if len(digits) < n {
		return prefix + strings.Repeat("*", n)
	}
	return prefix + digits[len(digits)-n:]
}

// maskTokens keeps the first character of each whitespace-delimited token
// and redacts the remainder: John Michael Doe → J*** M****** D**.
func maskTokens(s string) string {
	parts := strings.Fields(s)
	masked := make([]string, len(parts))
	for i, part := range parts {
		r := []rune(part)
		if len(r) <= 1 {
			masked[i] = "*"
			continue
		}
		masked[i] = string(r[0]) + strings.Repeat("*", len(r)-1)
	}
	return strings.Join(masked, " ")
}

// maskIP retains the first two dotted segments: 192.168.1.100 → 192.168.***.***.
func maskIP(s string) string {
	parts := strings.Split(s, ".")
	if len(parts) != 4 {
		return "***.***.***.***"
	}
	return parts[0] + "." + parts[1] + ".***.***"
}

// maskHash returns a fixed-length prefix of a one-way digest of the value.
func maskHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:hashPrefix]
}

// maskNumericRound rounds numeric values to the nearest multiple of 100.
// Non-numeric values pass through unchanged.
func maskNumericRound(value interface{}, s string) interface{} {
	switch v := value.(type) {
	case int:
		return roundInt(int64(v))
	case int32:
		return roundInt(int64(v))
	case int64:
		return roundInt(v)
	case float32:
		return math.Round(float64(v)/100) * 100
	case float64:
		return math.Round(v/100) * 100
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return strconv.FormatInt(roundInt(i), 10)
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return strconv.FormatFloat(math.Round(f/100)*100, 'g', -1, 64)
	}
	return value
}

func roundInt(v int64) int64 {
	return int64(math.Round(float64(v)/100)) * 100
}

// maskCustom substitutes every match of pattern with the mask token.
// An uncompilable pattern degrades to pass-through: Mask must stay total.
func maskCustom(s, pattern string) string {
	cached, ok := customPatterns.Load(pattern)
	if !ok {
		re, err := regexp.Compile(pattern)
		if err != nil {
			re = nil
		}
		cached, _ = customPatterns.LoadOrStore(pattern, re)
	}
	re, _ := cached.(*regexp.Regexp)
	if re == nil {
		return s
	}
	return re.ReplaceAllString(s, maskToken)
}
