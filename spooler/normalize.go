package spooler

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
	"unicode/utf8"
)

// maxMetadataChars bounds the persisted user id and contact fields.
const maxMetadataChars = 255

var volatilePatterns = []*regexp.Regexp{
	regexp.MustCompile(`\d{4}-\d{2}-\d{2}[ T]\d{2}:\d{2}:\d{2}(\.\d{1,9})?`),
	regexp.MustCompile(`goroutine \d+`),
	regexp.MustCompile(`\+0x[0-9a-fA-F]+`),
	regexp.MustCompile(`0x[0-9a-fA-F]+`),
}

var nonHex = regexp.MustCompile(`[^0-9a-f]`)

// NormalizeText strips the parts of a stack that change between otherwise
// identical crashes (timestamps, goroutine numbers, addresses) and collapses
// whitespace.
func NormalizeText(input string) string {
	s := input
	for _, re := range volatilePatterns {
		s = re.ReplaceAllString(s, "")
	}
	return strings.Join(strings.Fields(s), " ")
}

// HashNormalized returns the hex SHA-256 of normalized, cut to hexLen
// characters when hexLen is in range.
func HashNormalized(normalized string, hexLen int) string {
	sum := sha256.Sum256([]byte(normalized))
	full := hex.EncodeToString(sum[:])
	if hexLen <= 0 || hexLen >= len(full) {
		return full
	}
	return full[:hexLen]
}

// TraceFingerprint groups records of the same crash. Only the fault text
// after the header block takes part, so the Date line does not.
func TraceFingerprint(trace string) string {
	body := trace
	if i := strings.Index(trace, "\n\n"); i >= 0 {
		body = trace[i+2:]
	}
	return HashNormalized(NormalizeText(body), 16)
}

// SanitizeAppIdentifier lower-cases the identifier and drops everything that
// is not a hex digit. A non-empty result must be 32 characters long.
func SanitizeAppIdentifier(id string) (string, error) {
	s := nonHex.ReplaceAllString(strings.ToLower(strings.TrimSpace(id)), "")
	if s == "" {
		return "", nil
	}
	if len(s) != 32 {
		return "", newInvalidConfig("app identifier must be 32 hex characters")
	}
	return s, nil
}

func limitString(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	return string(r[:max])
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}
