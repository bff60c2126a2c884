package domain

import (
	"crypto/rand"
	"math/big"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	volumePattern   = regexp.MustCompile(`(?i)^\s*([0-9]*\.?[0-9]+)\s*(MB|GB|TB)\s*$`)
	validityPattern = regexp.MustCompile(`(?i)^\s*([0-9]+)\s*(hour|day|month|year)s?\s*$`)
	tokenPattern    = regexp.MustCompile(`^[0-9]{4}-[0-9]{4}-[0-9]{4}-[0-9]{4}$`)
)

// ParseDataVolumeGB converts a label like "1.5GB" or "500MB" to gigabytes.
// MB is 1/1024 GB and TB is 1024 GB.
func ParseDataVolumeGB(s string) (float64, bool) {
	m := volumePattern.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	n, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	switch strings.ToUpper(m[2]) {
	case "MB":
		return n / 1024, true
	case "TB":
		return n * 1024, true
	default:
		return n, true
	}
}

// ExpiryFrom adds a validity like "30 Days" or "1 month" to from.
// It returns nil when the validity cannot be parsed.
func ExpiryFrom(validity string, from time.Time) *time.Time {
	m := validityPattern.FindStringSubmatch(validity)
	if m == nil {
		return nil
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return nil
	}

	var t time.Time
	switch strings.ToLower(m[2]) {
	case "hour":
		t = from.Add(time.Duration(n) * time.Hour)
	case "day":
		t = from.AddDate(0, 0, n)
	case "month":
		t = from.AddDate(0, n, 0)
	case "year":
		t = from.AddDate(n, 0, 0)
	}
	return &t
}

// NewMeterToken returns a random 16-digit prepaid meter token formatted
// as four dash-separated groups.
func NewMeterToken() string {
	var b strings.Builder
	ten := big.NewInt(10)
	for i := 0; i < 16; i++ {
		if i > 0 && i%4 == 0 {
			b.WriteByte('-')
		}
		n, err := rand.Int(rand.Reader, ten)
		if err != nil {
			panic(err)
		}
		b.WriteByte(byte('0' + n.Int64()))
	}
	return b.String()
}

// IsMeterToken reports whether s is a formatted 16-digit meter token.
func IsMeterToken(s string) bool {
	return tokenPattern.MatchString(s)
}

// FormatMeterToken groups a raw 16-digit vendor token. It returns false
// when the input does not contain exactly 16 digits.
func FormatMeterToken(raw string) (string, bool) {
	digits := make([]byte, 0, 16)
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		switch {
		case c >= '0' && c <= '9':
			digits = append(digits, c)
		case c == '-' || c == ' ':
		default:
			return "", false
		}
	}
	if len(digits) != 16 {
		return "", false
	}
	s := string(digits)
	return s[0:4] + "-" + s[4:8] + "-" + s[8:12] + "-" + s[12:16], true
}
