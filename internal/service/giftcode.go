package service

import (
	"crypto/rand"
	"fmt"
	"strings"
)

// giftCodeAlphabet leaves out 0, O, I and 1.
const giftCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const (
	giftCodeGroups    = 3
	giftCodeGroupSize = 4
	giftCodeBodyLen   = giftCodeGroups * giftCodeGroupSize
)

// GiftCodeFormat renders codes as PREFIX-XXXX-XXXX-XXXX.
type GiftCodeFormat struct {
	Prefix string
}

func NewGiftCodeFormat(prefix string) GiftCodeFormat {
	prefix = strings.ToUpper(strings.TrimSpace(prefix))
	if prefix == "" {
		prefix = "SOAP"
	}
	return GiftCodeFormat{Prefix: prefix}
}

func (f GiftCodeFormat) Generate() (string, error) {
	buf := make([]byte, giftCodeBodyLen)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	// 256 is a multiple of the alphabet size, so the modulo is unbiased.
	for i, b := range buf {
		buf[i] = giftCodeAlphabet[int(b)%len(giftCodeAlphabet)]
	}
	return f.group(string(buf)), nil
}

// Normalize accepts a code in any case, with or without separators or the
// prefix, and returns its canonical form.
func (f GiftCodeFormat) Normalize(input string) (string, bool) {
	var b strings.Builder
	for _, r := range strings.ToUpper(input) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	body := b.String()

	if len(body) == len(f.Prefix)+giftCodeBodyLen && strings.HasPrefix(body, f.Prefix) {
		body = body[len(f.Prefix):]
	}
	if len(body) != giftCodeBodyLen {
		return "", false
	}

	return f.group(body), true
}

func (f GiftCodeFormat) group(body string) string {
	parts := []string{f.Prefix}
	for i := 0; i < giftCodeGroups; i++ {
		parts = append(parts, body[i*giftCodeGroupSize:(i+1)*giftCodeGroupSize])
	}
	return strings.Join(parts, "-")
}
