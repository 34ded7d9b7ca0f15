// Package pixkey classifies, validates, masks and normalizes free-form PIX
// keys typed by a merchant before they are used as a withdrawal target.
//
// Classification is first-match-wins:
//
//	e-mail → more than 14 digits (random key) → 14 digits (CNPJ)
//	→ 11 digits (CPF when the checksum holds, phone otherwise) → undefined
//
// The 11-digit split is a heuristic: a mistyped CPF is indistinguishable
// from a phone number and will be classified as a phone.
package pixkey

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/boddenberg/pix-merchant-bfa-go/internal/domain"
)

const (
	cpfDigits  = 11
	cnpjDigits = 14
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// Classify derives the type, normalized and masked forms of raw. It never
// fails: unrecognized input yields KeyTypeUndefined, which callers must
// treat as non-submittable.
func Classify(raw string) domain.PixKey {
	key := domain.PixKey{Raw: raw, Type: domain.KeyTypeUndefined, Normalized: raw, Masked: raw}

	if emailPattern.MatchString(raw) {
		key.Type = domain.KeyTypeEmail
		return key
	}

	digits := Digits(raw)
	switch {
	case len(digits) > cnpjDigits:
		key.Type = domain.KeyTypeRandom
	case len(digits) == cnpjDigits:
		key.Type = domain.KeyTypeCNPJ
		key.Normalized = digits
		key.Masked = Mask(domain.KeyTypeCNPJ, digits)
	case len(digits) == cpfDigits:
		key.Type = domain.KeyTypePhone
		if ValidCPF(digits) {
			key.Type = domain.KeyTypeCPF
		}
		key.Normalized = digits
		key.Masked = Mask(key.Type, digits)
	}
	return key
}

// Normalize returns the form of raw the gateway expects: bare digits for
// documents and phones, raw otherwise.
func Normalize(raw string) string {
	return Classify(raw).Normalized
}

// Edit re-classifies the key field after a keystroke. Once a document has
// been detected (cpf, phone or cnpj), numeric input is truncated at 14
// digits, the longest document, so a complete cnpj cannot grow while an
// 11-digit cpf or phone can still be extended into one. Input with 12 or
// 13 digits classifies as undefined and is not capped. Input containing
// anything but digits and document punctuation (an e-mail or random key in
// progress) is never truncated.
func Edit(prev domain.PixKey, raw string) domain.PixKey {
	if !numericEntry(raw) {
		return Classify(raw)
	}
	if limit := maxDigits(prev.Type); limit > 0 {
		raw = truncateDigits(raw, limit)
	}
	return Classify(raw)
}

// ValidCPF checks both CPF verification digits. digits must be exactly 11
// ASCII digits.
func ValidCPF(digits string) bool {
	if len(digits) != cpfDigits {
		return false
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return false
		}
	}
	return cpfCheckDigit(digits[:9]) == int(digits[9]-'0') &&
		cpfCheckDigit(digits[:10]) == int(digits[10]-'0')
}

// cpfCheckDigit computes the verification digit over prefix using weights
// len(prefix)+1 down to 2. Remainders 10 and 11 map to 0.
func cpfCheckDigit(prefix string) int {
	sum := 0
	weight := len(prefix) + 1
	for i := 0; i < len(prefix); i++ {
		sum += int(prefix[i]-'0') * weight
		weight--
	}
	rem := (sum * 10) % 11
	if rem >= 10 {
		return 0
	}
	return rem
}

// Mask formats digits for display according to t. Values that do not have
// the digit count t expects are returned unchanged.
func Mask(t domain.KeyType, digits string) string {
	switch t {
	case domain.KeyTypeCPF:
		if len(digits) == cpfDigits {
			return fmt.Sprintf("%s.%s.%s-%s", digits[:3], digits[3:6], digits[6:9], digits[9:11])
		}
	case domain.KeyTypeCNPJ:
		if len(digits) == cnpjDigits {
			return fmt.Sprintf("%s.%s.%s/%s-%s", digits[:2], digits[2:5], digits[5:8], digits[8:12], digits[12:14])
		}
	case domain.KeyTypePhone:
		if len(digits) == cpfDigits {
			return fmt.Sprintf("(%s) %s-%s", digits[:2], digits[2:7], digits[7:11])
		}
	}
	return digits
}

// Digits strips every non-digit rune from s.
func Digits(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
}

func maxDigits(t domain.KeyType) int {
	switch t {
	case domain.KeyTypeCPF, domain.KeyTypePhone, domain.KeyTypeCNPJ:
		return cnpjDigits
	}
	return 0
}

// numericEntry reports whether s holds only digits and the punctuation the
// cpf, cnpj and phone masks insert.
func numericEntry(s string) bool {
	for _, r := range s {
		if r >= '0' && r <= '9' {
			continue
		}
		if !strings.ContainsRune(".-/() +", r) {
			return false
		}
	}
	return true
}

// truncateDigits cuts s right after its limit-th digit.
func truncateDigits(s string, limit int) string {
	n := 0
	for i, r := range s {
		if r >= '0' && r <= '9' {
			n++
			if n == limit {
				return s[:i+1]
			}
		}
	}
	return s
}
