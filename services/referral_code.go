// services/referral_code.go
package services

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strings"

	"github.com/gosimple/unidecode"
	"gorm.io/gorm"

	"salon-referral-system/models"
)

// codeAlphabet drops glyphs that are easy to misread (0/O, 1/I/L).
const codeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

const (
	maxCodePrefix   = 4
	maxCodeAttempts = 10
	defaultCodeLen  = 8
)

var ErrCodeSpaceExhausted = errors.New("could not allocate a unique referral code")

// NormalizeCode is applied to every referral code before it is stored or compared.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

type CodeGenerator struct {
	Length int
	Rand   io.Reader
}

func NewCodeGenerator(length int) *CodeGenerator {
	if length < 6 {
		length = defaultCodeLen
	}
	return &CodeGenerator{Length: length, Rand: rand.Reader}
}

// Candidate builds one code: a short prefix from the given name followed by
// random characters.
func (g *CodeGenerator) Candidate(givenName string) (string, error) {
	prefix := codePrefix(givenName, g.Length-4)
	var b strings.Builder
	b.WriteString(prefix)
	max := big.NewInt(int64(len(codeAlphabet)))
	for b.Len() < g.Length {
		n, err := rand.Int(g.Rand, max)
		if err != nil {
			return "", fmt.Errorf("random code: %w", err)
		}
		b.WriteByte(codeAlphabet[n.Int64()])
	}
	return b.String(), nil
}

// Generate returns a code that is not yet taken. It must run on the
// transaction that will store the code.
func (g *CodeGenerator) Generate(tx *gorm.DB, givenName string) (string, error) {
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := g.Candidate(givenName)
		if err != nil {
			return "", err
		}
		var count int64
		if err := tx.Model(&models.Customer{}).Where("personal_code = ?", code).Count(&count).Error; err != nil {
			return "", fmt.Errorf("check referral code: %w", err)
		}
		if count == 0 {
			return code, nil
		}
	}
	return "", ErrCodeSpaceExhausted
}

func codePrefix(givenName string, limit int) string {
	if limit > maxCodePrefix {
		limit = maxCodePrefix
	}
	var b strings.Builder
	for _, r := range strings.ToUpper(unidecode.Unidecode(givenName)) {
		if b.Len() >= limit {
			break
		}
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}
