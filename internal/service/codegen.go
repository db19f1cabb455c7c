package service

import (
	"errors"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/openclaw/pairing-gateway-go/internal/clock"
	"github.com/openclaw/pairing-gateway-go/internal/util"
)

const (
	pairingCodeLetters = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	pairingCodeDigits  = "0123456789"
	pairingCodeChars   = pairingCodeLetters + pairingCodeDigits

	defaultCodeLength   = 8
	maxCompositionDraws = 32
	maxCollisionRetries = 10
)

var errCodeSpaceExhausted = errors.New("pairing code space exhausted")

// CodeGenerator issues fixed-length codes that contain at least one letter
// and one digit.
type CodeGenerator struct {
	length  int
	clock   clock.Clock
	counter atomic.Uint64
}

func NewCodeGenerator(length int, clk clock.Clock) *CodeGenerator {
	if length < 4 {
		length = defaultCodeLength
	}
	return &CodeGenerator{length: length, clock: clk}
}

// Generate returns a code for which taken reports false. Random draws are
// retried a bounded number of times before switching to a counter-derived
// suffix, which changes on every attempt.
func (g *CodeGenerator) Generate(taken func(code string) bool) (string, error) {
	for attempt := 0; attempt < maxCollisionRetries; attempt++ {
		code, err := g.sample()
		if err != nil {
			return "", err
		}
		if !taken(code) {
			return code, nil
		}
	}

	suffixLen := g.length / 2
	limit := pow36(suffixLen)
	for attempt := uint64(0); attempt < limit; attempt++ {
		base, err := g.sample()
		if err != nil {
			return "", err
		}
		code, err := g.withSuffix(base, suffixLen)
		if err != nil {
			return "", err
		}
		if !taken(code) {
			return code, nil
		}
	}
	return "", errCodeSpaceExhausted
}

func (g *CodeGenerator) sample() (string, error) {
	buf := make([]byte, g.length)
	for draw := 0; draw < maxCompositionDraws; draw++ {
		for i := range buf {
			c, err := pick(pairingCodeChars)
			if err != nil {
				return "", err
			}
			buf[i] = c
		}
		if hasLetterAndDigit(buf) {
			return string(buf), nil
		}
	}
	if err := repairComposition(buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

// withSuffix keeps the head of code (which carries the letter/digit
// guarantee after repair) and replaces the tail with a base-36 counter value.
func (g *CodeGenerator) withSuffix(code string, suffixLen int) (string, error) {
	head := []byte(code[:g.length-suffixLen])
	if err := repairComposition(head); err != nil {
		return "", err
	}

	n := uint64(g.clock.Now().UnixMilli()) + g.counter.Add(1)
	suffix := strings.ToUpper(strconv.FormatUint(n%pow36(suffixLen), 36))
	suffix = strings.Repeat("0", suffixLen-len(suffix)) + suffix

	return string(head) + suffix, nil
}

// repairComposition forces a letter into the first position and a digit
// into the second when either class is missing.
func repairComposition(buf []byte) error {
	if hasLetterAndDigit(buf) {
		return nil
	}
	letter, err := pick(pairingCodeLetters)
	if err != nil {
		return err
	}
	digit, err := pick(pairingCodeDigits)
	if err != nil {
		return err
	}
	buf[0], buf[1] = letter, digit
	return nil
}

func pick(alphabet string) (byte, error) {
	i, err := util.RandomIndex(len(alphabet))
	if err != nil {
		return 0, err
	}
	return alphabet[i], nil
}

func hasLetterAndDigit(buf []byte) bool {
	var letter, digit bool
	for _, c := range buf {
		switch {
		case c >= 'A' && c <= 'Z':
			letter = true
		case c >= '0' && c <= '9':
			digit = true
		}
	}
	return letter && digit
}

func pow36(n int) uint64 {
	v := uint64(1)
	for i := 0; i < n; i++ {
		v *= 36
	}
	return v
}
