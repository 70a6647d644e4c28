// Package command turns a recognized transcript into at most one kiosk command.
//
// Interpret is pure: the same transcript, screen and phase always yield the same
// Command. Matching is keyword based and single language per session; cancel
// words are checked before anything else so the user can always escape.
package command

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/loqalabs/voicepay/internal/screen"
)

// Kind tags a Command.
type Kind int

const (
	Unrecognized Kind = iota
	SetAmountDigits
	Navigate
	GenerateCode
	Activate
	ConfirmPayment
	Cancel
)

var kindNames = map[Kind]string{
	Unrecognized:    "unrecognized",
	SetAmountDigits: "set_amount_digits",
	Navigate:        "navigate",
	GenerateCode:    "generate_code",
	Activate:        "activate",
	ConfirmPayment:  "confirm_payment",
	Cancel:          "cancel",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// ParseKind resolves a wire name produced by Kind.String.
func ParseKind(name string) (Kind, bool) {
	for k, n := range kindNames {
		if n == name {
			return k, true
		}
	}
	return Unrecognized, false
}

// Command is an interpreted user intent.
//
// Digits is set for SetAmountDigits and, when the same transcript also spoke an
// amount, for GenerateCode and Activate. Target is set for Navigate.
type Command struct {
	Kind   Kind
	Digits string
	Target screen.Screen
}

func (c Command) String() string {
	switch c.Kind {
	case Navigate:
		return fmt.Sprintf("%s(%s)", c.Kind, c.Target)
	case SetAmountDigits, GenerateCode, Activate:
		if c.Digits != "" {
			return fmt.Sprintf("%s(%s)", c.Kind, c.Digits)
		}
	}
	return c.Kind.String()
}

var (
	cancelWords   = []string{"kembali", "back", "home", "menu", "batal", "cancel"}
	generateWords = []string{"generate", "buat", "qr"}
	activateWords = []string{"aktif", "nfc", "tap"}
	confirmWords  = []string{"bayar", "pay"}
)

type destination struct {
	target screen.Screen
	words  []string
}

// Checked in order; the first screen whose word appears wins.
var homeDestinations = []destination{
	{screen.StaticQR, []string{"static", "statik", "statis"}},
	{screen.DynamicQR, []string{"dynamic", "dinamik", "dinamis"}},
	{screen.TapPayment, []string{"tap", "nfc"}},
	{screen.History, []string{"transaksi", "riwayat", "history"}},
	{screen.Help, []string{"bantuan", "help", "panduan"}},
}

// Interpret maps a transcript and the screen context it was spoken in to a Command.
func Interpret(transcript string, current screen.Screen, phase screen.Phase) Command {
	tokens := tokenize(transcript)
	if len(tokens) == 0 {
		return Command{Kind: Unrecognized}
	}
	if containsAny(tokens, cancelWords) {
		return Command{Kind: Cancel}
	}

	switch {
	case current == screen.Home:
		for _, dest := range homeDestinations {
			if containsAny(tokens, dest.words) {
				return Command{Kind: Navigate, Target: dest.target}
			}
		}
	case current.IsPayment() && phase == screen.Input:
		digits := Digits(transcript)
		if current == screen.TapPayment {
			if containsAny(tokens, activateWords) {
				return Command{Kind: Activate, Digits: digits}
			}
		} else if containsAny(tokens, generateWords) {
			return Command{Kind: GenerateCode, Digits: digits}
		}
		if digits != "" {
			return Command{Kind: SetAmountDigits, Digits: digits}
		}
	case current.IsPayment() && (phase == screen.Display || phase == screen.Waiting):
		if containsAny(tokens, confirmWords) {
			return Command{Kind: ConfirmPayment}
		}
	}
	return Command{Kind: Unrecognized}
}

// Digits concatenates every run of ASCII digits in order of appearance.
// Number words are left alone: "lima ribu" yields "".
func Digits(transcript string) string {
	var b strings.Builder
	for _, r := range transcript {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func tokenize(transcript string) []string {
	return strings.FieldsFunc(strings.ToLower(transcript), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// Words of four letters or more also match inflected forms ("aktifkan", "kembalilah").
func containsAny(tokens []string, words []string) bool {
	for _, tok := range tokens {
		for _, w := range words {
			if tok == w || (len(w) >= 4 && strings.HasPrefix(tok, w)) {
				return true
			}
		}
	}
	return false
}
