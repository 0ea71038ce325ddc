// Package transliterate renders Chinese personal names in pinyin.
package transliterate

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/mozillazg/go-pinyin"
)

// Style selects how each syllable is written
type Style string

const (
	StyleNormal      Style = "normal"
	StyleFirstLetter Style = "first_letter"
	StyleTone        Style = "tone"
	StyleTone2       Style = "tone2"
)

// Order selects whether the surname comes first or last
type Order string

const (
	GivenNameSurname Order = "givenname_surname"
	SurnameGivenName Order = "surname_givenname"
)

// Options controls transliteration
type Options struct {
	Style Style
	Order Order
	// Fallback returns the input unchanged when it has nothing to convert
	Fallback bool
}

// DefaultOptions returns normal style, given name first, with fallback
func DefaultOptions() Options {
	return Options{Style: StyleNormal, Order: GivenNameSurname, Fallback: true}
}

// ParseStyle converts a configuration string to a Style
func ParseStyle(s string) (Style, error) {
	switch Style(s) {
	case StyleNormal, StyleFirstLetter, StyleTone, StyleTone2:
		return Style(s), nil
	case "":
		return StyleNormal, nil
	}
	return "", fmt.Errorf("unknown pinyin style %q", s)
}

// ParseOrder converts a configuration string to an Order
func ParseOrder(s string) (Order, error) {
	switch Order(s) {
	case GivenNameSurname, SurnameGivenName:
		return Order(s), nil
	case "":
		return GivenNameSurname, nil
	}
	return "", fmt.Errorf("unknown name format %q", s)
}

func (s Style) pinyin() int {
	switch s {
	case StyleFirstLetter:
		return pinyin.FirstLetter
	case StyleTone:
		return pinyin.Tone
	case StyleTone2:
		return pinyin.Tone2
	default:
		return pinyin.Normal
	}
}

// ContainsHan reports whether s has at least one CJK unified ideograph
func ContainsHan(s string) bool {
	for _, r := range s {
		if isHan(r) {
			return true
		}
	}
	return false
}

func isHan(r rune) bool {
	return r >= 0x4e00 && r <= 0x9fff
}

// Transliterate converts a Chinese name to pinyin. The first character is
// taken as the surname and the rest as the given name, which are written as
// two capitalized words in the configured order. A single character yields a
// single word. Characters outside the CJK unified ideographs block are
// dropped. Blank input gives "".
func Transliterate(name string, opts Options) string {
	if strings.TrimSpace(name) == "" {
		return ""
	}

	hans := strings.Map(func(r rune) rune {
		if isHan(r) {
			return r
		}
		return -1
	}, name)

	args := pinyin.NewArgs()
	args.Style = opts.Style.pinyin()

	var syllables []string
	for _, s := range pinyin.Pinyin(hans, args) {
		if len(s) > 0 && s[0] != "" {
			syllables = append(syllables, s[0])
		}
	}

	switch len(syllables) {
	case 0:
		if opts.Fallback {
			return name
		}
		return ""
	case 1:
		return capitalize(syllables[0])
	}

	surname := capitalize(syllables[0])
	given := capitalize(strings.Join(syllables[1:], ""))
	if opts.Order == SurnameGivenName {
		return surname + " " + given
	}
	return given + " " + surname
}

// TransliterateAll converts each name, skipping those that convert to ""
func TransliterateAll(names []string, opts Options) []string {
	out := make([]string, 0, len(names))
	for _, name := range names {
		if converted := Transliterate(name, opts); converted != "" {
			out = append(out, converted)
		}
	}
	return out
}

// capitalize upper-cases the first rune and lower-cases the rest
func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + strings.ToLower(s[size:])
}
