// Package macro validates macro documents and manages the stored macro
// library.
package macro

import (
	"errors"
	"strings"
)

// ErrEmptyCombo is returned for a combo with no keys in it.
var ErrEmptyCombo = errors.New("empty key combo")

// keyAliases maps the spellings seen in documents to canonical key names.
var keyAliases = map[string]string{
	"control":  "ctrl",
	"cmd":      "super",
	"command":  "super",
	"win":      "super",
	"meta":     "super",
	"esc":      "escape",
	"return":   "enter",
	"spacebar": "space",
}

// ParseCombo splits a key-combo spec ("ctrl+shift+p", "Ctrl, C") into
// canonical lowercase key names. Separators are "+" and ",".
func ParseCombo(spec string) ([]string, error) {
	var keys []string
	for _, part := range strings.Split(strings.ReplaceAll(spec, ",", "+"), "+") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part == "" {
			continue
		}
		if canonical, ok := keyAliases[part]; ok {
			part = canonical
		}
		keys = append(keys, part)
	}
	if len(keys) == 0 {
		return nil, ErrEmptyCombo
	}
	return keys, nil
}

// NormalizeCombo canonicalizes a list of key names, applying the same
// aliases as ParseCombo.
func NormalizeCombo(keys []string) ([]string, error) {
	return ParseCombo(strings.Join(keys, "+"))
}
