package command

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// NormalizeName folds case and composes unicode so lookups for "Ping",
// "PING" and "ping" land on the same key. A Caser is stateful, so a fresh
// one is built per call.
func NormalizeName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	return norm.NFC.String(cases.Fold().String(name))
}
