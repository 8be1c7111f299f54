// Package env substitutes ${env.KEY} references in configuration documents.
package env

import (
	"os"
	"strings"
	"unicode"
)

const prefix = "${env."

// Expand replaces every ${env.KEY} in value with lookup(KEY). KEY must be
// letters, digits or '_'; a reference with any other character is copied
// literally, as is an unterminated one.
func Expand(value string, lookup func(key string) string) string {
	if lookup == nil {
		lookup = os.Getenv
	}
	if !strings.Contains(value, prefix) {
		return value
	}
	var b strings.Builder
	for {
		start := strings.Index(value, prefix)
		if start < 0 {
			b.WriteString(value)
			return b.String()
		}
		b.WriteString(value[:start])
		rest := value[start+len(prefix):]
		end := strings.IndexByte(rest, '}')
		if end < 0 {
			b.WriteString(value[start:])
			return b.String()
		}
		key := rest[:end]
		if !isKey(key) {
			// keep the prefix, rescan what follows it
			b.WriteString(prefix)
			value = rest
			continue
		}
		b.WriteString(lookup(key))
		value = rest[end+1:]
	}
}

func isKey(key string) bool {
	for _, r := range key {
		if !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_') {
			return false
		}
	}
	return true
}
