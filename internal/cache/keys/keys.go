// Package keys builds the Redis keys of journeys and cached areas.
//
//	fog:journey:<tag>:header
//	fog:journey:<tag>:bitmap
//	fog:journey:<tag>:fingerprint
//	fog:area:bitmap:<fingerprint>:<strategy>
//
// Areas are keyed by bitmap content only, so a cached area can never belong
// to an older version of a journey.
//
// A tag is a readable slug of the journey id followed by h=<xxhash of the raw
// id>, so ids that slug alike still get distinct keys.
package keys

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

const (
	prefix  = "fog"
	slugMax = 80
)

func journeyTag(id string) string {
	raw := strings.TrimSpace(id)
	slug := slugify(raw)
	if len(slug) > slugMax {
		slug = slug[:slugMax]
	}
	return fmt.Sprintf("%s:h=%016x", slug, xxhash.Sum64String(raw))
}

func JourneyHeader(id string) string { return journeyKey(id, "header") }

func JourneyBitmap(id string) string { return journeyKey(id, "bitmap") }

// JourneyFingerprint holds the content fingerprint of the stored bitmap.
func JourneyFingerprint(id string) string { return journeyKey(id, "fingerprint") }

func journeyKey(id, part string) string {
	return prefix + ":journey:" + journeyTag(id) + ":" + part
}

// BitmapArea keys an uploaded bitmap by content fingerprint.
func BitmapArea(fingerprint uint64, strategy string) string {
	return fmt.Sprintf("%s:area:bitmap:%016x:%s", prefix, fingerprint, slugify(strategy))
}

// slugify keeps ASCII letters, digits, '.', '_' and '-'. Whitespace becomes
// '_' and anything else, ':' included, becomes '-'. Repeats of either
// replacement collapse.
func slugify(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	var last byte
	for _, r := range s {
		var c byte
		switch {
		case r < unicode.MaxASCII && (isAlnum(byte(r)) || r == '.' || r == '_' || r == '-'):
			c = byte(r)
		case r < unicode.MaxASCII && unicode.IsSpace(r):
			c = '_'
		default:
			c = '-'
		}
		if c == last && (c == '_' || c == '-') {
			continue
		}
		b.WriteByte(c)
		last = c
	}
	return b.String()
}

func isAlnum(c byte) bool {
	return 'a' <= c && c <= 'z' || 'A' <= c && c <= 'Z' || '0' <= c && c <= '9'
}
