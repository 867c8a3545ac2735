package kml

import (
	"strings"
)

// DecodeColor converts a KML aabbggrr color into #RRGGBB, discarding alpha.
// The second return is false for anything that is not exactly eight hex digits.
func DecodeColor(abgr string) (string, bool) {
	abgr = strings.TrimSpace(abgr)
	if len(abgr) != 8 || !isHex(abgr) {
		return "", false
	}
	bb := abgr[2:4]
	gg := abgr[4:6]
	rr := abgr[6:8]
	return "#" + strings.ToUpper(rr+gg+bb), true
}

// EncodeColor converts #RRGGBB into an opaque KML ffbbggrr color
func EncodeColor(hex string) (string, bool) {
	return EncodeColorAlpha(hex, 0xff)
}

// EncodeColorAlpha converts #RRGGBB into aabbggrr with the given alpha
func EncodeColorAlpha(hex string, alpha uint8) (string, bool) {
	hex = strings.TrimPrefix(strings.TrimSpace(hex), "#")
	if len(hex) != 6 || !isHex(hex) {
		return "", false
	}
	const digits = "0123456789abcdef"
	aa := string([]byte{digits[alpha>>4], digits[alpha&0x0f]})
	rr, gg, bb := hex[0:2], hex[2:4], hex[4:6]
	return strings.ToLower(aa + bb + gg + rr), true
}

func isHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

// styleIndex resolves style references to display colors
type styleIndex struct {
	byID map[string]*element
}

func newStyleIndex(root *element) *styleIndex {
	idx := &styleIndex{byID: make(map[string]*element)}
	root.walk(func(el *element) bool {
		if (el.name == "Style" || el.name == "StyleMap") && el.id != "" {
			if _, exists := idx.byID[el.id]; !exists {
				idx.byID[el.id] = el
			}
		}
		return true
	})
	return idx
}

// resolve returns the color of the style a placemark references, if any
func (s *styleIndex) resolve(placemark *element) (string, bool) {
	ref := styleID(placemark.find("styleUrl").value())
	if ref == "" {
		return "", false
	}
	style := s.byID[ref]
	if style == nil {
		return "", false
	}

	if style.name == "StyleMap" {
		target := styleMapTarget(style)
		if target == "" {
			return "", false
		}
		style = s.byID[target]
		if style == nil || style.name != "Style" {
			return "", false
		}
	}
	return styleColor(style)
}

// styleID strips the document part of a style reference ("file.kml#id" or "#id")
func styleID(ref string) string {
	if i := strings.IndexByte(ref, '#'); i >= 0 {
		return ref[i+1:]
	}
	return ref
}

// styleMapTarget returns the style id of the "normal" pair, falling back to the first pair
func styleMapTarget(styleMap *element) string {
	var first string
	for _, pair := range styleMap.children {
		if pair.name != "Pair" {
			continue
		}
		url := styleID(pair.child("styleUrl").value())
		if first == "" {
			first = url
		}
		if pair.child("key").value() == "normal" {
			return url
		}
	}
	return first
}

// styleColor picks the first non-empty color among icon, line and polygon styles
func styleColor(style *element) (string, bool) {
	for _, sub := range []string{"IconStyle", "LineStyle", "PolyStyle"} {
		raw := style.child(sub).child("color").value()
		if raw == "" {
			continue
		}
		return DecodeColor(raw)
	}
	return "", false
}
