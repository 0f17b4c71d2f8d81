package diagram

import (
	"regexp"
	"strings"
)

// Los modelos devuelven el XML envuelto en prosa, fences o entidades
// escapadas; la normalización recupera el documento utilizable.
var (
	zeroWidthRe = regexp.MustCompile("[\u200B-\u200D\u2060]")
	fencedXMLRe = regexp.MustCompile("(?is)```\\s*xml\\s*(.*?)```")
	fencedAnyRe = regexp.MustCompile("(?s)```\\s*(.*?)```")

	rawTagRe     = regexp.MustCompile(`(?i)<[a-z!?]`)
	escapedTagRe = regexp.MustCompile(`(?i)&lt;\s*[a-z!?]`)
)

// Orden de unescape: solo el set mínimo de cinco entidades, nada más.
var entityPairs = [][2]string{
	{"&lt;", "<"},
	{"&gt;", ">"},
	{"&amp;", "&"},
	{"&quot;", `"`},
	{"&apos;", "'"},
}

// Normalize extrae el documento candidato del texto crudo acumulado:
// quita BOM y caracteres de ancho cero, prefiere el interior de un fence
// ```xml (o de cualquier fence), desescapa entidades cuando el markup viene
// escapado sin tags crudos, y descarta la prosa previa al primer '<'.
func Normalize(raw string) string {
	s := strings.ReplaceAll(raw, "\uFEFF", "")
	s = zeroWidthRe.ReplaceAllString(s, "")

	if m := fencedXMLRe.FindStringSubmatch(s); m != nil && m[1] != "" {
		s = m[1]
	} else if m := fencedAnyRe.FindStringSubmatch(s); m != nil && m[1] != "" {
		s = m[1]
	}

	s = strings.TrimSpace(s)

	if !rawTagRe.MatchString(s) && escapedTagRe.MatchString(s) {
		for _, p := range entityPairs {
			s = strings.ReplaceAll(s, p[0], p[1])
		}
	}

	if idx := strings.IndexByte(s, '<'); idx > 0 {
		s = s[idx:]
	}

	return strings.TrimSpace(s)
}
