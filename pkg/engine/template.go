package engine

import (
	"strconv"
	"strings"
)

// RenderTemplate substitutes each {key} placeholder in tpl with the
// string form of rec[key]. Missing keys leave the placeholder literal in
// place (§4.2: "an acceptable degradation"). An empty template renders to
// ("", false), signalling "no installation".
func RenderTemplate(tpl string, rec Record, byteDecoding string) (string, bool) {
	if tpl == "" {
		return "", false
	}

	var out strings.Builder
	i := 0
	for i < len(tpl) {
		open := strings.IndexByte(tpl[i:], '{')
		if open < 0 {
			out.WriteString(tpl[i:])
			break
		}
		out.WriteString(tpl[i : i+open])
		i += open

		end := strings.IndexByte(tpl[i:], '}')
		if end < 0 {
			// Unterminated placeholder: emit the rest literally.
			out.WriteString(tpl[i:])
			break
		}
		key := tpl[i+1 : i+end]
		i += end + 1

		if v, present := rec[key]; present {
			out.WriteString(renderFieldValue(v, byteDecoding))
		} else {
			out.WriteByte('{')
			out.WriteString(key)
			out.WriteByte('}')
		}
	}
	return out.String(), true
}

func renderFieldValue(v any, byteDecoding string) string {
	switch t := v.(type) {
	case []byte:
		s, ok := decodeBytes(t, byteDecoding)
		if !ok {
			return ""
		}
		return s
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	default:
		return toComparableString(v)
	}
}
