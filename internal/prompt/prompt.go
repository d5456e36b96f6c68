// Package prompt turns job types and user parameters into provider instructions.
package prompt

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/valyala/fasttemplate"

	"github.com/example/nanoimage/api-go/internal/model"
)

const NegativeDefault = "Avoid: watermarks, text, malformed hands or limbs, over-sharpening, over-saturation, blown highlights, visible noise."

// FallbackPrompt is sent for job types outside the catalog.
const FallbackPrompt = "Keep the image, minor enhance for clarity."

var Templates = map[model.JobType]string{
	model.JobFigurine: "Turn this picture into a detailed collectible figurine. Behind it place a packaging box printed " +
		"with the character artwork, and a computer monitor showing the Blender modeling viewport. In the foreground " +
		"add a round clear plastic base with the figurine standing on it. Indoor lighting, realistic materials, " +
		"crisp details, 4k.",
	model.JobEraStyle: "Restyle the person in the classic {gender} fashion of the {era}. Give them {hair} and {face}, " +
		"and replace the background with an iconic {backdrop}. Do not change the face: keep the original features " +
		"and identity, realistic photographic style, natural texture.",
	model.JobEnhance: "Improve contrast, color and lighting depth. Crop slightly and remove elements that break the " +
		"composition if needed. Make the image richer and more textured while staying natural, without over-saturation.",
	model.JobOldPhotoRestore: "Repair tears, scratches and noise, then colorize naturally. Keep the period feel and " +
		"facial detail, do not alter the person's features.",
	model.JobIDPhoto: "Crop to head and shoulders, centered, as a 2-inch ID photo: blue background, business attire, " +
		"facing the camera, natural smile, even lighting, plain background without shadows.",
}

// Hairstyles is the fixed catalog used by hairstyle_grid jobs, in output order.
var Hairstyles = []string{
	"crisp short cut",
	"mid-length straight hair",
	"wispy see-through bangs",
	"big loose waves",
	"high ponytail",
	"top bun",
	"slicked-back pompadour",
	"layered short cut",
	"bob cut",
}

// HairstylePrompt asks for a hairstyle swap that keeps the face unchanged.
func HairstylePrompt(name string) string {
	return "Change this person's hairstyle to a " + name + ". Keep the facial features unchanged, front-facing " +
		"portrait framing, even lighting, clean background, high resolution."
}

// Build fills {name} placeholders from params and appends the negative
// constraints. "{{" and "}}" produce literal braces. If any placeholder cannot
// be filled or the braces do not balance, the template is used as is.
func Build(template string, params map[string]any) string {
	text := template
	if escaped, ok := escapeBraces(template); ok {
		out, err := fasttemplate.ExecuteFuncStringWithErr(escaped, "{", "}", func(w io.Writer, tag string) (int, error) {
			v, ok := params[tag]
			if !ok {
				return 0, fmt.Errorf("missing placeholder %q", tag)
			}
			return w.Write([]byte(formatValue(v)))
		})
		if err == nil {
			text = braceUnescaper.Replace(out)
		}
	}
	if neg := negatives(params); neg != "" {
		return text + " " + neg
	}
	return text + " " + NegativeDefault
}

const (
	openBrace  = "\x00"
	closeBrace = "\x01"
)

var braceUnescaper = strings.NewReplacer(openBrace, "{", closeBrace, "}")

// escapeBraces swaps doubled braces for markers and reports whether every
// remaining "{" is closed by a "}" with no brace in between.
func escapeBraces(template string) (string, bool) {
	if strings.ContainsAny(template, openBrace+closeBrace) {
		return "", false
	}
	var b strings.Builder
	inTag := false
	for i := 0; i < len(template); i++ {
		c := template[i]
		switch {
		case c == '{' && inTag:
			return "", false
		case c == '{' && i+1 < len(template) && template[i+1] == '{':
			b.WriteString(openBrace)
			i++
		case c == '{':
			inTag = true
			b.WriteByte(c)
		case c == '}' && inTag:
			inTag = false
			b.WriteByte(c)
		case c == '}' && i+1 < len(template) && template[i+1] == '}':
			b.WriteString(closeBrace)
			i++
		case c == '}':
			return "", false
		default:
			b.WriteByte(c)
		}
	}
	if inTag {
		return "", false
	}
	return b.String(), true
}

func formatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}

// negatives mirrors truthiness: nil, false, zero, "" and empty
// collections count as absent.
func negatives(params map[string]any) string {
	switch v := params["negatives"].(type) {
	case nil:
		return ""
	case bool:
		if !v {
			return ""
		}
	case float64:
		if v == 0 {
			return ""
		}
	case int:
		if v == 0 {
			return ""
		}
	case []any:
		if len(v) == 0 {
			return ""
		}
	case map[string]any:
		if len(v) == 0 {
			return ""
		}
	}
	return formatValue(params["negatives"])
}
