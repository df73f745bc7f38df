// Package theme derives a per-server UI color theme from CSS custom
// properties published on the server's companion website.
package theme

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/dssb/beacon/assets"
	"github.com/dssb/beacon/internal/models"
)

// VarPrefix is the namespace of recognized theme variables.
const VarPrefix = "--bsb-"

// RecognizedKeys is the closed set of theme variable names (without the
// prefix), in serialization order.
var RecognizedKeys = []string{
	"primary-light",
	"primary",
	"primary-dark",
	"primary-darker",
	"highlight-light",
	"highlight",
	"highlight-dark",
	"text",
	"text-muted",
}

var (
	// Flat declaration scan, same tolerance as the launcher frontend:
	// whitespace and ordering do not matter, unknown --bsb-* names are
	// collected and ignored later.
	varRe = regexp.MustCompile(`(?i)(--bsb-[a-z0-9-]+)\s*:\s*([^;]+);`)

	hexRe  = regexp.MustCompile(`^#(?:[0-9a-fA-F]{3}|[0-9a-fA-F]{4}|[0-9a-fA-F]{6}|[0-9a-fA-F]{8})$`)
	rgbRe  = regexp.MustCompile(`^rgba?\(\s*[0-9]+%?\s*,\s*[0-9]+%?\s*,\s*[0-9]+%?\s*(?:,\s*[0-9]*\.?[0-9]+\s*)?\)$`)
	linkRe = regexp.MustCompile(`(?i)<link[^>]+rel=["']?stylesheet["']?[^>]*>`)
	hrefRe = regexp.MustCompile(`(?i)href=["']([^"']+)["']`)
)

var defaults map[string]string

func init() {
	content, err := assets.ReadFile("base_style.css")
	if err != nil {
		panic(fmt.Sprintf("theme: missing embedded default stylesheet: %v", err))
	}

	defaults = make(map[string]string, len(RecognizedKeys))
	for name, value := range extractVars(string(content)) {
		key := strings.TrimPrefix(name, VarPrefix)
		if recognized(key) && ValidColor(value) {
			defaults[key] = value
		}
	}

	for _, key := range RecognizedKeys {
		if _, ok := defaults[key]; !ok {
			panic("theme: default stylesheet missing variable " + VarPrefix + key)
		}
	}
}

// Default returns the built-in ThemeData. The zero FetchedAt guarantees any
// remote theme supersedes it in the directory's recency check.
func Default() models.ThemeData {
	colors := make(map[string]string, len(defaults))
	for k, v := range defaults {
		colors[k] = v
	}

	return models.ThemeData{Colors: colors, Source: models.ThemeDefault}
}

// Parse scans arbitrary CSS or HTML text for recognized theme declarations
// and returns a total ThemeData: every recognized key is present, falling
// back to the default palette per key. Parse never fails; worst case the
// result is all-default.
func Parse(text string) models.ThemeData {
	td := fromVars(extractVars(text))
	td.FetchedAt = time.Now()

	return td
}

// Serialize renders the theme back into a flat :root declaration block.
// Parsing the output yields the same colors (round-trip).
func Serialize(td models.ThemeData) string {
	var b strings.Builder
	b.WriteString(":root {\n")
	for _, key := range RecognizedKeys {
		value, ok := td.Colors[key]
		if !ok {
			value = defaults[key]
		}
		fmt.Fprintf(&b, "  %s%s: %s;\n", VarPrefix, key, value)
	}
	b.WriteString("}\n")

	return b.String()
}

// ValidColor reports whether value is standard hex or rgb(a) color syntax.
func ValidColor(value string) bool {
	value = strings.TrimSpace(value)

	return hexRe.MatchString(value) || rgbRe.MatchString(value)
}

// extractVars collects every --bsb-* declaration from text, keyed by the
// full variable name.
func extractVars(text string) map[string]string {
	vars := make(map[string]string)
	for _, m := range varRe.FindAllStringSubmatch(text, -1) {
		vars[strings.ToLower(m[1])] = strings.TrimSpace(m[2])
	}

	return vars
}

// fromVars builds a total ThemeData from scanned declarations. A value
// failing validation is dropped for that key only.
func fromVars(vars map[string]string) models.ThemeData {
	colors := make(map[string]string, len(RecognizedKeys))
	source := models.ThemeDefault

	for _, key := range RecognizedKeys {
		value, ok := vars[VarPrefix+key]
		if ok && ValidColor(value) {
			colors[key] = strings.TrimSpace(value)
			source = models.ThemeRemote
			continue
		}
		colors[key] = defaults[key]
	}

	return models.ThemeData{Colors: colors, Source: source}
}

func recognized(key string) bool {
	for _, k := range RecognizedKeys {
		if k == key {
			return true
		}
	}

	return false
}

// stylesheetLinks extracts the href of every <link rel="stylesheet"> tag.
func stylesheetLinks(html string) []string {
	var hrefs []string
	for _, tag := range linkRe.FindAllString(html, -1) {
		if m := hrefRe.FindStringSubmatch(tag); m != nil {
			hrefs = append(hrefs, m[1])
		}
	}

	return hrefs
}
