package theme

import (
	"strings"
	"testing"

	"github.com/dssb/beacon/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTotality(t *testing.T) {
	inputs := []string{
		"",
		"not css at all",
		"\x00\x01\x02\xff binary garbage",
		":root { color: red; }",
		"--bsb-primary",
		"--bsb-primary: ;",
		strings.Repeat("--bsb-", 1000),
		"<html><body>plain page</body></html>",
	}

	for _, input := range inputs {
		td := Parse(input)

		require.Len(t, td.Colors, len(RecognizedKeys), "input %q", input)
		for _, key := range RecognizedKeys {
			assert.NotEmpty(t, td.Colors[key], "key %s for input %q", key, input)
		}
		assert.Equal(t, models.ThemeDefault, td.Source, "input %q", input)
	}
}

func TestParseSingleVariable(t *testing.T) {
	td := Parse("--bsb-primary: #2f9f5f;")

	assert.Equal(t, "#2f9f5f", td.Colors["primary"])
	assert.Equal(t, models.ThemeRemote, td.Source)

	def := Default()
	for _, key := range RecognizedKeys {
		if key == "primary" {
			continue
		}
		assert.Equal(t, def.Colors[key], td.Colors[key], "key %s should be default", key)
	}
}

func TestParseInsideRootBlock(t *testing.T) {
	css := `
	:root {
		--bsb-primary:    #ff0000;
		--bsb-text: rgb(10, 20, 30);
		--bsb-highlight:rgba(1,2,3,0.5);
	}`

	td := Parse(css)

	assert.Equal(t, "#ff0000", td.Colors["primary"])
	assert.Equal(t, "rgb(10, 20, 30)", td.Colors["text"])
	assert.Equal(t, "rgba(1,2,3,0.5)", td.Colors["highlight"])
}

func TestParseInvalidValueDroppedPerKey(t *testing.T) {
	css := `
	--bsb-primary: url(javascript:alert(1));
	--bsb-text: #123456;
	`

	td := Parse(css)

	assert.Equal(t, Default().Colors["primary"], td.Colors["primary"], "invalid value falls back for that key only")
	assert.Equal(t, "#123456", td.Colors["text"])
	assert.Equal(t, models.ThemeRemote, td.Source)
}

func TestParseIgnoresUnrecognizedNames(t *testing.T) {
	td := Parse("--bsb-future-variable: #abcdef;")

	assert.Equal(t, models.ThemeDefault, td.Source)
	assert.Equal(t, Default().Colors, td.Colors)
}

func TestParseCaseInsensitive(t *testing.T) {
	td := Parse("--BSB-PRIMARY: #AbCdEf;")

	assert.Equal(t, "#AbCdEf", td.Colors["primary"])
}

func TestSerializeRoundTrip(t *testing.T) {
	original := Parse(`
	--bsb-primary: #2f9f5f;
	--bsb-highlight: rgb(255, 4, 4);
	--bsb-text-muted: #777;
	`)

	parsed := Parse(Serialize(original))

	assert.Equal(t, original.Colors, parsed.Colors)
}

func TestSerializeDefaultsRoundTrip(t *testing.T) {
	parsed := Parse(Serialize(Default()))

	assert.Equal(t, Default().Colors, parsed.Colors)
}

func TestValidColor(t *testing.T) {
	valid := []string{
		"#fff", "#ffff", "#a1b2c3", "#a1b2c3d4",
		"rgb(1,2,3)", "rgb(255, 255, 255)", "rgba(0, 0, 0, 0.4)",
		"rgb(10%, 20%, 30%)", " #fff ",
	}
	invalid := []string{
		"", "#", "#ff", "#ggg", "red", "url(x)", "rgb()", "rgb(1,2)",
		"javascript:alert(1)", "#fff; background: url(x)",
	}

	for _, v := range valid {
		assert.True(t, ValidColor(v), "expected valid: %q", v)
	}
	for _, v := range invalid {
		assert.False(t, ValidColor(v), "expected invalid: %q", v)
	}
}

func TestDefaultIsIsolated(t *testing.T) {
	a := Default()
	a.Colors["primary"] = "#000000"

	assert.NotEqual(t, "#000000", Default().Colors["primary"], "mutating a returned default must not leak")
}
