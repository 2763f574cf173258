package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeBundle_KeyOrderAndWhitespaceInvariant(t *testing.T) {
	a := []byte(`{"screen_width":1920,"screen_height":1080,"timezone":"Europe/Berlin","platform":"Linux x86_64"}`)
	b := []byte(`{
		"platform":  "Linux x86_64",
		"timezone":  "Europe/Berlin",
		"screen_height": 1080,
		"screen_width":  1920
	}`)

	fpA, err := NormalizeBundle(a)
	require.NoError(t, err)
	fpB, err := NormalizeBundle(b)
	require.NoError(t, err)

	assert.Equal(t, fpA, fpB)
	assert.Len(t, fpA, 64)
}

func TestNormalizeBundle_MissingOptionalFieldsAreDeterministic(t *testing.T) {
	sparse := []byte(`{"timezone":"UTC"}`)

	fp1, err := NormalizeBundle(sparse)
	require.NoError(t, err)
	fp2, err := NormalizeBundle(sparse)
	require.NoError(t, err)
	assert.Equal(t, fp1, fp2)

	// A bundle with an extra present field must differ.
	richer := []byte(`{"timezone":"UTC","screen_width":1280}`)
	fp3, err := NormalizeBundle(richer)
	require.NoError(t, err)
	assert.NotEqual(t, fp1, fp3)
}

func TestNormalize_StringCanonicalization(t *testing.T) {
	tz1 := "  Europe/Berlin "
	tz2 := "europe/berlin"

	fp1, err := Normalize(&Signals{Timezone: &tz1})
	require.NoError(t, err)
	fp2, err := Normalize(&Signals{Timezone: &tz2})
	require.NoError(t, err)

	assert.Equal(t, fp1, fp2)
}

func TestParseBundle_Malformed(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"empty", ""},
		{"not json", "not-json"},
		{"wrong type", `{"screen_width":"wide"}`},
		{"array", `[1,2,3]`},
		{"unknown field", `{"evil_field":true}`},
		{"trailing data", `{"timezone":"UTC"}{"timezone":"UTC"}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseBundle([]byte(tc.raw))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrMalformedBundle)
		})
	}
}

func TestNormalize_NilSignals(t *testing.T) {
	_, err := Normalize(nil)
	assert.ErrorIs(t, err, ErrMalformedBundle)
}

func TestNormalize_IgnoresIPAndUserAgentByConstruction(t *testing.T) {
	// The Signals type has no IP or user-agent field; two devices sharing
	// identical signals normalize identically no matter where they connect
	// from. This test pins the full input surface of the hash.
	width, height := 1440, 900
	tz := "America/New_York"

	fp1, err := Normalize(&Signals{ScreenWidth: &width, ScreenHeight: &height, Timezone: &tz})
	require.NoError(t, err)
	fp2, err := Normalize(&Signals{ScreenWidth: &width, ScreenHeight: &height, Timezone: &tz})
	require.NoError(t, err)

	assert.Equal(t, fp1, fp2)
}
