package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrMalformedBundle = errors.New("malformed fingerprint bundle")
)

// missingField is hashed in place of any absent optional signal so that two
// browsers differing only in which fields they expose still normalize
// deterministically.
const missingField = "-"

// Signals is the client-observable signal bundle collected per login attempt.
// Every field is optional; the request IP and user-agent are tracked on the
// device record separately and are deliberately not part of the hash input.
type Signals struct {
	ScreenWidth      *int    `json:"screen_width,omitempty"`
	ScreenHeight     *int    `json:"screen_height,omitempty"`
	ColorDepth       *int    `json:"color_depth,omitempty"`
	Timezone         *string `json:"timezone,omitempty"`
	Language         *string `json:"language,omitempty"`
	Platform         *string `json:"platform,omitempty"`
	HardwareCores    *int    `json:"hardware_cores,omitempty"`
	DeviceMemoryGB   *int    `json:"device_memory_gb,omitempty"`
	CanvasHash       *string `json:"canvas_hash,omitempty"`
	WebGLRenderer    *string `json:"webgl_renderer,omitempty"`
	TouchSupport     *bool   `json:"touch_support,omitempty"`
	CookiesEnabled   *bool   `json:"cookies_enabled,omitempty"`
	SessionStorage   *bool   `json:"session_storage,omitempty"`
	PluginsSignature *string `json:"plugins_signature,omitempty"`
}

// ParseBundle validates the raw client bundle and decodes it into Signals.
// A bundle that is not a JSON object, or whose fields carry the wrong types,
// fails with ErrMalformedBundle; callers treat that as an unknown device and
// force step-up, never as a bypass.
func ParseBundle(raw []byte) (*Signals, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty bundle", ErrMalformedBundle)
	}

	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.DisallowUnknownFields()

	var sig Signals
	if err := dec.Decode(&sig); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedBundle, err)
	}
	// Reject trailing garbage after the object.
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data", ErrMalformedBundle)
	}

	return &sig, nil
}

// Normalize canonicalizes a signal bundle into a fixed-length fingerprint
// identifier. Identical bundles (up to key order and whitespace, both absorbed
// by decoding) always produce the same identifier; absent fields contribute
// the fixed sentinel rather than being omitted from the hash input.
func Normalize(sig *Signals) (string, error) {
	if sig == nil {
		return "", fmt.Errorf("%w: nil signals", ErrMalformedBundle)
	}

	fields := []string{
		intField(sig.ScreenWidth),
		intField(sig.ScreenHeight),
		intField(sig.ColorDepth),
		stringField(sig.Timezone),
		stringField(sig.Language),
		stringField(sig.Platform),
		intField(sig.HardwareCores),
		intField(sig.DeviceMemoryGB),
		stringField(sig.CanvasHash),
		stringField(sig.WebGLRenderer),
		boolField(sig.TouchSupport),
		boolField(sig.CookiesEnabled),
		boolField(sig.SessionStorage),
		stringField(sig.PluginsSignature),
	}

	canonical := strings.Join(fields, "|")
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:]), nil
}

// NormalizeBundle parses and normalizes in one step.
func NormalizeBundle(raw []byte) (string, error) {
	sig, err := ParseBundle(raw)
	if err != nil {
		return "", err
	}
	return Normalize(sig)
}

func stringField(v *string) string {
	if v == nil {
		return missingField
	}
	return strings.ToLower(strings.TrimSpace(*v))
}

func intField(v *int) string {
	if v == nil {
		return missingField
	}
	return strconv.Itoa(*v)
}

func boolField(v *bool) string {
	if v == nil {
		return missingField
	}
	return strconv.FormatBool(*v)
}
