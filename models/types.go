package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// VoiceSettings is the voice object the reader front end sends. Only Value
// is forwarded upstream; the rest describes the voice in the picker.
type VoiceSettings struct {
	Name         string `json:"name,omitempty"`
	Accent       string `json:"accent,omitempty"`
	Gender       string `json:"gender,omitempty"`
	Value        string `json:"value,omitempty"`
	Language     string `json:"language,omitempty"`
	LanguageCode string `json:"languageCode,omitempty"`
	Sample       string `json:"sample,omitempty"`
	Style        string `json:"style,omitempty"`
}

// ModelOptions holds caller-supplied synthesis parameters. A nil field
// means the caller did not send it.
type ModelOptions struct {
	Model       *string        `json:"model,omitempty"`
	Voice       *VoiceSettings `json:"voice,omitempty"`
	Speed       *Number        `json:"speed,omitempty"`
	Temperature *Number        `json:"temperature,omitempty"`
}

// SynthesisRequest is the body of POST /stream_audio
type SynthesisRequest struct {
	Text         string        `json:"text"`
	ModelOptions *ModelOptions `json:"modelOptions,omitempty"`
}

// Synthesis is the normalized upstream request body
type Synthesis struct {
	Model        string   `json:"model"`
	Text         string   `json:"text"`
	Voice        string   `json:"voice"`
	OutputFormat string   `json:"outputFormat"`
	Speed        float64  `json:"speed"`
	Temperature  *float64 `json:"temperature,omitempty"`
}

// Number is a float64 that also accepts numeric strings ("0.7") on decode.
type Number float64

// UnmarshalJSON implements json.Unmarshaler
func (n *Number) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		data = []byte(strings.TrimSpace(s))
	}
	f, err := strconv.ParseFloat(string(data), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return fmt.Errorf("not a number: %s", data)
	}
	*n = Number(f)
	return nil
}

// Float64 returns n as a float64
func (n Number) Float64() float64 {
	return float64(n)
}

// Ptr returns a pointer to a copy of v. Handy for building optional fields.
func Ptr[T any](v T) *T {
	return &v
}
