package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	DefaultModel        = "Play3.0-mini"
	DefaultVoice        = "s3://voice-cloning-zero-shot/baf1ef41-36b6-428c-9bdf-50ba54682bd8/original/manifest.json"
	DefaultSpeed        = 1.0
	DefaultOutputFormat = "mp3"

	// maxRequestBytes caps the inbound JSON body
	maxRequestBytes = 1 << 20
)

// ValidationError reports a request that decoded but breaks the schema
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// DecodeError reports a request body that is not valid JSON for the schema
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("invalid request: %v", e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// DecodeSynthesisRequest reads a SynthesisRequest from r. Unknown fields
// are ignored so newer front ends keep working.
func DecodeSynthesisRequest(r io.Reader) (SynthesisRequest, error) {
	var req SynthesisRequest
	dec := json.NewDecoder(io.LimitReader(r, maxRequestBytes))
	if err := dec.Decode(&req); err != nil {
		if errors.Is(err, io.EOF) {
			err = errors.New("empty body")
		}
		return SynthesisRequest{}, &DecodeError{Err: err}
	}
	return req, nil
}

// Validate checks the fields that cannot be defaulted
func (r SynthesisRequest) Validate() error {
	if strings.TrimSpace(r.Text) == "" {
		return &ValidationError{Field: "text", Reason: "field required"}
	}
	if o := r.ModelOptions; o != nil && o.Speed != nil && o.Speed.Float64() <= 0 {
		return &ValidationError{Field: "modelOptions.speed", Reason: "must be greater than 0"}
	}
	return nil
}

// Normalize validates r and fills in defaults, producing the body sent
// upstream. Temperature is only set when the caller supplied it.
func (r SynthesisRequest) Normalize() (Synthesis, error) {
	if err := r.Validate(); err != nil {
		return Synthesis{}, err
	}

	s := Synthesis{
		Model:        DefaultModel,
		Text:         r.Text,
		Voice:        DefaultVoice,
		OutputFormat: DefaultOutputFormat,
		Speed:        DefaultSpeed,
	}

	o := r.ModelOptions
	if o == nil {
		return s, nil
	}
	if o.Model != nil && *o.Model != "" {
		s.Model = *o.Model
	}
	if o.Voice != nil && o.Voice.Value != "" {
		s.Voice = o.Voice.Value
	}
	if o.Speed != nil {
		s.Speed = o.Speed.Float64()
	}
	if o.Temperature != nil {
		s.Temperature = Ptr(o.Temperature.Float64())
	}
	return s, nil
}
