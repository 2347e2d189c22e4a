// Package jsoncodec centralises JSON encoding for the pipeline. All message
// bodies and downstream request/response payloads go through sonic in
// standard-library-compatible mode so decode verdicts stay deterministic.
package jsoncodec

import (
	"io"

	"github.com/bytedance/sonic"
)

var codec = sonic.ConfigStd

func Marshal(v any) ([]byte, error) {
	return codec.Marshal(v)
}

func Unmarshal(data []byte, v any) error {
	return codec.Unmarshal(data, v)
}

func Decode(r io.Reader, v any) error {
	return codec.NewDecoder(r).Decode(v)
}

func Encode(w io.Writer, v any) error {
	return codec.NewEncoder(w).Encode(v)
}
