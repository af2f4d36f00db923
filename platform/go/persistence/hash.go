package persistence

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// CompactJSON returns the canonical form of a JSON payload: no insignificant
// whitespace, object keys sorted, numbers kept as written. Draft blobs are compared
// in this form to decide whether a save changed anything.
func CompactJSON(raw []byte) (json.RawMessage, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var value any
	if err := dec.Decode(&value); err != nil {
		return nil, fmt.Errorf("compact json: %w", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("compact json: trailing data after value")
	}
	if value == nil {
		return nil, nil
	}

	var out bytes.Buffer
	enc := json.NewEncoder(&out)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(value); err != nil {
		return nil, fmt.Errorf("compact json: %w", err)
	}
	return json.RawMessage(bytes.TrimRight(out.Bytes(), "\n")), nil
}
