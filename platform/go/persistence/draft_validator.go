package persistence

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/draft_data.schema.json
var draftSchemaJSON []byte

const draftSchemaURL = "memory://schemas/verification-draft.json"

// DraftValidator checks wizard draft blobs against the embedded draft schema
// compiled via santhosh-tekuri/jsonschema. Compilation happens once, lazily.
type DraftValidator struct {
	once     sync.Once
	compiled *jsonschema.Schema
	err      error
}

// NewDraftValidator returns a validator; the schema is compiled on first use.
func NewDraftValidator() *DraftValidator {
	return &DraftValidator{}
}

// Validate ensures payload is a JSON object matching the draft schema.
// An empty payload is accepted: an attempt may carry no draft at all.
func (v *DraftValidator) Validate(payload []byte) error {
	if len(bytes.TrimSpace(payload)) == 0 {
		return nil
	}

	compiled, err := v.schema()
	if err != nil {
		return err
	}

	var document any
	if err := json.Unmarshal(payload, &document); err != nil {
		return fmt.Errorf("decode draft: %w", err)
	}
	if document == nil {
		return nil
	}

	if err := compiled.Validate(document); err != nil {
		return fmt.Errorf("draft validation: %w", err)
	}
	return nil
}

func (v *DraftValidator) schema() (*jsonschema.Schema, error) {
	v.once.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(draftSchemaURL, bytes.NewReader(draftSchemaJSON)); err != nil {
			v.err = fmt.Errorf("register draft schema: %w", err)
			return
		}
		v.compiled, v.err = compiler.Compile(draftSchemaURL)
		if v.err != nil {
			v.err = fmt.Errorf("compile draft schema: %w", v.err)
		}
	})
	return v.compiled, v.err
}
