// Package contracts embeds the OpenAPI documents served by the API.
package contracts

import (
	_ "embed"
	"fmt"

	"github.com/getkin/kin-openapi/openapi3"
)

// VerificationYAML is the raw verification API contract.
//
//go:embed verification.yaml
var VerificationYAML []byte

// LoadVerification parses and validates the embedded verification contract.
func LoadVerification() (*openapi3.T, error) {
	loader := openapi3.NewLoader()
	spec, err := loader.LoadFromData(VerificationYAML)
	if err != nil {
		return nil, fmt.Errorf("load verification contract: %w", err)
	}
	if err := spec.Validate(loader.Context); err != nil {
		return nil, fmt.Errorf("validate verification contract: %w", err)
	}
	return spec, nil
}
