package domain

import "encoding/json"

// OutputSchema names the JSON Schema a model response must conform to.
type OutputSchema struct {
	Name   string
	Schema json.RawMessage
}

// InferenceRequest is the provider-agnostic input for one generation call
// against a stored document.
type InferenceRequest struct {
	Model       string
	Document    DocumentRef
	Instruction string
	Output      OutputSchema
}
