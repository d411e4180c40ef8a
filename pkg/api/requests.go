package api

// ProcessorSubmitRequest is the POST /api/processor body.
type ProcessorSubmitRequest struct {
	Type     string         `json:"type"`
	Data     map[string]any `json:"data"`
	Priority int            `json:"priority"`
}

// SequentialSubmitRequest is the POST /api/sequential body.
type SequentialSubmitRequest struct {
	Workflow string         `json:"workflow"`
	Data     map[string]any `json:"data"`
	Priority int            `json:"priority"`
}

// ValidationRequest is the POST /api/validation body.
type ValidationRequest struct {
	Shape string         `json:"type"`
	Data  map[string]any `json:"data"`
	Level string         `json:"level"`
}
