package output

// ErrorResponse is the structured error document for JSON and YAML output
type ErrorResponse struct {
	Error   string `json:"error" yaml:"error"`
	Code    string `json:"code,omitempty" yaml:"code,omitempty"`
	Details string `json:"details,omitempty" yaml:"details,omitempty"`
	Hint    string `json:"hint,omitempty" yaml:"hint,omitempty"` // Remediation hint
}

// NewError creates a new error response
func NewError(msg string) ErrorResponse {
	return ErrorResponse{Error: msg}
}
