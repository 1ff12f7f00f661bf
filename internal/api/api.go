// Package api defines the client-facing wire types of the presay HTTP
// surface: the speech request, the OpenAI-style error envelope, the model
// listing, and the service descriptor returned by the root route.
package api

// SpeechRequest is the body of POST /v1/audio/speech. Voice, response format
// and speed are accepted for OpenAI wire compatibility; synthesis always
// produces WAV with the backend default voice.
type SpeechRequest struct {
	Model          string  `json:"model"`
	Input          string  `json:"input"`
	Voice          string  `json:"voice,omitempty"`
	ResponseFormat string  `json:"response_format,omitempty"`
	Speed          float64 `json:"speed,omitempty"`
}

// Error codes used in the error envelope.
const (
	CodeNotFound         = "not_found"
	CodeInvalidInput     = "invalid_input"
	CodeModelNotFound    = "model_not_found"
	CodeGenerationFailed = "generation_failed"
	CodeInternalError    = "internal_error"
)

// Error types grouping the codes above, matching the OpenAI wire format.
const (
	TypeInvalidRequest = "invalid_request_error"
	TypeServerError    = "server_error"
)

// ErrorDetail is the inner object of the error envelope.
type ErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

// ErrorBody is the JSON envelope for every non-2xx response produced by
// presay itself. Upstream error responses are relayed verbatim instead.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// NewError builds an error envelope.
func NewError(message, errType, code string) ErrorBody {
	return ErrorBody{Error: ErrorDetail{Message: message, Type: errType, Code: code}}
}

// Model is one entry of the model listing.
type Model struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

// ModelList is the body of GET /v1/models.
type ModelList struct {
	Object string  `json:"object"`
	Data   []Model `json:"data"`
}

// ServiceInfo is the body of GET /.
type ServiceInfo struct {
	Service     string `json:"service"`
	Version     string `json:"version"`
	Description string `json:"description"`
}

// ClearResult is the body of POST /cache/clear.
type ClearResult struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}
