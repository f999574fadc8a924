package types

// Code identifies an API error; the numeric suffix is the HTTP status.
type Code string

const (
	CodeInvalidIO       Code = "IO_400"
	CodeSystemNotFound  Code = "SYSTEM_404"
	CodeCouplerInternal Code = "COUPLER_500"
	CodeCouplerRejected Code = "COUPLER_502"
	CodeNotConnected    Code = "COUPLER_503"
	CodeUnreachable     Code = "COUPLER_504"
)

type ErrorBody struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// NewErrorResponse builds the API error payload. details is omitted when nil.
func NewErrorResponse(code Code, message string, details any) ErrorResponse {
	return ErrorResponse{
		Error: ErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

// NewCauseResponse is NewErrorResponse with err's text as details.
func NewCauseResponse(code Code, message string, err error) ErrorResponse {
	if err == nil {
		return NewErrorResponse(code, message, nil)
	}
	return NewErrorResponse(code, message, err.Error())
}
