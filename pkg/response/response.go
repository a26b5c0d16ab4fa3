package response

// Detail is the error payload of the envelope. Summary is the short,
// user-facing sentence; Message carries the specifics (which address was
// rejected, which precondition failed). The service layer's invalid-input
// errors produce both, everything else only a summary.
type Detail struct {
	Summary string `json:"summary"`
	Message string `json:"message,omitempty"`
}

// Response is the standard API envelope returned by every handler.
type Response struct {
	Status     string      `json:"status"`      // "success" or "error"
	StatusCode int         `json:"status_code"` // HTTP status code
	Data       interface{} `json:"data,omitempty"`
	Error      *Detail     `json:"error,omitempty"`
}

// Success returns a standard success response wrapping the data
func Success(statusCode int, data interface{}) Response {
	return Response{
		Status:     "success",
		StatusCode: statusCode,
		Data:       data,
	}
}

// Error returns an error response carrying only a summary line
func Error(statusCode int, summary string) Response {
	return Response{
		Status:     "error",
		StatusCode: statusCode,
		Error:      &Detail{Summary: summary},
	}
}

// ErrorDetail returns an error response with the full summary/message pair
func ErrorDetail(statusCode int, summary, message string) Response {
	return Response{
		Status:     "error",
		StatusCode: statusCode,
		Error:      &Detail{Summary: summary, Message: message},
	}
}
