package common

import "net/http"

// SuccessResponse is the envelope of every successful admin API reply. Status
// mirrors the HTTP status code.
type SuccessResponse struct {
	Status  int         `json:"status"`
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
}

type ErrorResponse struct {
	Status  int         `json:"status"`
	Message string      `json:"message"`
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
}

func newSuccess(status int, data interface{}, message string) SuccessResponse {
	return SuccessResponse{
		Status:  status,
		Success: true,
		Message: message,
		Data:    data,
	}
}

func NewSuccessResponse(data interface{}, message string) SuccessResponse {
	return newSuccess(http.StatusOK, data, message)
}

// NewCreatedResponse wraps a newly stored record.
func NewCreatedResponse(data interface{}, message string) SuccessResponse {
	return newSuccess(http.StatusCreated, data, message)
}

// NewAcceptedResponse is for work that was queued or left for later.
func NewAcceptedResponse(data interface{}, message string) SuccessResponse {
	return newSuccess(http.StatusAccepted, data, message)
}

func NewErrorResponse(message string, data interface{}, status int) ErrorResponse {
	return ErrorResponse{
		Status:  status,
		Success: false,
		Message: message,
		Data:    data,
	}
}
