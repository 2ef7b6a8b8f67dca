package model

// ErrorResponse is the standard envelope for error responses.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains the structured error information returned by the API.
type ErrorDetail struct {
	Code    int                    `json:"code"`
	Message string                 `json:"message"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// TaskResponse is the 202 envelope returned when work has been queued
// instead of executed in the request. Callers poll Href for the outcome.
type TaskResponse struct {
	Task TaskRef `json:"task"`
}

// TaskRef points at a queued task's status endpoint.
type TaskRef struct {
	ID   string `json:"id"`
	Href string `json:"href"`
}

// TokenResponse is returned by the token endpoint after a successful login.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
}
