package httpresp

const (
	ErrUnauthorized       = "unauthorized"
	ErrMissingBearerToken = "bearer token is required"
	ErrInvalidToken       = "invalid token"
	ErrForbidden          = "forbidden"
	ErrToAndMessage       = "to and message are required"
	ErrToAndURL           = "to, url and mediaType are required"
	ErrChatNotFound       = "chat not found"
)

type ErrorResponse struct {
	Error string `json:"error"`
}

type OKResponse struct {
	OK bool `json:"ok"`
}

type SuccessResponse struct {
	Success bool `json:"success"`
}

type IDResponse struct {
	ID string `json:"id"`
}

func NewErrorResponse(message string) ErrorResponse {
	return ErrorResponse{Error: message}
}

func NewOKResponse() OKResponse {
	return OKResponse{OK: true}
}

func NewSuccessResponse() SuccessResponse {
	return SuccessResponse{Success: true}
}

func NewIDResponse(id string) IDResponse {
	return IDResponse{ID: id}
}
