package modules

const (
	codeInvalidParams = -32602
	codeUnauthorized  = -32001
	codeServerError   = -32000
	codeRateLimited   = -32020
)

type ModuleError struct {
	HTTPStatus int
	Code       int
	Message    string
	Data       interface{}
}

func (e *ModuleError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}
