package httpserver

const (
	ErrInvalidJSON      = "invalid json"
	ErrBodyTooLarge     = "body too large"
	ErrReadBody         = "unreadable body"
	ErrInvalidSignature = "invalid signature"
	ErrUnauthorized     = "unauthorized"
	ErrNotListening     = "listener not running"
	ErrDependency       = "dependency error"
)
