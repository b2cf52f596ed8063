package job

// ErrorKind classifies why a job failed.
type ErrorKind int

const (
	KindNone ErrorKind = iota
	KindGatewayFailure
	KindNotificationFailure
	KindNotFound
	KindAlreadyTerminal
	KindValidationError
	KindStuck
	KindInternal
)

var errorKindCodes = map[ErrorKind]string{
	KindNone:                "",
	KindGatewayFailure:      "gateway_failure",
	KindNotificationFailure: "notification_failure",
	KindNotFound:            "not_found",
	KindAlreadyTerminal:     "already_terminal",
	KindValidationError:     "validation_error",
	KindStuck:               "stuck",
	KindInternal:            "internal",
}

func (k ErrorKind) String() string {
	if code, ok := errorKindCodes[k]; ok {
		return code
	}
	return "internal"
}

// ParseErrorKind maps a stored code back to its kind. Unknown codes map to KindInternal.
func ParseErrorKind(code string) ErrorKind {
	for kind, c := range errorKindCodes {
		if c == code {
			return kind
		}
	}
	return KindInternal
}

// Failure is the machine-readable reason a job ended in Failed.
type Failure struct {
	Kind    ErrorKind
	Message string
}

func (f Failure) Error() string {
	return f.Kind.String() + ": " + f.Message
}

// NewFailure builds a Failure of the given kind.
func NewFailure(kind ErrorKind, message string) Failure {
	return Failure{Kind: kind, Message: message}
}
