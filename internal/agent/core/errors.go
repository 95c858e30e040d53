package core

// ErrorCode is reported in failed acknowledgments so that the control plane
// can alert per failure class.
type ErrorCode string

const (
	ErrCodeExpired        ErrorCode = "E004"
	ErrCodeURLNotAllowed  ErrorCode = "E005"
	ErrCodeUnknownType    ErrorCode = "E006"
	ErrCodeInternal       ErrorCode = "E009"
	ErrCodeTimeout        ErrorCode = "E010"
	ErrCodeMedia          ErrorCode = "E101"
	ErrCodeCall           ErrorCode = "E102"
	ErrCodeVolume         ErrorCode = "E103"
	ErrCodeSystem         ErrorCode = "E104"
	ErrCodeDiagnostics    ErrorCode = "E105"
	ErrCodeService        ErrorCode = "E106"
	ErrCodeInvalidCommand ErrorCode = "E107"
	ErrCodeInvalidPayload ErrorCode = "E108"
)

// ErrorCodeForType maps a failing handler to its family code.
func ErrorCodeForType(t CommandType) ErrorCode {
	switch t {
	case TypePlayMedia, TypeStopMedia, TypePauseMedia, TypeResumeMedia:
		return ErrCodeMedia
	case TypeJoinZoom, TypeLeaveZoom:
		return ErrCodeCall
	case TypeSetVolume:
		return ErrCodeVolume
	case TypeReboot, TypeShutdown:
		return ErrCodeSystem
	case TypeRestartService:
		return ErrCodeService
	case TypeGetSystemInfo, TypeGetLogs:
		return ErrCodeDiagnostics
	default:
		return ErrCodeInternal
	}
}

// CodedError lets a handler pick a more specific code than its family default.
type CodedError struct {
	Code ErrorCode
	Err  error
}

func (e *CodedError) Error() string { return e.Err.Error() }

func (e *CodedError) Unwrap() error { return e.Err }

// WithCode wraps err so that the dispatcher reports code for it.
func WithCode(code ErrorCode, err error) error {
	if err == nil {
		return nil
	}
	return &CodedError{Code: code, Err: err}
}
