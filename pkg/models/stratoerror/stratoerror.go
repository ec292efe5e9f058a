package stratoerror

import (
	"errors"
	"fmt"
)

const (
	STRT_UNEXPECTED       = "STRTU"
	STRT_TABLE_NOT_FOUND  = "STRTT"
	STRT_TABLET_NOT_FOUND = "STRTB"
	STRT_NO_REPLICA       = "STRTR"
	STRT_NO_LEADER        = "STRTL"
	STRT_LOOKUP_TIMEOUT   = "STRTD"
	STRT_AUTHORITY_ERROR  = "STRTA"
	STRT_INVALID_RANGE    = "STRTK"
)

var existingErrorCodeMap = map[string]string{
	STRT_TABLE_NOT_FOUND:  "table not found",
	STRT_TABLET_NOT_FOUND: "tablet not found",
	STRT_NO_REPLICA:       "no available replica",
	STRT_NO_LEADER:        "no leader known",
	STRT_LOOKUP_TIMEOUT:   "location lookup timed out",
	STRT_AUTHORITY_ERROR:  "metadata authority error",
	STRT_INVALID_RANGE:    "invalid partition range",
}

func GetMessageByCode(errorCode string) string {
	rep, ok := existingErrorCodeMap[errorCode]
	if ok {
		return rep
	}
	return "Unexpected error"
}

var _ error = &StratoError{}

type StratoError struct {
	Err error

	ErrorCode string
}

func New(errorCode string, errorMsg string) *StratoError {
	return &StratoError{
		Err:       errors.New(errorMsg),
		ErrorCode: errorCode,
	}
}

func Newf(errorCode string, format string, a ...any) *StratoError {
	return &StratoError{
		Err:       fmt.Errorf(format, a...),
		ErrorCode: errorCode,
	}
}

func (er *StratoError) Error() string {
	return fmt.Sprintf("Code: %s. Name: %s. Description: %s.",
		er.ErrorCode, GetMessageByCode(er.ErrorCode), er.Err)
}

// ErrorCode extracts the strato error code from err, STRT_UNEXPECTED if
// err was produced elsewhere.
func ErrorCode(err error) string {
	var se *StratoError
	if errors.As(err, &se) {
		return se.ErrorCode
	}
	return STRT_UNEXPECTED
}
