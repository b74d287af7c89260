package protocol

import (
	"errors"
	"fmt"
)

// ErrorCode is the closed set of numeric error codes reported in failed downlink replies.
type ErrorCode int

const (
	ErrUnsupportedTopic            ErrorCode = 1001
	ErrResourceDownloadFailed      ErrorCode = 1002
	ErrMD5ValidationFailed         ErrorCode = 1003
	ErrFirmwareVersionInconsistent ErrorCode = 1004
	ErrNullURL                     ErrorCode = 1006
	ErrResourceVerifyFailed        ErrorCode = 1007
	ErrResourceFormat              ErrorCode = 1008
	ErrPreTaskRunning              ErrorCode = 1009
	ErrUpgradeFailed               ErrorCode = 1010
)

// The cloud error catalog keys on these identifiers, so they are sent verbatim as errMsg.
var errorCodeNames = map[ErrorCode]string{
	ErrUnsupportedTopic:            "ERR_UNSUPPORT_TOPIC",
	ErrResourceDownloadFailed:      "ERR_RESOURCE_DOWNLOAD_FAILED",
	ErrMD5ValidationFailed:         "ERR_MD5_VALIDATION_FAILED",
	ErrFirmwareVersionInconsistent: "ERR_FIRMWARE_VERSION_IS_INCONSISTENT",
	ErrNullURL:                     "ERR_NULL_URL",
	ErrResourceVerifyFailed:        "ERR_RESOURCE_VERIFY_FAILED",
	ErrResourceFormat:              "ERR_RESOURCE_FORMAT",
	ErrPreTaskRunning:              "ERR_PRE_TASK_RUNNING",
	ErrUpgradeFailed:               "ERR_UPGRADE_FAILED",
}

// String returns the identifier sent on the wire as errMsg.
func (c ErrorCode) String() string {
	if name, ok := errorCodeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("ERR_UNKNOWN_%d", int(c))
}

// Valid reports whether c belongs to the closed error code set.
func (c ErrorCode) Valid() bool {
	_, ok := errorCodeNames[c]
	return ok
}

// ErrFormat marks a response or message that does not match the expected schema.
var ErrFormat = errors.New("response format error")

// ServerError is returned when the provisioning service answers with status "Failed".
type ServerError struct {
	Header ResponseHeader
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server reported failure: errCode=%q errMsg=%q detailMsg=%q requestId=%q",
		e.Header.ErrCode, e.Header.ErrMsg, e.Header.DetailMsg, e.Header.RequestID)
}

// Code returns the server-provided error code.
func (e *ServerError) Code() string {
	return e.Header.ErrCode
}
