package agentclient

import "fmt"

// Error is the decoded form of the Agent's error envelope:
// {"error":{"code":"...","message":"..."}}.
type Error struct {
	Code      string
	Message   string
	HTTPCode  int
	Retryable bool
}

func (e *Error) Error() string {
	return fmt.Sprintf("agent: %s (HTTP %d): %s", e.Code, e.HTTPCode, e.Message)
}

// classify assigns the transient/permanent split from §4.7's retry policy:
// 5xx, timeouts, 429, and connection-closed are transient; any other 4xx,
// not-found, and access-denied are permanent.
func classify(httpStatus int, networkErr bool) bool {
	if networkErr {
		return true
	}
	switch {
	case httpStatus >= 500:
		return true
	case httpStatus == 429:
		return true
	case httpStatus >= 400:
		return false
	default:
		return false
	}
}

// knownErrorCodes are the Agent error codes enumerated in §6.1.
const (
	CodeVolumeNotFound   = "VOLUME_NOT_FOUND"
	CodeContainerRunning = "CONTAINER_RUNNING"
	CodeArchiveNotFound  = "ARCHIVE_NOT_FOUND"
	CodeJobFailed        = "JOB_FAILED"
	CodeVolumeInUse      = "VOLUME_IN_USE"
)
