package service

import "errors"

var (
	ErrDuplicateName      = errors.New("room name already exists")
	ErrInvalidRoom        = errors.New("room does not exist")
	ErrUnknownRoom        = errors.New("unknown room")
	ErrInvalidContentType = errors.New("invalid content type")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrStorageFailure     = errors.New("storage failure")
	ErrCapacityExceeded   = errors.New("connection capacity exceeded")
	ErrUnknownConnection  = errors.New("unknown connection")
	ErrSlowConsumer       = errors.New("connection send buffer full")
	ErrFileTooLarge       = errors.New("file too large")
	ErrRateLimited        = errors.New("rate limit exceeded")
	ErrShuttingDown       = errors.New("server shutting down")
)

var errorCodes = []struct {
	err  error
	code string
}{
	{ErrDuplicateName, "duplicate_name"},
	{ErrInvalidRoom, "invalid_room"},
	{ErrUnknownRoom, "unknown_room"},
	{ErrInvalidContentType, "invalid_content_type"},
	{ErrInvalidArgument, "invalid_argument"},
	{ErrStorageFailure, "storage_failure"},
	{ErrCapacityExceeded, "capacity_exceeded"},
	{ErrUnknownConnection, "unknown_connection"},
	{ErrSlowConsumer, "slow_consumer"},
	{ErrFileTooLarge, "file_too_large"},
	{ErrRateLimited, "rate_limited"},
	{ErrShuttingDown, "shutting_down"},
}

// ErrorCode 將錯誤轉為穩定的代碼, 供 HTTP 與 WebSocket 回應使用
func ErrorCode(err error) string {
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			return ec.code
		}
	}
	return "internal_error"
}
