package domain

import (
	"net/http"

	"github.com/pkg/errors"
)

var (
	ErrPasteNotFound        = NewErr("PASTE_NOT_FOUND", "paste not found", http.StatusNotFound)
	ErrInvalidRequest       = NewErr("INVALID_REQUEST", "invalid request", http.StatusBadRequest)
	ErrTitleRequired        = NewErr("TITLE_REQUIRED", "title required", http.StatusBadRequest)
	ErrBodyRequired         = NewErr("BODY_REQUIRED", "body required", http.StatusBadRequest)
	ErrUnsupportedMediaType = NewErr("UNSUPPORTED_MEDIA_TYPE", "expected Content-Type: application/json", http.StatusUnsupportedMediaType)
	ErrPayloadTooLarge      = NewErr("PAYLOAD_TOO_LARGE", "request body too large", http.StatusConflict)
	ErrShuttingDown         = NewErr("SHUTTING_DOWN", "service unavailable", http.StatusServiceUnavailable)
	ErrInternalServer       = NewErr("INTERNAL_ERROR", "internal server error", http.StatusInternalServerError)
)

type Err struct {
	Code   string `json:"code"`
	Msg    string `json:"message"`
	Status int    `json:"-"`
}

func (e *Err) Error() string { return e.Msg }
func NewErr(code, msg string, status int) *Err {
	return &Err{Code: code, Msg: msg, Status: status}
}

// StorageError reports a failure of the backing store: lost connection,
// failed query, open circuit or an expired query deadline.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	if e.Err == nil {
		return e.Op
	}
	return e.Op + ": " + e.Err.Error()
}
func (e *StorageError) Unwrap() error { return e.Err }

// Storage wraps err as a StorageError. It returns nil for a nil err.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

func IsStorage(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

type ErrResp struct {
	Error ErrDetail `json:"error"`
}
type ErrDetail struct {
	Code string `json:"code"`
	Msg  string `json:"message"`
}

func ToResp(err error) ErrResp {
	var e *Err
	if errors.As(err, &e) {
		return ErrResp{Error: ErrDetail{Code: e.Code, Msg: e.Msg}}
	}
	if IsStorage(err) {
		return ErrResp{Error: ErrDetail{Code: "STORAGE_ERROR", Msg: "storage unavailable"}}
	}
	return ErrResp{Error: ErrDetail{Code: ErrInternalServer.Code, Msg: ErrInternalServer.Msg}}
}
func Status(err error) int {
	var e *Err
	if errors.As(err, &e) {
		return e.Status
	}
	return http.StatusInternalServerError
}
