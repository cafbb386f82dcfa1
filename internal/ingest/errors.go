package ingest

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"net"
	"net/http"
	"os"
	"syscall"
	"time"

	"github.com/jmylchreest/nvarr/internal/gateway"
)

// ErrorClass buckets capture-loop failures so the recovery tracker and the
// backoff policy can treat them differently.
type ErrorClass int

const (
	// ErrorUnknown is anything the other classes don't match.
	ErrorUnknown ErrorClass = iota
	// ErrorWriteFailure covers filesystem problems: disk full, permissions,
	// bad paths.
	ErrorWriteFailure
	// ErrorTimeout covers deadline-exceeded fetches.
	ErrorTimeout
	// ErrorStreamDisconnect covers the gateway being unreachable or no
	// longer serving the camera path.
	ErrorStreamDisconnect
	// ErrorFileLock covers EAGAIN-style contention on archive files.
	ErrorFileLock
)

func (c ErrorClass) String() string {
	switch c {
	case ErrorWriteFailure:
		return "write_failure"
	case ErrorTimeout:
		return "timeout"
	case ErrorStreamDisconnect:
		return "stream_disconnect"
	case ErrorFileLock:
		return "file_lock"
	default:
		return "unknown"
	}
}

// Backoff returns how long the capture loop sleeps after an error of this
// class before the next tick.
func (c ErrorClass) Backoff() time.Duration {
	switch c {
	case ErrorTimeout:
		return 2 * time.Second
	case ErrorStreamDisconnect:
		return 3 * time.Second
	default:
		// write_failure, file_lock, unknown
		return 1 * time.Second
	}
}

// Classify walks the error chain and assigns an ErrorClass. Lock
// contention is checked first because EAGAIN reports itself as both a
// timeout and a path error; after that, timeouts win over connection
// errors (a timed-out dial is both).
func Classify(err error) ErrorClass {
	if err == nil {
		return ErrorUnknown
	}

	if errors.Is(err, syscall.EAGAIN) {
		return ErrorFileLock
	}

	// Deadline and net-level timeouts.
	if errors.Is(err, context.DeadlineExceeded) || os.IsTimeout(err) {
		return ErrorTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrorTimeout
	}

	// Gateway unreachable or camera path gone.
	if errors.Is(err, gateway.ErrCircuitOpen) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, syscall.ENETUNREACH) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return ErrorStreamDisconnect
	}
	var statusErr *gateway.StatusError
	if errors.As(err, &statusErr) {
		if statusErr.Code == http.StatusNotFound || statusErr.Code == http.StatusGone {
			return ErrorStreamDisconnect
		}
		return ErrorUnknown
	}

	// Filesystem failures.
	if errors.Is(err, syscall.ENOSPC) ||
		errors.Is(err, fs.ErrPermission) ||
		errors.Is(err, fs.ErrExist) ||
		errors.Is(err, fs.ErrNotExist) {
		return ErrorWriteFailure
	}
	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		return ErrorWriteFailure
	}

	return ErrorUnknown
}
