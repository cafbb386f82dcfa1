package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/jmylchreest/nvarr/internal/gateway"
)

// dialTimeoutErr mimics a net.Error whose Timeout() reports true without
// matching context.DeadlineExceeded.
type dialTimeoutErr struct{}

func (dialTimeoutErr) Error() string   { return "dial tcp: i/o timeout" }
func (dialTimeoutErr) Timeout() bool   { return true }
func (dialTimeoutErr) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorClass
	}{
		{"nil", nil, ErrorUnknown},
		{"plain error", errors.New("mystery"), ErrorUnknown},

		{"deadline exceeded", context.DeadlineExceeded, ErrorTimeout},
		{"wrapped deadline", fmt.Errorf("fetching playlist: %w", context.DeadlineExceeded), ErrorTimeout},
		{"net timeout", dialTimeoutErr{}, ErrorTimeout},
		{"net op timeout", &net.OpError{Op: "read", Err: dialTimeoutErr{}}, ErrorTimeout},

		{"circuit open", fmt.Errorf("fetching segment: %w", gateway.ErrCircuitOpen), ErrorStreamDisconnect},
		{"connection refused", &net.OpError{Op: "dial", Err: syscall.ECONNREFUSED}, ErrorStreamDisconnect},
		{"connection reset", fmt.Errorf("reading body: %w", syscall.ECONNRESET), ErrorStreamDisconnect},
		{"broken pipe", syscall.EPIPE, ErrorStreamDisconnect},
		{"unexpected EOF", io.ErrUnexpectedEOF, ErrorStreamDisconnect},
		{"status 404", &gateway.StatusError{Code: 404, URL: "http://gw/cam/index.m3u8"}, ErrorStreamDisconnect},
		{"status 410", fmt.Errorf("fetching playlist: %w", &gateway.StatusError{Code: 410}), ErrorStreamDisconnect},

		{"status 500", &gateway.StatusError{Code: 500}, ErrorUnknown},
		{"max retries over 500", fmt.Errorf("%w: %w", gateway.ErrMaxRetries, &gateway.StatusError{Code: 503}), ErrorUnknown},

		{"eagain", &fs.PathError{Op: "open", Path: "/recordings/a.mp4", Err: syscall.EAGAIN}, ErrorFileLock},

		{"disk full", &fs.PathError{Op: "write", Path: "/recordings/a.mp4", Err: syscall.ENOSPC}, ErrorWriteFailure},
		{"permission denied", fmt.Errorf("creating dir: %w", fs.ErrPermission), ErrorWriteFailure},
		{"not exist", fs.ErrNotExist, ErrorWriteFailure},
		{"generic path error", &fs.PathError{Op: "rename", Path: "/recordings/a.mp4", Err: errors.New("boom")}, ErrorWriteFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestErrorClass_String(t *testing.T) {
	assert.Equal(t, "write_failure", ErrorWriteFailure.String())
	assert.Equal(t, "timeout", ErrorTimeout.String())
	assert.Equal(t, "stream_disconnect", ErrorStreamDisconnect.String())
	assert.Equal(t, "file_lock", ErrorFileLock.String())
	assert.Equal(t, "unknown", ErrorUnknown.String())
	assert.Equal(t, "unknown", ErrorClass(42).String())
}

func TestErrorClass_Backoff(t *testing.T) {
	assert.Equal(t, 2*time.Second, ErrorTimeout.Backoff())
	assert.Equal(t, 3*time.Second, ErrorStreamDisconnect.Backoff())
	assert.Equal(t, time.Second, ErrorWriteFailure.Backoff())
	assert.Equal(t, time.Second, ErrorFileLock.Backoff())
	assert.Equal(t, time.Second, ErrorUnknown.Backoff())
}
