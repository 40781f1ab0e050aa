package remote

import (
	"errors"
	"fmt"
	"io"

	"github.com/nevindra/vybe/sandbox"
)

const maxRequestBodyBytes = 32 << 20 // 32MB

var errBodyTooLarge = errors.New("body too large")

// readBody reads r to EOF, failing rather than truncating past limit bytes.
func readBody(r io.Reader, limit int64) ([]byte, error) {
	b, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(b)) > limit {
		return nil, fmt.Errorf("%w: exceeds %d bytes", errBodyTooLarge, limit)
	}
	return b, nil
}

type createRequest struct {
	Template string `json:"template"`
}

type commandRequest struct {
	Command string `json:"command"`
}

// commandResponse carries the captured output even when Error is set.
type commandResponse struct {
	Result sandbox.CommandResult `json:"result"`
	Error  string                `json:"error,omitempty"`
}

// Error kinds carried in errorResponse.Kind.
const (
	kindSandboxNotFound = "sandbox_not_found"
	kindFileNotFound    = "file_not_found"
	kindProvision       = "provision"
	kindBadRequest      = "bad_request"
	kindBusy            = "busy"
	kindInternal        = "internal"
)

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
	Name  string `json:"name,omitempty"`
}
