package httppeer

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/roach88/revsync/internal/ir"
)

// errorBody is the JSON error envelope.
type errorBody struct {
	Error   ir.ErrorCode      `json:"error"`
	Reason  string            `json:"reason"`
	DocID   string            `json:"doc_id,omitempty"`
	RevID   string            `json:"rev_id,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

func statusFor(code ir.ErrorCode) int {
	switch code {
	case ir.ErrCodeConflict, ir.ErrCodeRegression:
		return http.StatusConflict
	case ir.ErrCodeNotFound:
		return http.StatusNotFound
	case ir.ErrCodeInvalidTree:
		return http.StatusUnprocessableEntity
	case ir.ErrCodeStructural:
		return http.StatusBadRequest
	case ir.ErrCodeTransientIO:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// encodeError converts err into a status and envelope.
func encodeError(err error) (int, errorBody) {
	var e *ir.Error
	if errors.As(err, &e) {
		return statusFor(e.Code), errorBody{
			Error:   e.Code,
			Reason:  e.Message,
			DocID:   e.DocID,
			RevID:   e.RevID,
			Details: e.Details,
		}
	}
	return http.StatusInternalServerError, errorBody{Error: "INTERNAL", Reason: err.Error()}
}

// decodeError rebuilds a typed error from a non-2xx response. Server-side
// failures without a recognized code are treated as transient.
func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var body errorBody
	if err := json.Unmarshal(data, &body); err != nil || body.Error == "" {
		msg := fmt.Sprintf("unexpected status %d", resp.StatusCode)
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return ir.NewTransientError(msg, nil)
		}
		return ir.NewStructuralError("", "", msg)
	}

	switch body.Error {
	case ir.ErrCodeConflict, ir.ErrCodeNotFound, ir.ErrCodeInvalidTree,
		ir.ErrCodeRegression, ir.ErrCodeTransientIO, ir.ErrCodeStructural:
		return &ir.Error{
			Code:    body.Error,
			Message: body.Reason,
			DocID:   body.DocID,
			RevID:   body.RevID,
			Details: body.Details,
		}
	}
	if resp.StatusCode >= 500 {
		return ir.NewTransientError(fmt.Sprintf("remote error %s: %s", body.Error, body.Reason), nil)
	}
	return ir.NewStructuralError("", "", fmt.Sprintf("remote error %s: %s", body.Error, body.Reason))
}
