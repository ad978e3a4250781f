package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/BrandonDHaskell/corenest/internal/corenest/fault"
	"github.com/BrandonDHaskell/corenest/internal/corenest/types"
)

// statusFor maps a domain fault code to its HTTP status.
func statusFor(c fault.Code) int {
	switch c {
	case fault.CodeNoPermission:
		return http.StatusForbidden
	case fault.CodeNotFound:
		return http.StatusNotFound
	case fault.CodeInvalidInput:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err as an ErrorResponse.  Domain faults keep their code and
// message; anything else is logged and reported as an opaque 500.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	if fe, ok := fault.As(err); ok {
		writeError(w, r, statusFor(fe.Code), types.ErrorBody{
			Code:    uint32(fe.Code),
			Kind:    fe.Kind,
			Message: fe.Message,
		})
		return
	}

	s.logger.WithFields(logrus.Fields{
		"request_id": requestIDFrom(r.Context()),
		"path":       r.URL.Path,
	}).WithError(err).Error("request failed")
	writeError(w, r, http.StatusInternalServerError, types.ErrorBody{
		Kind:    "internal_error",
		Message: "unexpected server error",
	})
}

func writeError(w http.ResponseWriter, r *http.Request, status int, body types.ErrorBody) {
	respond(w, r, status, types.ErrorResponse{Error: body})
}

// respond encodes v as protobuf when the client speaks it, JSON otherwise.
func respond(w http.ResponseWriter, r *http.Request, status int, v any) {
	if wantsProto(r) {
		writeProto(w, status, v)
		return
	}
	writeJSON(w, status, v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
