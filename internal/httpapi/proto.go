package httpapi

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/BrandonDHaskell/corenest/internal/corenest/wire"
)

// maxRequestBody caps the request body size for both protobuf and JSON
// payloads.  The largest request carries two 256-character strings, so
// 8 KiB is generous.
const maxRequestBody = 8192

var errBodyTooLarge = errors.New("request body too large")

const protobufContentType = "application/x-protobuf"

func isProtoMediaType(v string) bool {
	mt, _, err := mime.ParseMediaType(v)
	if err != nil {
		return false
	}
	return mt == protobufContentType ||
		mt == "application/protobuf" ||
		mt == "application/octet-stream"
}

// isProtobuf returns true if the request's Content-Type indicates a
// protobuf payload.
func isProtobuf(r *http.Request) bool {
	return isProtoMediaType(r.Header.Get("Content-Type"))
}

// wantsProto reports whether the response should be protobuf: either the
// request body was protobuf or the client asked for it in Accept.
func wantsProto(r *http.Request) bool {
	if isProtobuf(r) {
		return true
	}
	for _, part := range strings.Split(r.Header.Get("Accept"), ",") {
		if isProtoMediaType(strings.TrimSpace(part)) {
			return true
		}
	}
	return false
}

// readBody decodes the request body into dst.  Protobuf bodies are a
// google.protobuf.Struct with the same field names as the JSON form.
// An empty body leaves dst untouched.
func readBody(r *http.Request, dst any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody+1))
	if err != nil {
		return err
	}
	if len(body) > maxRequestBody {
		return errBodyTooLarge
	}
	if !isProtobuf(r) {
		return wire.DecodeJSON(body, dst)
	}
	if len(body) == 0 {
		return nil
	}
	var msg structpb.Struct
	if err := proto.Unmarshal(body, &msg); err != nil {
		return err
	}
	return wire.FromStruct(&msg, dst)
}

// writeProto encodes v as a google.protobuf.Struct and writes it with the
// given HTTP status.
func writeProto(w http.ResponseWriter, status int, v any) {
	msg, err := wire.ToStruct(v)
	if err != nil {
		http.Error(w, "proto marshal error", http.StatusInternalServerError)
		return
	}
	data, err := proto.Marshal(msg)
	if err != nil {
		// Fall back to a plain-text error if marshalling fails.
		http.Error(w, "proto marshal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", protobufContentType)
	w.WriteHeader(status)
	_, _ = w.Write(data)
}
