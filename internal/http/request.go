package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
)

const (
	maxBodySize  = 1 << 20
	userIDHeader = "X-User-Id"
)

var (
	validate = validator.New()

	errEmptyBody    = errors.New("request body is empty")
	errMissingActor = errors.New("user id is required in the body or the " + userIDHeader + " header")
)

// badRequest marks an error as the caller's fault, answered with 400.
type badRequest struct {
	kind    string
	msg     string
	details []fieldError
}

func (e *badRequest) Error() string { return e.msg }

type fieldError struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
}

func invalid(kind, format string, args ...any) error {
	return &badRequest{kind: kind, msg: fmt.Sprintf(format, args...)}
}

// readJSON decodes a single JSON value and validates its struct tags.
func readJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		var syntaxError *json.SyntaxError
		var typeError *json.UnmarshalTypeError
		var maxBytesError *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			return errEmptyBody
		case errors.As(err, &syntaxError), errors.Is(err, io.ErrUnexpectedEOF):
			return invalid("malformed_json", "body contains badly-formed JSON")
		case errors.As(err, &typeError):
			return invalid("malformed_json", "body contains incorrect JSON type for field %q", typeError.Field)
		case errors.As(err, &maxBytesError):
			return invalid("body_too_large", "body must not be larger than %d bytes", maxBytesError.Limit)
		case strings.HasPrefix(err.Error(), "json: unknown field "):
			return invalid("unknown_field", "body contains unknown key %s", strings.TrimPrefix(err.Error(), "json: unknown field "))
		default:
			return invalid("malformed_json", "%s", err.Error())
		}
	}
	if dec.More() {
		return invalid("malformed_json", "body must contain only a single JSON value")
	}
	return validateStruct(dst)
}

// readOptionalJSON is readJSON for endpoints whose body may be omitted.
func readOptionalJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	err := readJSON(w, r, dst)
	if errors.Is(err, errEmptyBody) {
		return validateStruct(dst)
	}
	return err
}

func validateStruct(dst any) error {
	err := validate.Struct(dst)
	if err == nil {
		return nil
	}
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return err
	}
	out := &badRequest{kind: "validation_failed", msg: "validation failed"}
	for _, fe := range ve {
		out.details = append(out.details, fieldError{Field: fe.Field(), Rule: fe.Tag()})
	}
	return out
}

// actorID takes the acting user from the body when set, else from the header.
func actorID(r *http.Request, fromBody int64) (int64, error) {
	if fromBody > 0 {
		return fromBody, nil
	}
	v := strings.TrimSpace(r.Header.Get(userIDHeader))
	if v == "" {
		return 0, &badRequest{kind: "missing_actor", msg: errMissingActor.Error()}
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil || id <= 0 {
		return 0, invalid("missing_actor", "invalid %s header", userIDHeader)
	}
	return id, nil
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		return 0, invalid("bad_request", "invalid id")
	}
	return id, nil
}

func queryInt(r *http.Request, key string, required bool) (int64, error) {
	v := strings.TrimSpace(r.URL.Query().Get(key))
	if v == "" {
		if required {
			return 0, invalid("bad_request", "%s is required", key)
		}
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0, invalid("bad_request", "invalid %s", key)
	}
	return n, nil
}
