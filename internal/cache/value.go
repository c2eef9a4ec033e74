package cache

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"nas-web/internal/httperror"
)

// Value is a cached result. The concrete types are Empty, Binary, String,
// JSON, Thumbnail, Error and HTTPError.
type Value interface {
	tag() string
}

// Empty is a computation that produced nothing.
type Empty struct{}

// Binary is an opaque byte payload.
type Binary []byte

// String is a text payload.
type String string

// JSON is an already encoded JSON document.
type JSON json.RawMessage

// Thumbnail is an encoded preview image.
type Thumbnail struct {
	Mime string `json:"mime"`
	Data []byte `json:"data"`
}

// Error is a failure without a status. It is shared with waiting callers
// but never written to the store.
type Error struct {
	Message string `json:"message"`
}

// HTTPError is a failure carrying the HTTP status to answer with.
type HTTPError struct {
	Status  int    `json:"httpCode"`
	Message string `json:"message"`
}

const (
	tagEmpty     = "empty"
	tagBinary    = "binary"
	tagString    = "string"
	tagJSON      = "json"
	tagThumbnail = "thumbnail"
	tagError     = "err"
	tagHTTPError = "httpErr"
)

func (Empty) tag() string     { return tagEmpty }
func (Binary) tag() string    { return tagBinary }
func (String) tag() string    { return tagString }
func (JSON) tag() string      { return tagJSON }
func (Thumbnail) tag() string { return tagThumbnail }
func (Error) tag() string     { return tagError }
func (HTTPError) tag() string { return tagHTTPError }

// ErrInvalidRecord is returned by Decode for records it cannot interpret.
var ErrInvalidRecord = errors.New("invalid cache record")

type record struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

type thumbnailContent struct {
	Mime string `json:"mime"`
	Data string `json:"data"`
}

// Encode serializes v into a {"type","content"} record.
func Encode(v Value) (string, error) {
	rec := record{Type: v.tag()}

	switch v := v.(type) {
	case Empty:
	case Binary:
		rec.Content = base64.StdEncoding.EncodeToString(v)
	case String:
		rec.Content = string(v)
	case JSON:
		if !json.Valid(v) {
			return "", fmt.Errorf("%w: json payload is not valid JSON", ErrInvalidRecord)
		}
		rec.Content = string(v)
	case Thumbnail:
		b, err := json.Marshal(thumbnailContent{Mime: v.Mime, Data: base64.StdEncoding.EncodeToString(v.Data)})
		if err != nil {
			return "", err
		}
		rec.Content = string(b)
	case Error:
		b, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		rec.Content = string(b)
	case HTTPError:
		b, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		rec.Content = string(b)
	default:
		return "", fmt.Errorf("%w: unknown value %T", ErrInvalidRecord, v)
	}

	b, err := json.Marshal(rec)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Decode parses a record written by Encode.
func Decode(s string) (Value, error) {
	var rec record
	if err := json.Unmarshal([]byte(s), &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}

	switch rec.Type {
	case tagEmpty:
		return Empty{}, nil
	case tagBinary:
		b, err := base64.StdEncoding.DecodeString(rec.Content)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
		}
		return Binary(b), nil
	case tagString:
		return String(rec.Content), nil
	case tagJSON:
		if !json.Valid([]byte(rec.Content)) {
			return nil, fmt.Errorf("%w: json payload is not valid JSON", ErrInvalidRecord)
		}
		return JSON(rec.Content), nil
	case tagThumbnail:
		var tc thumbnailContent
		if err := json.Unmarshal([]byte(rec.Content), &tc); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
		}
		data, err := base64.StdEncoding.DecodeString(tc.Data)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
		}
		return Thumbnail{Mime: tc.Mime, Data: data}, nil
	case tagError:
		var e Error
		if err := json.Unmarshal([]byte(rec.Content), &e); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
		}
		return e, nil
	case tagHTTPError:
		var e HTTPError
		if err := json.Unmarshal([]byte(rec.Content), &e); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
		}
		return e, nil
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidRecord, rec.Type)
	}
}

// FromError wraps err as a Value: *httperror.Error becomes HTTPError,
// anything else Error.
func FromError(err error) Value {
	var he *httperror.Error
	if errors.As(err, &he) {
		return HTTPError{Status: he.Status, Message: he.Message}
	}
	return Error{Message: err.Error()}
}

// Err turns the error variants back into errors and returns nil otherwise.
func Err(v Value) error {
	switch v := v.(type) {
	case Error:
		return errors.New(v.Message)
	case HTTPError:
		return httperror.New(v.Status, v.Message)
	default:
		return nil
	}
}

// cacheable reports whether v may be written to the store.
func cacheable(v Value) bool {
	_, transient := v.(Error)
	return !transient
}
