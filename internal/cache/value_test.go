package cache

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nas-web/internal/httperror"
)

func TestEncodeWireFormat(t *testing.T) {
	tests := []struct {
		name  string
		value Value
		want  string
	}{
		{"empty", Empty{}, `{"type":"empty","content":""}`},
		{"string", String("video/mp4"), `{"type":"string","content":"video/mp4"}`},
		{"binary", Binary{0x01, 0xff}, `{"type":"binary","content":"Af8="}`},
		{"json", JSON(`{"a":1}`), `{"type":"json","content":"{\"a\":1}"}`},
		{"thumbnail", Thumbnail{Mime: "image/png", Data: []byte("png")},
			`{"type":"thumbnail","content":"{\"mime\":\"image/png\",\"data\":\"cG5n\"}"}`},
		{"error", Error{Message: "boom"}, `{"type":"err","content":"{\"message\":\"boom\"}"}`},
		{"http error", HTTPError{Status: 415, Message: "nope"},
			`{"type":"httpErr","content":"{\"httpCode\":415,\"message\":\"nope\"}"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Encode(tt.value)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)

			back, err := Decode(got)
			require.NoError(t, err)
			assert.Equal(t, tt.value, back)
		})
	}
}

func TestEncodeRejectsInvalidJSON(t *testing.T) {
	_, err := Encode(JSON("{nope"))
	assert.ErrorIs(t, err, ErrInvalidRecord)
}

func TestDecodeInvalid(t *testing.T) {
	for _, raw := range []string{
		"not json",
		`{"type":"mystery","content":""}`,
		`{"type":"binary","content":"%%%"}`,
		`{"type":"json","content":"{broken"}`,
		`{"type":"thumbnail","content":"[]"}`,
		`{"type":"httpErr","content":"oops"}`,
	} {
		_, err := Decode(raw)
		assert.ErrorIs(t, err, ErrInvalidRecord, raw)
	}
}

func TestFromErrorAndErr(t *testing.T) {
	he := FromError(httperror.UnsupportedMediaType("application/zip"))
	require.IsType(t, HTTPError{}, he)
	assert.Equal(t, http.StatusUnsupportedMediaType, httperror.StatusOf(Err(he)))

	wrapped := FromError(errors.Join(errors.New("ctx"), httperror.BadRequest("bad size")))
	assert.Equal(t, HTTPError{Status: http.StatusBadRequest, Message: "bad size"}, wrapped)

	generic := FromError(errors.New("ffmpeg exited with code 1"))
	assert.Equal(t, Error{Message: "ffmpeg exited with code 1"}, generic)
	assert.EqualError(t, Err(generic), "ffmpeg exited with code 1")

	assert.NoError(t, Err(String("x")))
	assert.NoError(t, Err(Empty{}))
}

func TestCacheable(t *testing.T) {
	assert.False(t, cacheable(Error{Message: "transient"}))
	assert.True(t, cacheable(HTTPError{Status: 400}))
	assert.True(t, cacheable(Thumbnail{}))
	assert.True(t, cacheable(Empty{}))
}
