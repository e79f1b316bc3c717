package views

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// ErrBadKey is returned when a virtual view key cannot be decoded.
var ErrBadKey = errors.New("malformed view key")

// maxKeyPayload bounds the inflated size of a key.
const maxKeyPayload = 1 << 20

// EncodeKey turns a snapshot into a URL-safe key:
// base64url(gzip(json(snapshot))).
func EncodeKey(s Snapshot) (string, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("encode view key: %w", err)
	}

	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return "", fmt.Errorf("encode view key: %w", err)
	}
	if _, err := zw.Write(raw); err != nil {
		return "", fmt.Errorf("encode view key: %w", err)
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("encode view key: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf.Bytes()), nil
}

// DecodeKey reverses EncodeKey. Keys shared before compression was
// introduced use the packed JSON form and are accepted as a fallback.
func DecodeKey(key string) (Snapshot, error) {
	if key == "" {
		return Snapshot{}, ErrBadKey
	}
	if s, err := decodeGzipKey(key); err == nil {
		return s, nil
	}
	s, err := decodePackedKey(key)
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: %v", ErrBadKey, err)
	}
	return s, nil
}

func decodeGzipKey(key string) (Snapshot, error) {
	// Padded keys come from older encoders.
	data, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(key, "="))
	if err != nil {
		return Snapshot{}, err
	}
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return Snapshot{}, err
	}
	defer zr.Close()

	raw, err := io.ReadAll(io.LimitReader(zr, maxKeyPayload))
	if err != nil {
		return Snapshot{}, err
	}
	return unmarshalSnapshot(raw)
}

// unmarshalSnapshot accepts only a JSON object; "null" or a bare value would
// otherwise decode into an empty view.
func unmarshalSnapshot(raw []byte) (Snapshot, error) {
	if trimmed := bytes.TrimSpace(raw); len(trimmed) == 0 || trimmed[0] != '{' {
		return Snapshot{}, errors.New("key is not a view object")
	}
	var s Snapshot
	if err := json.Unmarshal(raw, &s); err != nil {
		return Snapshot{}, err
	}
	return s, nil
}

// unpacker restores the JSON punctuation that packed keys replace with
// URL-friendly characters.
var unpacker = strings.NewReplacer(`(`, `{`, `)`, `}`, `'`, `"`, `~`, `:`, `!`, `,`)

func decodePackedKey(key string) (Snapshot, error) {
	unescaped, err := url.QueryUnescape(key)
	if err != nil {
		return Snapshot{}, err
	}
	return unmarshalSnapshot([]byte(unpacker.Replace(unescaped)))
}
