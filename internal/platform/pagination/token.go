package pagination

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// DefaultPageSize defines the fallback number of items returned when the
// caller omits a page size.
const DefaultPageSize = 20

// ErrInvalidPageToken reports a page token that could not be decoded.
var ErrInvalidPageToken = errors.New("pagination: invalid pageToken")

// EncodeToken serialises a typed cursor into a base64 URL-safe page token.
// The cursor type must round-trip through JSON so typed fields (notably
// timestamps) survive decoding with their original Go types.
func EncodeToken[T any](cursor T) (string, error) {
	data, err := json.Marshal(cursor)
	if err != nil {
		return "", fmt.Errorf("pagination: encode token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// DecodeToken parses a page token back into the typed cursor it was encoded
// from. An empty token yields the zero cursor.
func DecodeToken[T any](token string) (T, error) {
	var cursor T
	token = strings.TrimSpace(token)
	if token == "" {
		return cursor, nil
	}
	decoded, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return cursor, fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	if err := json.Unmarshal(decoded, &cursor); err != nil {
		return cursor, fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	return cursor, nil
}
