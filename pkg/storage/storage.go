package storage

import (
	"context"
	"errors"
	"net/url"
	"strings"
)

// ErrObjectNotFound is returned when a delete targets a key the store does not have.
var ErrObjectNotFound = errors.New("storage object not found")

// ObjectStore is the slice of blob storage the media pipeline uses.
type ObjectStore interface {
	DeleteObject(ctx context.Context, key string) error
	PublicURL(key string) string
	Ping(ctx context.Context) error
}

// JoinURL appends an object key to a base URL, escaping each path segment.
func JoinURL(base, key string) string {
	base = strings.TrimRight(base, "/")
	segments := strings.Split(strings.TrimLeft(key, "/"), "/")
	for i, segment := range segments {
		segments[i] = url.PathEscape(segment)
	}
	return base + "/" + strings.Join(segments, "/")
}
