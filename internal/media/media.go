// Package media stores per-owner binary blobs (images and other
// attachments referenced from bot configs) addressable by opaque ids.
package media

import (
	"context"
	"errors"
	"mime"
	"path/filepath"

	"github.com/google/uuid"
)

// Media is one stored blob. The filename is optional and only used to
// derive a content type and to echo back on download.
type Media struct {
	Content  []byte  `json:"content"`
	Filename *string `json:"filename"`
}

// ContentType guesses the mime type from the filename extension; empty
// when there is no filename or the extension is unknown.
func (m Media) ContentType() string {
	if m.Filename == nil {
		return ""
	}
	return mime.TypeByExtension(filepath.Ext(*m.Filename))
}

type MediaID = string

// ErrNotSetup is returned when a store with an owned client handle is used
// before Setup. This is a programmer error, not a user-facing condition.
var ErrNotSetup = errors.New("media store used before setup")

// Store is the polymorphic media storage interface.
type Store interface {
	SaveMedia(ctx context.Context, ownerID string, media Media) (MediaID, error)
	LoadMedia(ctx context.Context, ownerID string, mediaID MediaID) (*Media, error)
	// DeleteMedia reports false when the id did not exist.
	DeleteMedia(ctx context.Context, ownerID string, mediaID MediaID) (bool, error)
	Setup(ctx context.Context) error
	Cleanup(ctx context.Context) error
}

func newMediaID() MediaID {
	return uuid.NewString()
}
