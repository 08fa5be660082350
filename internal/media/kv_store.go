package media

import (
	"context"

	"github.com/botforge/botforge/internal/kv"
	"github.com/botforge/botforge/internal/kv/typed"
)

const storePrefix = "telebot-constructor/media"

// KVMediaStore keeps media in the KV substrate: content under one key,
// the optional filename under another.
type KVMediaStore struct {
	content   *typed.KeyValue[[]byte]
	filenames *typed.KeyValue[string]
}

var _ Store = (*KVMediaStore)(nil)

func NewKVMediaStore(backend kv.Store) *KVMediaStore {
	return &KVMediaStore{
		content: typed.NewKeyValue[[]byte](typed.Options{
			Name:    "content",
			Prefix:  storePrefix,
			Backend: backend,
		}),
		filenames: typed.NewKeyValue[string](typed.Options{
			Name:    "filename",
			Prefix:  storePrefix,
			Backend: backend,
		}),
	}
}

func mediaKey(ownerID string, mediaID MediaID) string {
	return ownerID + "/" + mediaID
}

func (s *KVMediaStore) SaveMedia(ctx context.Context, ownerID string, media Media) (MediaID, error) {
	mediaID := newMediaID()
	if err := s.content.Save(ctx, mediaKey(ownerID, mediaID), media.Content); err != nil {
		return "", err
	}
	if media.Filename != nil {
		if err := s.filenames.Save(ctx, mediaKey(ownerID, mediaID), *media.Filename); err != nil {
			return "", err
		}
	}
	return mediaID, nil
}

func (s *KVMediaStore) LoadMedia(ctx context.Context, ownerID string, mediaID MediaID) (*Media, error) {
	content, ok, err := s.content.Load(ctx, mediaKey(ownerID, mediaID))
	if err != nil || !ok {
		return nil, err
	}
	media := &Media{Content: content}
	if filename, ok, err := s.filenames.Load(ctx, mediaKey(ownerID, mediaID)); err != nil {
		return nil, err
	} else if ok {
		media.Filename = &filename
	}
	return media, nil
}

func (s *KVMediaStore) DeleteMedia(ctx context.Context, ownerID string, mediaID MediaID) (bool, error) {
	deleted, err := s.content.Drop(ctx, mediaKey(ownerID, mediaID))
	if err != nil {
		return false, err
	}
	if _, err := s.filenames.Drop(ctx, mediaKey(ownerID, mediaID)); err != nil {
		return false, err
	}
	return deleted, nil
}

func (s *KVMediaStore) Setup(context.Context) error   { return nil }
func (s *KVMediaStore) Cleanup(context.Context) error { return nil }
