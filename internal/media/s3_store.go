package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"
)

// S3Credentials is the JSON shape of the MEDIA_STORE_AWS_S3_CREDENTIALS
// environment option.
type S3Credentials struct {
	AccessKeyID     string `json:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key"`
	Region          string `json:"region"`
	Bucket          string `json:"bucket"`
	// Endpoint defaults to AWS S3 and allows any S3-compatible server.
	Endpoint string `json:"endpoint,omitempty"`
}

func ParseS3Credentials(raw string) (*S3Credentials, error) {
	var creds S3Credentials
	if err := json.Unmarshal([]byte(raw), &creds); err != nil {
		return nil, fmt.Errorf("invalid S3 credentials JSON: %w", err)
	}
	return &creds, nil
}

// S3MediaStore keeps media in an S3-compatible object store under
// "{owner}/{media_id}" keys, with the filename in object metadata. The
// client handle is owned by the store: Setup opens it, Cleanup releases
// it, and any use in between is an error.
type S3MediaStore struct {
	creds  S3Credentials
	client *minio.Client
	log    zerolog.Logger
}

var _ Store = (*S3MediaStore)(nil)

func NewS3MediaStore(creds S3Credentials, log zerolog.Logger) *S3MediaStore {
	return &S3MediaStore{creds: creds, log: log}
}

func (s *S3MediaStore) Setup(context.Context) error {
	endpoint := s.creds.Endpoint
	if endpoint == "" {
		endpoint = "s3.amazonaws.com"
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(s.creds.AccessKeyID, s.creds.SecretAccessKey, ""),
		Secure: true,
		Region: s.creds.Region,
	})
	if err != nil {
		return fmt.Errorf("creating S3 client: %w", err)
	}
	s.client = client
	return nil
}

func (s *S3MediaStore) Cleanup(context.Context) error {
	s.client = nil
	return nil
}

func (s *S3MediaStore) objectName(ownerID string, mediaID MediaID) string {
	return ownerID + "/" + mediaID
}

func (s *S3MediaStore) SaveMedia(ctx context.Context, ownerID string, media Media) (MediaID, error) {
	if s.client == nil {
		return "", ErrNotSetup
	}
	mediaID := newMediaID()
	opts := minio.PutObjectOptions{}
	if ct := media.ContentType(); ct != "" {
		opts.ContentType = ct
	}
	if media.Filename != nil {
		opts.UserMetadata = map[string]string{"filename": *media.Filename}
	}
	_, err := s.client.PutObject(
		ctx,
		s.creds.Bucket,
		s.objectName(ownerID, mediaID),
		bytes.NewReader(media.Content),
		int64(len(media.Content)),
		opts,
	)
	if err != nil {
		s.log.Error().Err(err).Msg("error putting object in S3 bucket")
		return "", err
	}
	return mediaID, nil
}

func (s *S3MediaStore) LoadMedia(ctx context.Context, ownerID string, mediaID MediaID) (*Media, error) {
	if s.client == nil {
		return nil, ErrNotSetup
	}
	name := s.objectName(ownerID, mediaID)
	obj, err := s.client.GetObject(ctx, s.creds.Bucket, name, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer obj.Close()
	info, err := obj.Stat()
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, nil
		}
		s.log.Error().Err(err).Msg("unexpected error getting an object from S3")
		return nil, err
	}
	content, err := io.ReadAll(obj)
	if err != nil {
		return nil, err
	}
	media := &Media{Content: content}
	if filename, ok := info.UserMetadata["Filename"]; ok && filename != "" {
		media.Filename = &filename
	}
	return media, nil
}

func (s *S3MediaStore) DeleteMedia(ctx context.Context, ownerID string, mediaID MediaID) (bool, error) {
	if s.client == nil {
		return false, ErrNotSetup
	}
	name := s.objectName(ownerID, mediaID)
	if _, err := s.client.StatObject(ctx, s.creds.Bucket, name, minio.StatObjectOptions{}); err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return false, nil
		}
		return false, err
	}
	if err := s.client.RemoveObject(ctx, s.creds.Bucket, name, minio.RemoveObjectOptions{}); err != nil {
		return false, err
	}
	return true, nil
}
