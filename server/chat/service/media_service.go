package service

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"path/filepath"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/go-resty/resty/v2"
	"github.com/minio/minio-go/v7"

	commonlog "crm_server/server/common/log"
)

// MediaService archives inbound media and contact avatars into the object
// store. The gateway's media URLs expire; the archived copy is ours.
type MediaService struct {
	store    *minio.Client
	bucket   string
	fetcher  *resty.Client
	contacts contactStore
}

func NewMediaService(store *minio.Client, bucket string, contacts contactStore) *MediaService {
	return &MediaService{
		store:    store,
		bucket:   bucket,
		fetcher:  resty.New().SetTimeout(15 * time.Second),
		contacts: contacts,
	}
}

func (s *MediaService) ArchiveMedia(ctx context.Context, chatID, mediaURL, mediaType string) (string, error) {
	data, contentType, err := s.fetch(ctx, mediaURL)
	if err != nil {
		return "", err
	}
	if mediaType == "" {
		mediaType = contentType
	}

	objectKey := fmt.Sprintf("chats/%s/%s%s", chatID, newJobID(), extensionFor(mediaType))
	reader := bytes.NewReader(data)
	if _, err := s.store.PutObject(ctx, s.bucket, objectKey, reader, int64(reader.Len()), minio.PutObjectOptions{ContentType: mediaType}); err != nil {
		return "", fmt.Errorf("archive media: %w", err)
	}

	if strings.HasPrefix(mediaType, "image/") {
		if err := s.putThumbnail(ctx, objectKey, data); err != nil {
			commonlog.Warnf("event=media action=thumbnail status=failed object_key=%s error=%v", objectKey, err)
		}
	}
	return objectKey, nil
}

func (s *MediaService) ArchiveAvatar(ctx context.Context, contactID, pictureURL string) (string, error) {
	data, _, err := s.fetch(ctx, pictureURL)
	if err != nil {
		return "", err
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("decode avatar: %w", err)
	}

	thumb := imaging.Thumbnail(img, 160, 160, imaging.Lanczos)
	buf := bytes.NewBuffer(nil)
	if err := imaging.Encode(buf, thumb, imaging.JPEG); err != nil {
		return "", fmt.Errorf("encode avatar: %w", err)
	}

	objectKey := fmt.Sprintf("avatars/%s.jpg", contactID)
	reader := bytes.NewReader(buf.Bytes())
	if _, err := s.store.PutObject(ctx, s.bucket, objectKey, reader, int64(reader.Len()), minio.PutObjectOptions{ContentType: "image/jpeg"}); err != nil {
		return "", fmt.Errorf("archive avatar: %w", err)
	}
	if err := s.contacts.UpdateProfile(ctx, contactID, "", objectKey); err != nil {
		return "", err
	}
	return objectKey, nil
}

func (s *MediaService) putThumbnail(ctx context.Context, objectKey string, data []byte) error {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return err
	}
	thumb := imaging.Thumbnail(img, 320, 320, imaging.Lanczos)
	buf := bytes.NewBuffer(nil)
	if err := imaging.Encode(buf, thumb, imaging.JPEG); err != nil {
		return err
	}
	thumbKey := strings.TrimSuffix(objectKey, filepath.Ext(objectKey)) + "_thumb.jpg"
	reader := bytes.NewReader(buf.Bytes())
	_, err = s.store.PutObject(ctx, s.bucket, thumbKey, reader, int64(reader.Len()), minio.PutObjectOptions{ContentType: "image/jpeg"})
	return err
}

func (s *MediaService) fetch(ctx context.Context, url string) ([]byte, string, error) {
	resp, err := s.fetcher.R().SetContext(ctx).Get(url)
	if err != nil {
		return nil, "", fmt.Errorf("fetch media: %w", err)
	}
	if resp.IsError() {
		return nil, "", fmt.Errorf("fetch media: status %d", resp.StatusCode())
	}
	return resp.Body(), resp.Header().Get("Content-Type"), nil
}

func extensionFor(mediaType string) string {
	switch {
	case strings.HasPrefix(mediaType, "image/jpeg"):
		return ".jpg"
	case strings.HasPrefix(mediaType, "image/png"):
		return ".png"
	case strings.HasPrefix(mediaType, "image/"):
		return ".img"
	case strings.HasPrefix(mediaType, "audio/"):
		return ".ogg"
	case strings.HasPrefix(mediaType, "video/"):
		return ".mp4"
	case strings.HasPrefix(mediaType, "application/pdf"):
		return ".pdf"
	default:
		return ".bin"
	}
}
