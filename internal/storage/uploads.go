package storage

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"log/slog"
	"path"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"

	"github.com/pixora-labs/pixora/internal/media"
	"github.com/pixora-labs/pixora/internal/metrics"
)

const (
	UploadPrefix  = "uploads/"
	ThumbPrefix   = "uploads/thumbs/"
	ThumbSize     = 256
	thumbQuality  = 85
	maxNameLength = 64
	fallbackName  = "image"
)

// Upload describes an image accepted by Uploads.Store.
type Upload struct {
	ID           string `json:"id"`
	Key          string `json:"key"`
	URL          string `json:"url"`
	ThumbnailURL string `json:"thumbnailUrl"`
	ContentType  string `json:"contentType"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	Size         int    `json:"size"`
}

// Uploads validates user images and writes them, with a thumbnail, to a
// Storage backend.
type Uploads struct {
	store      Storage
	publicBase string
}

// NewUploads creates an upload service. publicBase is prefixed to
// site-relative URLs so the provider can fetch them.
func NewUploads(store Storage, publicBase string) *Uploads {
	return &Uploads{store: store, publicBase: strings.TrimSuffix(publicBase, "/")}
}

// Store validates data with the upscale image rules, stores it and writes a
// JPEG thumbnail. If the thumbnail cannot be written the original is removed.
func (u *Uploads) Store(ctx context.Context, filename string, data []byte) (*Upload, error) {
	info, err := media.ValidateImage(data)
	if err != nil {
		metrics.UploadsTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}

	id := uuid.New().String()
	key := UploadPrefix + id + "-" + sanitizeName(filename)
	thumbKey := ThumbPrefix + id + ".jpg"

	err = u.store.Put(ctx, key, bytes.NewReader(data), PutOptions{
		ContentType: info.ContentType,
		MaxSize:     media.MaxImageBytes,
		Public:      true,
	})
	if err != nil {
		metrics.UploadsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("storing upload: %w", err)
	}

	if err := u.storeThumbnail(ctx, thumbKey, data); err != nil {
		if delErr := u.store.Delete(ctx, key); delErr != nil {
			slog.Warn("storage: removing orphaned upload failed", "key", key, "error", delErr)
		}
		metrics.UploadsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("storing thumbnail: %w", err)
	}

	url, err := u.store.URL(ctx, key, 0)
	if err != nil {
		return nil, err
	}
	thumbURL, err := u.store.URL(ctx, thumbKey, 0)
	if err != nil {
		return nil, err
	}

	metrics.UploadsTotal.WithLabelValues("stored").Inc()
	slog.Info("storage: upload stored", "key", key, "width", info.Width, "height", info.Height, "size", len(data))

	return &Upload{
		ID:           id,
		Key:          key,
		URL:          url,
		ThumbnailURL: thumbURL,
		ContentType:  info.ContentType,
		Width:        info.Width,
		Height:       info.Height,
		Size:         len(data),
	}, nil
}

func (u *Uploads) storeThumbnail(ctx context.Context, key string, data []byte) error {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("decoding image: %w", err)
	}

	thumb := imaging.Fit(img, ThumbSize, ThumbSize, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumb, imaging.JPEG, imaging.JPEGQuality(thumbQuality)); err != nil {
		return fmt.Errorf("encoding thumbnail: %w", err)
	}

	return u.store.Put(ctx, key, &buf, PutOptions{ContentType: "image/jpeg", Overwrite: true, Public: true})
}

// Resolve turns a site-relative URL such as "/uploads/x.png" into an
// absolute one. Absolute URLs are returned unchanged.
func (u *Uploads) Resolve(raw string) string {
	if strings.HasPrefix(raw, "/") && !strings.HasPrefix(raw, "//") && u.publicBase != "" {
		return u.publicBase + raw
	}
	return raw
}

// sanitizeName keeps the base name's safe characters.
func sanitizeName(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}

	out := strings.Trim(b.String(), ".-")
	if len(out) > maxNameLength {
		out = out[len(out)-maxNameLength:]
	}
	if out == "" {
		return fallbackName
	}
	return out
}
