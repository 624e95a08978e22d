package media

import (
	"bytes"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"net/http"
	"net/url"
	"strings"

	_ "golang.org/x/image/webp"
)

// Upload limits.
const (
	MaxImageBytes  = 10 << 20
	MaxImagePixels = 4096 * 4096
)

// User-facing validation messages.
const (
	MsgPromptRequired  = "Prompt is required"
	MsgImageRequired   = "Image URL is required"
	MsgNoFile          = "No file uploaded"
	MsgFileTooLarge    = "File size must be less than 10MB"
	MsgNotAnImage      = "Please upload an image file"
	MsgImageTooLarge   = "Image dimensions too large. Maximum size is 4096x4096 pixels"
	MsgInvalidImage    = "Invalid image file"
	MsgInvalidImageURL = "Image URL must be an absolute http(s) URL or an uploaded image path"
	MsgInvalidStyle    = "Unsupported style"
)

// ImageInfo describes an accepted upload.
type ImageInfo struct {
	ContentType string
	Width       int
	Height      int
	Size        int
}

// ValidatePrompt rejects an empty or whitespace-only prompt.
func ValidatePrompt(prompt string) error {
	if strings.TrimSpace(prompt) == "" {
		return NewValidationError("generate", MsgPromptRequired)
	}
	return nil
}

// ValidateImage checks an upscale payload: byte size first, then the sniffed
// content type, then the decoded header and its pixel area.
func ValidateImage(data []byte) (ImageInfo, error) {
	if len(data) == 0 {
		return ImageInfo{}, NewValidationError("upscale", MsgNoFile)
	}
	if len(data) > MaxImageBytes {
		return ImageInfo{}, NewValidationError("upscale", MsgFileTooLarge)
	}

	contentType := http.DetectContentType(data)
	if !strings.HasPrefix(contentType, "image/") {
		return ImageInfo{}, NewValidationError("upscale", MsgNotAnImage)
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil || cfg.Width <= 0 || cfg.Height <= 0 {
		return ImageInfo{}, NewValidationError("upscale", MsgInvalidImage)
	}
	if cfg.Width*cfg.Height > MaxImagePixels {
		return ImageInfo{}, NewValidationError("upscale", MsgImageTooLarge)
	}

	return ImageInfo{
		ContentType: contentType,
		Width:       cfg.Width,
		Height:      cfg.Height,
		Size:        len(data),
	}, nil
}

// ValidateImageURL accepts an absolute http(s) URL or a site-relative path
// such as the ones returned by the upload endpoint.
func ValidateImageURL(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return NewValidationError("upscale", MsgImageRequired)
	}

	u, err := url.Parse(raw)
	if err != nil {
		return NewValidationError("upscale", MsgInvalidImageURL)
	}
	if u.Scheme == "" && strings.HasPrefix(u.Path, "/") && u.Host == "" {
		return nil
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return NewValidationError("upscale", MsgInvalidImageURL)
	}
	return nil
}
