package media

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// pngHeader returns a PNG signature and IHDR chunk, which is all
// image.DecodeConfig reads. It avoids allocating huge test images.
func pngHeader(w, h uint32) []byte {
	var buf bytes.Buffer
	buf.WriteString("\x89PNG\r\n\x1a\n")

	ihdr := make([]byte, 13)
	binary.BigEndian.PutUint32(ihdr[0:4], w)
	binary.BigEndian.PutUint32(ihdr[4:8], h)
	ihdr[8] = 8 // bit depth
	ihdr[9] = 6 // RGBA

	chunk := append([]byte("IHDR"), ihdr...)
	_ = binary.Write(&buf, binary.BigEndian, uint32(len(ihdr)))
	buf.Write(chunk)
	_ = binary.Write(&buf, binary.BigEndian, crc32.ChecksumIEEE(chunk))
	return buf.Bytes()
}

func TestValidateImage(t *testing.T) {
	t.Run("accepts a small png", func(t *testing.T) {
		info, err := ValidateImage(encodePNG(t, 64, 32))
		require.NoError(t, err)
		assert.Equal(t, "image/png", info.ContentType)
		assert.Equal(t, 64, info.Width)
		assert.Equal(t, 32, info.Height)
	})

	t.Run("accepts exactly the pixel bound", func(t *testing.T) {
		_, err := ValidateImage(pngHeader(4096, 4096))
		assert.NoError(t, err)
	})

	tests := []struct {
		name string
		data []byte
		want string
	}{
		{"empty payload", nil, MsgNoFile},
		{"over 10MB", append(pngHeader(10, 10), make([]byte, MaxImageBytes)...), MsgFileTooLarge},
		{"not an image", []byte("%PDF-1.7 this is a document"), MsgNotAnImage},
		{"truncated image", []byte("\x89PNG\r\n\x1a\n\x00\x00"), MsgInvalidImage},
		{"5000x5000 exceeds the pixel bound", pngHeader(5000, 5000), MsgImageTooLarge},
		{"wide image over the area bound", pngHeader(8192, 2049), MsgImageTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ValidateImage(tt.data)
			var me *Error
			require.ErrorAs(t, err, &me)
			assert.Equal(t, KindValidation, me.Kind)
			assert.Equal(t, tt.want, me.Message)
		})
	}
}

func TestValidateImageURL(t *testing.T) {
	valid := []string{
		"https://cdn.example/a.png",
		"http://localhost:8080/uploads/x.png",
		"/uploads/abc-photo.png",
	}
	for _, u := range valid {
		assert.NoError(t, ValidateImageURL(u), u)
	}

	invalid := map[string]string{
		"":                   MsgImageRequired,
		"   ":                MsgImageRequired,
		"ftp://host/a.png":   MsgInvalidImageURL,
		"uploads/a.png":      MsgInvalidImageURL,
		"//evil.example/a":   MsgInvalidImageURL,
		"javascript:alert()": MsgInvalidImageURL,
	}
	for u, want := range invalid {
		err := ValidateImageURL(u)
		var me *Error
		require.ErrorAs(t, err, &me, u)
		assert.Equal(t, want, me.Message, u)
	}
}

func TestValidatePrompt(t *testing.T) {
	assert.NoError(t, ValidatePrompt("a lighthouse at dusk"))
	assert.True(t, IsValidation(ValidatePrompt("")))
	assert.True(t, IsValidation(ValidatePrompt(" \n\t")))
}

func TestClampCount(t *testing.T) {
	assert.Equal(t, DefaultCount, ClampCount(0))
	assert.Equal(t, MinCount, ClampCount(-3))
	assert.Equal(t, 3, ClampCount(3))
	assert.Equal(t, MaxCount, ClampCount(12))
}

func TestStyles(t *testing.T) {
	st, ok := ParseStyle("")
	assert.True(t, ok)
	assert.Equal(t, StyleRealistic, st)

	st, ok = ParseStyle("digital-art")
	assert.True(t, ok)
	assert.Equal(t, StyleDigitalArt, st)

	_, ok = ParseStyle("vaporwave")
	assert.False(t, ok)

	assert.Equal(t, "artistic style: a cat", ApplyStyle(StyleArtistic, "  a cat "))
	assert.Equal(t, "realistic style: a cat", ApplyStyle("", "a cat"))
	assert.Equal(t, QualityHigh, ParseQuality("high"))
	assert.Equal(t, QualityStandard, ParseQuality("ultra"))
}
