package storage

import (
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"

	"github.com/pixora-labs/pixora/internal/config"
)

func TestWrapS3Error(t *testing.T) {
	assert.ErrorIs(t, wrapS3Error(&types.NoSuchKey{}), ErrNotFound)
	assert.ErrorIs(t, wrapS3Error(&types.NotFound{}), ErrNotFound)
	assert.ErrorIs(t, wrapS3Error(&smithy.GenericAPIError{Code: "AccessDenied"}), ErrAccessDenied)

	other := errors.New("connection reset")
	err := wrapS3Error(other)
	assert.ErrorIs(t, err, other)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestNewS3Storage(t *testing.T) {
	_, err := NewS3Storage(config.StorageConfig{Provider: ProviderS3})
	assert.Error(t, err, "a bucket is required")

	s, err := NewS3Storage(config.StorageConfig{
		Provider:        ProviderS3,
		Bucket:          "pixora",
		Endpoint:        "http://localhost:9000",
		AccessKeyID:     "key",
		SecretAccessKey: "secret",
		PublicURL:       "https://media.pixora.example/",
	})
	assert.NoError(t, err)
	assert.Equal(t, "https://media.pixora.example", s.publicURL)
}

func TestNewSelectsBackend(t *testing.T) {
	s, err := New(config.StorageConfig{Provider: ProviderLocal, BasePath: t.TempDir()})
	assert.NoError(t, err)
	assert.IsType(t, &LocalStorage{}, s)

	_, err = New(config.StorageConfig{Provider: "ftp"})
	assert.Error(t, err)
}
