package config

import (
	"fmt"

	"github.com/rivetlabs/rivet/storage"
)

// NewBackend constructs the storage backend the configuration selects.
func (c *Config) NewBackend() (storage.Backend, error) {
	switch c.StorageKind {
	case "filesystem":
		return storage.NewFilesystem(c.StorageRoot, c.BaseURL), nil
	case "s3":
		return storage.NewS3(storage.S3Options{
			Endpoint:  c.S3Endpoint,
			AccessKey: c.S3AccessKey,
			SecretKey: c.S3SecretKey,
			Bucket:    c.S3Bucket,
			Region:    c.S3Region,
			UseSSL:    c.S3UseSSL,
			URLTTL:    c.SignedURLTTL,
		})
	case "memory":
		return storage.NewMemory(), nil
	default:
		return nil, fmt.Errorf("config: unknown storage kind %q", c.StorageKind)
	}
}
