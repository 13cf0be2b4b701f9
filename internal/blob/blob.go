package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/joshp123/tpanel/internal/config"
)

var ErrBlobNotFound = errors.New("state snapshot not found")

// Store holds one encoded snapshot per panel.
type Store interface {
	Load(ctx context.Context, panel string) ([]byte, error)
	Save(ctx context.Context, panel string, data []byte) error
}

// S3Store keeps snapshots in an S3-compatible bucket, one object per panel
// under prefix.
type S3Store struct {
	client *minio.Client
	bucket string
	prefix string
}

func NewS3Store(cfg *config.StateStoreConfig) (*S3Store, error) {
	if cfg == nil {
		return nil, fmt.Errorf("missing state_store config")
	}
	if cfg.Endpoint == "" || cfg.Bucket == "" || cfg.AccessKeyFile == "" || cfg.SecretKeyFile == "" {
		return nil, fmt.Errorf("state_store needs endpoint, bucket and key files")
	}

	accessKey, err := config.ReadSecretFile(cfg.AccessKeyFile)
	if err != nil {
		return nil, fmt.Errorf("read state_store access key: %w", err)
	}
	secretKey, err := config.ReadSecretFile(cfg.SecretKeyFile)
	if err != nil {
		return nil, fmt.Errorf("read state_store secret key: %w", err)
	}

	host, secure, err := parseEndpoint(strings.TrimSpace(cfg.Endpoint))
	if err != nil {
		return nil, err
	}
	client, err := minio.New(host, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init s3 client: %w", err)
	}

	prefix := strings.Trim(cfg.Prefix, "/")
	if prefix == "" {
		prefix = config.DefaultStatePrefix
	}
	return &S3Store{client: client, bucket: cfg.Bucket, prefix: prefix}, nil
}

// Check verifies the bucket exists and the credentials can see it.
func (s *S3Store) Check(ctx context.Context) error {
	ok, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if !ok {
		return fmt.Errorf("bucket %s does not exist", s.bucket)
	}
	return nil
}

func (s *S3Store) Load(ctx context.Context, panel string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, Key(s.prefix, panel), minio.GetObjectOptions{})
	if err != nil {
		return nil, notFound(err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, notFound(err)
	}
	return data, nil
}

func (s *S3Store) Save(ctx context.Context, panel string, data []byte) error {
	_, err := s.client.PutObject(ctx, s.bucket, Key(s.prefix, panel), bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType:  "application/json",
		UserMetadata: map[string]string{"panel": panel},
	})
	if err != nil {
		return fmt.Errorf("put %s snapshot: %w", panel, err)
	}
	return nil
}

// Key is the object key of a panel's snapshot. Panel names are reduced to
// their node id so spaces or slashes never leak into the key.
func Key(prefix, panel string) string {
	return path.Join(prefix, config.NodeID(panel)+".json")
}

func notFound(err error) error {
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return ErrBlobNotFound
	}
	return err
}

// parseEndpoint accepts a bare host (TLS) or an http/https URL.
func parseEndpoint(raw string) (string, bool, error) {
	if !strings.Contains(raw, "://") {
		return raw, true, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", false, fmt.Errorf("parse endpoint: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", false, fmt.Errorf("endpoint %q: unsupported scheme %s", raw, u.Scheme)
	}
	if u.Host == "" {
		return "", false, fmt.Errorf("invalid endpoint: %q", raw)
	}
	return u.Host, u.Scheme == "https", nil
}
