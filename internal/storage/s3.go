package storage

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/pbkdf2"
)

// gcmMagic prefixes password-protected objects.
// Layout: magic(8) + salt(16) + nonce(12) + ciphertext+tag.
const gcmMagic = "GCM3NCR0"

// Options configures the S3 client.
type Options struct {
	Region    string
	AccessKey string
	SecretKey string
}

// Client wraps the AWS S3 client for document download and result upload.
type Client struct {
	s3       *s3.Client
	uploader *manager.Uploader
}

// New creates an S3 client from the default AWS chain, optionally with
// static credentials and an explicit region.
func New(ctx context.Context, opts Options) (*Client, error) {
	var loadOpts []func(*awscfg.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awscfg.WithRegion(opts.Region))
	}
	if opts.AccessKey != "" && opts.SecretKey != "" {
		loadOpts = append(loadOpts, awscfg.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, ""),
		))
	}

	cfg, err := awscfg.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	cli := s3.NewFromConfig(cfg)
	return &Client{s3: cli, uploader: manager.NewUploader(cli)}, nil
}

// ParseURI splits s3://bucket/key.
func ParseURI(uri string) (bucket, key string, err error) {
	path := strings.TrimPrefix(uri, "s3://")
	slash := strings.Index(path, "/")
	if slash <= 0 || slash == len(path)-1 {
		return "", "", fmt.Errorf("invalid s3 uri: %s", uri)
	}
	return path[:slash], path[slash+1:], nil
}

// DownloadToTemp fetches an object to a temp file, decrypting it when a
// password is given. The caller removes the returned file.
func (c *Client) DownloadToTemp(ctx context.Context, uri, password string) (string, error) {
	bucket, key, err := ParseURI(uri)
	if err != nil {
		return "", err
	}

	out, err := c.s3.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	if err != nil {
		return "", fmt.Errorf("download s3://%s/%s: %w", bucket, key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return "", fmt.Errorf("read s3 object: %w", err)
	}

	if password != "" {
		data, err = decryptGCM(data, password)
		if err != nil {
			return "", fmt.Errorf("decrypt s3://%s/%s: %w", bucket, key, err)
		}
	}

	// Keep the original extension so downstream type detection and page
	// counting behave.
	f, err := os.CreateTemp("", "docbatch-*"+filepath.Ext(key))
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		os.Remove(f.Name())
		return "", err
	}

	log.Info().
		Str("bucket", bucket).
		Str("key", key).
		Int("size", len(data)).
		Str("file", filepath.Base(f.Name())).
		Msg("downloaded document from S3")
	return f.Name(), nil
}

// UploadJSON writes a merged result document under the given URI.
func (c *Client) UploadJSON(ctx context.Context, uri string, body []byte) error {
	bucket, key, err := ParseURI(uri)
	if err != nil {
		return err
	}

	_, err = c.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("upload s3://%s/%s: %w", bucket, key, err)
	}

	log.Info().Str("bucket", bucket).Str("key", key).Int("size", len(body)).Msg("uploaded merged result to S3")
	return nil
}

// decryptGCM opens a password-protected object.
func decryptGCM(data []byte, password string) ([]byte, error) {
	if len(data) < 8+16+12+16 || string(data[:8]) != gcmMagic {
		return nil, fmt.Errorf("object is not in the expected encrypted format")
	}

	salt := data[8:24]
	nonce := data[24:36]
	ciphertext := data[36:]

	key := pbkdf2.Key([]byte(password), salt, 100000, 32, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decryption failed: %w", err)
	}
	return plaintext, nil
}
