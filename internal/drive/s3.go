package drive

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

// S3Config carries everything needed to talk to an S3-compatible account.
type S3Config struct {
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	ForcePathStyle  bool

	// Prefix roots every key this client touches, so one bucket can host
	// several libraries.
	Prefix string
}

// S3Client maps the Client boundary onto an S3 bucket: files are objects
// keyed by their id, folders are key prefixes ending in "/".
type S3Client struct {
	api    *s3.Client
	bucket string
	prefix string
}

var _ Client = (*S3Client)(nil)

func NewS3(ctx context.Context, cfg S3Config) (*S3Client, error) {
	if cfg.Region == "" {
		return nil, errors.New("region is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("bucket is required")
	}
	if cfg.Endpoint != "" {
		if _, err := url.Parse(cfg.Endpoint); err != nil {
			return nil, err
		}
	}

	resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...any) (aws.Endpoint, error) {
		if service == s3.ServiceID && cfg.Endpoint != "" {
			return aws.Endpoint{
				URL:               cfg.Endpoint,
				SigningRegion:     cfg.Region,
				HostnameImmutable: true,
			}, nil
		}
		return aws.Endpoint{}, &aws.EndpointNotFoundError{}
	})

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")),
		awsconfig.WithEndpointResolverWithOptions(resolver),
	)
	if err != nil {
		return nil, err
	}

	api := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.ForcePathStyle
	})

	prefix := strings.Trim(cfg.Prefix, "/")
	if prefix != "" {
		prefix += "/"
	}
	return &S3Client{api: api, bucket: cfg.Bucket, prefix: prefix}, nil
}

func (c *S3Client) IsAuthenticated(ctx context.Context) bool {
	probe, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	_, err := c.api.HeadBucket(probe, &s3.HeadBucketInput{Bucket: aws.String(c.bucket)})
	return err == nil
}

func (c *S3Client) ListFiles(ctx context.Context, folderID string) ([]File, error) {
	prefix := c.prefix
	if folderID != "" {
		prefix = c.key(folderID)
		if !strings.HasSuffix(prefix, "/") {
			prefix += "/"
		}
	}

	var files []File
	paginator := s3.NewListObjectsV2Paginator(c.api, &s3.ListObjectsV2Input{
		Bucket: aws.String(c.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if strings.HasSuffix(key, "/") {
				continue // folder marker
			}
			id := strings.TrimPrefix(key, c.prefix)
			f := File{
				ID:       id,
				Name:     path.Base(id),
				Path:     id,
				FolderID: path.Dir(id),
				Size:     aws.ToInt64(obj.Size),
			}
			if f.FolderID == "." {
				f.FolderID = ""
			}
			if obj.LastModified != nil {
				f.ModifiedAt = obj.LastModified.UTC().Format(time.RFC3339Nano)
			}
			files = append(files, f)
		}
	}
	return files, nil
}

func (c *S3Client) GetFile(ctx context.Context, id string) ([]byte, error) {
	out, err := c.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(c.key(id)),
	})
	if err != nil {
		if isNoSuchKey(err) {
			return nil, ErrFileNotFound
		}
		return nil, err
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

func (c *S3Client) CreateFile(ctx context.Context, folderID, name string, data []byte, mimeType string) (File, error) {
	id := joinID(folderID, name)
	return c.put(ctx, id, bytes.NewReader(data), int64(len(data)), mimeType)
}

func (c *S3Client) UpdateFile(ctx context.Context, id string, data []byte) (File, error) {
	return c.put(ctx, id, bytes.NewReader(data), int64(len(data)), "")
}

func (c *S3Client) Upload(ctx context.Context, folderID, name string, r io.Reader, size int64, mimeType string) (File, error) {
	id := joinID(folderID, name)
	return c.put(ctx, id, r, size, mimeType)
}

func (c *S3Client) put(ctx context.Context, id string, body io.Reader, size int64, mimeType string) (File, error) {
	input := &s3.PutObjectInput{
		Bucket:        aws.String(c.bucket),
		Key:           aws.String(c.key(id)),
		Body:          body,
		ContentLength: aws.Int64(size),
	}
	if mimeType != "" {
		input.ContentType = aws.String(mimeType)
	}
	if _, err := c.api.PutObject(ctx, input); err != nil {
		return File{}, err
	}
	f := File{
		ID:         id,
		Name:       path.Base(id),
		Path:       id,
		FolderID:   path.Dir(id),
		Size:       size,
		MimeType:   mimeType,
		ModifiedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
	if f.FolderID == "." {
		f.FolderID = ""
	}
	return f, nil
}

func (c *S3Client) DeleteFile(ctx context.Context, id string) error {
	_, err := c.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(c.key(id)),
	})
	return err
}

// EnsureFolder writes a zero-byte marker object so the prefix shows up in
// bucket listings; the folder id is the cleaned path itself.
func (c *S3Client) EnsureFolder(ctx context.Context, folderPath string) (string, error) {
	id := strings.Trim(folderPath, "/")
	if id == "" {
		return "", nil
	}
	_, err := c.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(c.bucket),
		Key:           aws.String(c.key(id) + "/"),
		Body:          bytes.NewReader(nil),
		ContentLength: aws.Int64(0),
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

func (c *S3Client) key(id string) string {
	return c.prefix + strings.TrimPrefix(id, "/")
}

func joinID(folderID, name string) string {
	if folderID == "" {
		return name
	}
	return strings.TrimSuffix(folderID, "/") + "/" + name
}

func isNoSuchKey(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "NoSuchKey" || code == "NotFound"
	}
	return false
}
