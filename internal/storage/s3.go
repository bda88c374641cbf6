package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/kebairia/cloudbackup/internal/config"
)

// objectAPI is the subset of the S3 client used by S3Backend.
type objectAPI interface {
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	CopyObject(ctx context.Context, in *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

type uploadAPI interface {
	Upload(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

type downloadAPI interface {
	Download(ctx context.Context, w io.WriterAt, in *s3.GetObjectInput, optFns ...func(*manager.Downloader)) (int64, error)
}

// s3Object is the token S3Backend stores in a RemoteFile.
type s3Object struct {
	Key  string
	ETag string
}

// S3Backend stores backups in an S3-compatible bucket.
// Supports AWS S3, MinIO, Wasabi, and other S3-compatible services.
//
// The login is the access key ID and the password the secret access key.
type S3Backend struct {
	Bucket   string
	Prefix   string
	Region   string
	Endpoint string
	UseSSL   bool

	client     objectAPI
	uploader   uploadAPI
	downloader downloadAPI
}

// NewS3Backend returns an unauthenticated S3 backend.
func NewS3Backend(cfg config.S3BackendConfig) (*S3Backend, error) {
	b := &S3Backend{
		Bucket:   cfg.Bucket,
		Prefix:   strings.Trim(cfg.Prefix, "/"),
		Region:   cfg.Region,
		Endpoint: cfg.Endpoint,
		UseSSL:   cfg.UseSSL,
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return b, nil
}

// Name returns the backend name.
func (b *S3Backend) Name() string {
	return config.BackendS3
}

// Validate checks if the configuration is valid.
func (b *S3Backend) Validate() error {
	if b.Bucket == "" {
		return fmt.Errorf("%w: s3 backend: bucket is required", ErrInvalidConfig)
	}
	return nil
}

// endpointURL returns the custom endpoint with the configured scheme, or ""
// for AWS itself.
func (b *S3Backend) endpointURL() string {
	if b.Endpoint == "" {
		return ""
	}
	scheme := "http"
	if b.UseSSL {
		scheme = "https"
	}
	endpoint := b.Endpoint
	if u, err := url.Parse(b.Endpoint); err == nil && u.Host != "" {
		endpoint = u.Host
	}
	return fmt.Sprintf("%s://%s", scheme, endpoint)
}

// Authenticate builds the S3 client from static credentials and checks that
// the bucket is reachable with them.
func (b *S3Backend) Authenticate(ctx context.Context, login, password string) error {
	if login == "" || password == "" {
		return &AuthError{Backend: b.Name(), Err: errors.New("access key id and secret access key are required")}
	}

	region := b.Region
	if region == "" {
		region = "us-east-1"
	}
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(login, password, "")),
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return &AuthError{Backend: b.Name(), Err: fmt.Errorf("load aws config: %w", err)}
	}

	clientOpts := []func(*s3.Options){}
	if endpoint := b.endpointURL(); endpoint != "" {
		clientOpts = append(clientOpts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		})
	}
	client := s3.NewFromConfig(cfg, clientOpts...)

	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(b.Bucket)}); err != nil {
		if accessDenied(err) {
			return &AuthError{Backend: b.Name(), Err: fmt.Errorf("access bucket %q: %w", b.Bucket, err)}
		}
		return &IOError{Op: "authenticate", Path: b.Bucket, Err: err}
	}

	b.client = client
	b.uploader = manager.NewUploader(client)
	b.downloader = manager.NewDownloader(client)
	return nil
}

func (b *S3Backend) ready(op, remotePath string) error {
	if b.client == nil {
		return &IOError{Op: op, Path: remotePath, Err: errors.New("s3 backend is not authenticated")}
	}
	return nil
}

// key maps a remote path to an object key under Prefix.
func (b *S3Backend) key(remotePath string) string {
	clean := strings.TrimPrefix(path.Clean("/"+filepath.ToSlash(remotePath)), "/")
	if b.Prefix == "" {
		return clean
	}
	return b.Prefix + "/" + clean
}

// folderKey is the zero-byte marker object standing for a folder.
func (b *S3Backend) folderKey(remotePath string) string {
	return b.key(remotePath) + "/"
}

func (b *S3Backend) file(remotePath, etag string) *RemoteFile {
	p := path.Clean(filepath.ToSlash(remotePath))
	dir := path.Dir(p)
	return &RemoteFile{
		Name:   path.Base(p),
		Path:   p,
		ID:     b.key(p),
		Parent: &RemoteFolder{Name: path.Base(dir), Path: dir, ID: b.folderKey(dir)},
		Token:  s3Object{Key: b.key(p), ETag: etag},
	}
}

// isNotFound reports whether err is S3's answer for a missing object.
func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}
	return false
}

// accessDenied reports whether err means S3 rejected the credentials.
func accessDenied(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "AccessDenied", "Forbidden", "InvalidAccessKeyId", "SignatureDoesNotMatch",
			"ExpiredToken", "InvalidToken":
			return true
		}
	}
	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		switch respErr.HTTPStatusCode() {
		case http.StatusUnauthorized, http.StatusForbidden:
			return true
		}
	}
	return false
}

// opError wraps a failed S3 call. Rejected credentials come back as
// *AuthError so the caller can log in again.
func (b *S3Backend) opError(op, remotePath string, err error) error {
	if accessDenied(err) {
		return &AuthError{Backend: b.Name(), Err: fmt.Errorf("%s %s: %w", op, remotePath, err)}
	}
	return &IOError{Op: op, Path: remotePath, Err: err}
}

// copySource builds the URL-encoded bucket/key value CopyObject expects.
func copySource(bucket, key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return bucket + "/" + strings.Join(parts, "/")
}

// Locate heads the object at remotePath.
func (b *S3Backend) Locate(ctx context.Context, remotePath string) (*RemoteFile, bool, error) {
	if err := b.ready("locate", remotePath); err != nil {
		return nil, false, err
	}
	out, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.Bucket),
		Key:    aws.String(b.key(remotePath)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, false, nil
		}
		return nil, false, b.opError("locate", remotePath, err)
	}
	return b.file(remotePath, aws.ToString(out.ETag)), true, nil
}

// CreateFolderIfAbsent writes a folder marker object unless it exists.
func (b *S3Backend) CreateFolderIfAbsent(ctx context.Context, remotePath string) (*RemoteFolder, error) {
	if err := b.ready("create folder", remotePath); err != nil {
		return nil, err
	}
	p := path.Clean(filepath.ToSlash(remotePath))
	folder := &RemoteFolder{Name: path.Base(p), Path: p, ID: b.folderKey(p)}

	_, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.Bucket),
		Key:    aws.String(folder.ID),
	})
	if err == nil {
		return folder, nil
	}
	if !isNotFound(err) {
		return nil, b.opError("create folder", remotePath, err)
	}

	if _, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.Bucket),
		Key:    aws.String(folder.ID),
		Body:   bytes.NewReader(nil),
	}); err != nil {
		return nil, b.opError("create folder", remotePath, err)
	}
	return folder, nil
}

// Upload streams localFilePath to remoteDirPath/<base name>. S3 only makes an
// object visible once the upload completed.
func (b *S3Backend) Upload(ctx context.Context, localFilePath, remoteDirPath string) (*RemoteFile, error) {
	remotePath := path.Join(filepath.ToSlash(remoteDirPath), filepath.Base(localFilePath))
	if err := b.ready("upload", remotePath); err != nil {
		return nil, err
	}

	f, err := os.Open(localFilePath)
	if err != nil {
		return nil, &IOError{Op: "upload", Path: remotePath, Err: err}
	}
	defer f.Close()

	out, err := b.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.Bucket),
		Key:    aws.String(b.key(remotePath)),
		Body:   f,
	})
	if err != nil {
		return nil, b.opError("upload", remotePath, err)
	}
	return b.file(remotePath, aws.ToString(out.ETag)), nil
}

// Rename copies the object to its new key and deletes the old one.
func (b *S3Backend) Rename(ctx context.Context, file *RemoteFile, newName string) error {
	if err := b.ready("rename", file.Path); err != nil {
		return err
	}
	obj, ok := file.Token.(s3Object)
	if !ok {
		return &IOError{Op: "rename", Path: file.Path, Err: errors.New("file handle does not belong to the s3 backend")}
	}
	if strings.Contains(newName, "/") {
		return &IOError{Op: "rename", Path: file.Path, Err: fmt.Errorf("invalid name %q", newName)}
	}

	target := renamed(file, newName)
	out, err := b.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(b.Bucket),
		CopySource: aws.String(copySource(b.Bucket, obj.Key)),
		Key:        aws.String(b.key(target)),
	})
	if err != nil {
		return b.opError("rename", file.Path, err)
	}
	if _, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.Bucket),
		Key:    aws.String(obj.Key),
	}); err != nil {
		return b.opError("rename", file.Path, fmt.Errorf("delete source after copy: %w", err))
	}

	etag := obj.ETag
	if out.CopyObjectResult != nil && out.CopyObjectResult.ETag != nil {
		etag = *out.CopyObjectResult.ETag
	}
	*file = *b.file(target, etag)
	return nil
}

// Remove deletes the object.
func (b *S3Backend) Remove(ctx context.Context, file *RemoteFile) error {
	if err := b.ready("remove", file.Path); err != nil {
		return err
	}
	obj, ok := file.Token.(s3Object)
	if !ok {
		return &IOError{Op: "remove", Path: file.Path, Err: errors.New("file handle does not belong to the s3 backend")}
	}
	if _, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.Bucket),
		Key:    aws.String(obj.Key),
	}); err != nil {
		return b.opError("remove", file.Path, err)
	}
	return nil
}

// Download fetches the object into localOutputDir/<name>.
func (b *S3Backend) Download(ctx context.Context, file *RemoteFile, localOutputDir string) (err error) {
	if err := b.ready("download", file.Path); err != nil {
		return err
	}
	obj, ok := file.Token.(s3Object)
	if !ok {
		return &IOError{Op: "download", Path: file.Path, Err: errors.New("file handle does not belong to the s3 backend")}
	}
	if err := os.MkdirAll(localOutputDir, 0o755); err != nil {
		return &IOError{Op: "download", Path: file.Path, Err: err}
	}

	dst := filepath.Join(localOutputDir, file.Name)
	part := dst + ".part"
	f, err := os.Create(part)
	if err != nil {
		return &IOError{Op: "download", Path: file.Path, Err: err}
	}
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(part)
		}
	}()

	if _, err = b.downloader.Download(ctx, f, &s3.GetObjectInput{
		Bucket: aws.String(b.Bucket),
		Key:    aws.String(obj.Key),
	}); err != nil {
		return b.opError("download", file.Path, err)
	}
	if err = f.Close(); err != nil {
		return &IOError{Op: "download", Path: file.Path, Err: err}
	}
	if err = os.Rename(part, dst); err != nil {
		return &IOError{Op: "download", Path: file.Path, Err: err}
	}
	return nil
}
