// Package blob stores user avatars and export archives in S3-compatible
// object storage.
package blob

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/appmantle/appmantle/pkg/config"
)

var tracer = otel.Tracer("appmantle/blob")

// ErrNotFound indicates the requested object does not exist.
var ErrNotFound = errors.New("blob: object not found")

// Store is the object storage surface the services need.
type Store interface {
	PutAvatar(ctx context.Context, userID int64, content []byte, contentType string) (string, error)
	GetAvatar(ctx context.Context, userID int64) (io.ReadCloser, error)
	DeleteAvatar(ctx context.Context, userID int64) error
	AvatarURL(userID int64) string
	PutArchivePart(ctx context.Context, userID int64, name string, content []byte) (string, error)
	DeleteUserObjects(ctx context.Context, userID int64) error
}

// S3Store implements Store on an S3-compatible backend.
type S3Store struct {
	client   *s3.Client
	presign  *s3.PresignClient
	bucket   string
	endpoint string
	region   string
}

// NewS3Store creates the client. Static credentials take precedence; with
// none configured the default AWS credential chain applies.
func NewS3Store(ctx context.Context, cfg config.S3Config) (*S3Store, error) {
	var awsCfg aws.Config
	var err error

	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(cfg.Region),
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				cfg.AccessKey, cfg.SecretKey, "")),
		)
	} else {
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(cfg.Region),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		if cfg.UsePathStyle {
			o.UsePathStyle = true
		}
	})

	return &S3Store{
		client:   client,
		presign:  s3.NewPresignClient(client),
		bucket:   cfg.Bucket,
		endpoint: cfg.Endpoint,
		region:   cfg.Region,
	}, nil
}

func avatarKey(userID int64) string {
	return fmt.Sprintf("avatars/%d", userID)
}

func archivePartKey(userID int64, name string) string {
	return fmt.Sprintf("exports/%d/%s", userID, name)
}

// PutAvatar uploads a user's avatar and returns its content hash, which
// callers persist as the avatar etag.
func (s *S3Store) PutAvatar(ctx context.Context, userID int64, content []byte, contentType string) (string, error) {
	ctx, span := tracer.Start(ctx, "S3.PutAvatar",
		trace.WithAttributes(
			attribute.String("s3.bucket", s.bucket),
			attribute.Int64("user.id", userID),
			attribute.Int("content.size", len(content)),
		),
	)
	defer span.End()

	hash := sha256.Sum256(content)
	etag := hex.EncodeToString(hash[:])

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(avatarKey(userID)),
		Body:        bytes.NewReader(content),
		ContentType: aws.String(contentType),
		Metadata: map[string]string{
			"checksum-sha256": etag,
		},
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to upload avatar")
		return "", fmt.Errorf("failed to upload avatar: %w", err)
	}

	span.SetStatus(codes.Ok, "avatar uploaded")
	return etag, nil
}

// GetAvatar streams a user's avatar.
func (s *S3Store) GetAvatar(ctx context.Context, userID int64) (io.ReadCloser, error) {
	ctx, span := tracer.Start(ctx, "S3.GetAvatar",
		trace.WithAttributes(
			attribute.String("s3.bucket", s.bucket),
			attribute.Int64("user.id", userID),
		),
	)
	defer span.End()

	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(avatarKey(userID)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to get avatar")
		return nil, fmt.Errorf("failed to get avatar: %w", err)
	}

	span.SetStatus(codes.Ok, "avatar retrieved")
	return result.Body, nil
}

// AvatarURL returns the public URL of a user's avatar. Avatars live in a
// bucket with public reads, so no presigning is needed.
func (s *S3Store) AvatarURL(userID int64) string {
	if s.endpoint != "" {
		return fmt.Sprintf("%s/%s/%s", s.endpoint, s.bucket, avatarKey(userID))
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.region, avatarKey(userID))
}

// DeleteAvatar removes a user's avatar. Deleting an absent avatar is not
// an error.
func (s *S3Store) DeleteAvatar(ctx context.Context, userID int64) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(avatarKey(userID)),
	})
	if err != nil {
		return fmt.Errorf("failed to delete avatar: %w", err)
	}
	return nil
}

// PutArchivePart uploads one part of an export archive and returns a
// presigned download URL valid for the archive retention window.
func (s *S3Store) PutArchivePart(ctx context.Context, userID int64, name string, content []byte) (string, error) {
	ctx, span := tracer.Start(ctx, "S3.PutArchivePart",
		trace.WithAttributes(
			attribute.String("s3.bucket", s.bucket),
			attribute.Int64("user.id", userID),
			attribute.String("part.name", name),
			attribute.Int("content.size", len(content)),
		),
	)
	defer span.End()

	key := archivePartKey(userID, name)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(content),
		ContentType: aws.String("application/zip"),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to upload archive part")
		return "", fmt.Errorf("failed to upload archive part: %w", err)
	}

	presigned, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(7*24*time.Hour))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to presign archive part")
		return "", fmt.Errorf("failed to presign archive part: %w", err)
	}

	span.SetStatus(codes.Ok, "archive part uploaded")
	return presigned.URL, nil
}

// DeleteUserObjects removes every object under a user's prefixes. Used
// when an account is deleted.
func (s *S3Store) DeleteUserObjects(ctx context.Context, userID int64) error {
	if err := s.DeleteAvatar(ctx, userID); err != nil {
		return err
	}

	prefix := fmt.Sprintf("exports/%d/", userID)
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("failed to list user objects: %w", err)
		}
		for _, obj := range page.Contents {
			_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
				Bucket: aws.String(s.bucket),
				Key:    obj.Key,
			})
			if err != nil {
				return fmt.Errorf("failed to delete user object: %w", err)
			}
		}
	}
	return nil
}

func isNotFound(err error) bool {
	var noKey *types.NoSuchKey
	if errors.As(err, &noKey) {
		return true
	}
	var notFound *types.NotFound
	return errors.As(err, &notFound)
}
