// Package attachment 把訊息附件上傳到 S3 相容存儲並回傳可引用的 URL.
package attachment

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"chat-relay/internal/constants"
	"chat-relay/internal/platform/config"
	"chat-relay/internal/platform/logger"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

// KeyPrefix 物件 key 前綴.
const KeyPrefix = "attachments"

type objectPutter interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

type objectPresigner interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// S3Uploader 附件上傳器.
type S3Uploader struct {
	putter     objectPutter
	presigner  objectPresigner
	bucket     string
	publicBase string
	presignTTL time.Duration
}

// NewS3Uploader 依配置建立上傳器；設定 endpoint 時可指向 MinIO.
func NewS3Uploader(ctx context.Context, cfg config.S3Config) (*S3Uploader, error) {
	awsCfg, err := awscfg.LoadDefaultConfig(ctx, awscfg.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	ttl := cfg.PresignTTLMinute
	if ttl <= 0 {
		ttl = constants.DefaultPresignTTLMinute
	}

	logger.Infof(ctx, "附件存儲已啟用: bucket=%s endpoint=%s", cfg.Bucket, cfg.Endpoint)
	return &S3Uploader{
		putter:     manager.NewUploader(client),
		presigner:  s3.NewPresignClient(client),
		bucket:     cfg.Bucket,
		publicBase: strings.TrimRight(cfg.PublicBaseURL, "/"),
		presignTTL: time.Duration(ttl) * time.Minute,
	}, nil
}

// Upload 上傳附件，回傳公開 URL 或預簽名 URL.
func (u *S3Uploader) Upload(ctx context.Context, ownerID string, data []byte, contentType string) (string, error) {
	key := objectKey(ownerID, contentType)

	_, err := u.putter.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}

	if u.publicBase != "" {
		return u.publicBase + "/" + key, nil
	}

	req, err := u.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(u.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(u.presignTTL))
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", key, err)
	}
	return req.URL, nil
}

func objectKey(ownerID, contentType string) string {
	return path.Join(KeyPrefix, ownerID, uuid.NewString()+extension(contentType))
}

func extension(contentType string) string {
	switch contentType {
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	default:
		return ""
	}
}
