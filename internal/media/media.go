// Package media 把商品图片引用解析为客户端可直接加载的 URL。
package media

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
)

// Resolver 把图片引用（绝对 URL 或存储 key）解析为 URL，引用为空或无法解析时返回 ""。
type Resolver interface {
	Resolve(ctx context.Context, ref string) string
}

func isAbsolute(ref string) bool {
	return strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") || strings.HasPrefix(ref, "//")
}

// URLResolver 把裸 key 拼到 BaseURL 之后，绝对 URL 原样返回。
type URLResolver struct {
	BaseURL string
}

func (r URLResolver) Resolve(_ context.Context, ref string) string {
	if ref == "" || isAbsolute(ref) || r.BaseURL == "" {
		return ref
	}
	return strings.TrimRight(r.BaseURL, "/") + "/" + strings.TrimLeft(ref, "/")
}

type S3Options struct {
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	TTL             time.Duration
}

// S3Resolver 为 S3 bucket 中的 key 生成预签名 GET 链接。
type S3Resolver struct {
	presign *s3.PresignClient
	bucket  string
	ttl     time.Duration
	log     zerolog.Logger
}

func NewS3Resolver(ctx context.Context, opts S3Options, log zerolog.Logger) (*S3Resolver, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(opts.Region)}
	if opts.AccessKeyID != "" && opts.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &S3Resolver{
		presign: s3.NewPresignClient(s3.NewFromConfig(awsCfg)),
		bucket:  opts.Bucket,
		ttl:     ttl,
		log:     log,
	}, nil
}

func (r *S3Resolver) Resolve(ctx context.Context, ref string) string {
	if ref == "" || isAbsolute(ref) {
		return ref
	}
	req, err := r.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(strings.TrimLeft(ref, "/")),
	}, s3.WithPresignExpires(r.ttl))
	if err != nil {
		r.log.Warn().Err(err).Str("key", ref).Msg("presign thumbnail")
		return ""
	}
	return req.URL
}
