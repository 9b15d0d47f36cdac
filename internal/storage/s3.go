package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog/log"
)

// S3Options configures the S3 backend. Endpoint and static keys are optional;
// without keys the default AWS credential chain is used.
type S3Options struct {
	Bucket    string
	Prefix    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

// S3 stores objects in a bucket under an optional prefix.
type S3 struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
	prefix   string
	sealer   *Sealer
}

func NewS3(ctx context.Context, opts S3Options, sealer *Sealer) (*S3, error) {
	if opts.Bucket == "" {
		return nil, errors.New("s3 storage: bucket is required")
	}
	loadOpts := []func(*awscfg.LoadOptions) error{}
	if opts.Region != "" {
		loadOpts = append(loadOpts, awscfg.WithRegion(opts.Region))
	}
	if opts.AccessKey != "" && opts.SecretKey != "" {
		loadOpts = append(loadOpts, awscfg.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, "")))
	}
	cfg, err := awscfg.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   opts.Bucket,
		prefix:   opts.Prefix,
		sealer:   sealer,
	}, nil
}

func (s *S3) Backend() string { return "s3" }

func (s *S3) objectKey(key string) string {
	if s.prefix == "" {
		return key
	}
	return path.Join(s.prefix, key)
}

func (s *S3) Put(ctx context.Context, obj *Object) error {
	if obj.Created.IsZero() {
		obj.Created = time.Now()
	}
	payload, err := s.sealer.seal(obj.Data)
	if err != nil {
		return fmt.Errorf("seal %s: %w", obj.Key, err)
	}
	meta := map[string]string{
		"name":    obj.Name,
		"created": obj.Created.UTC().Format(time.RFC3339),
	}
	if s.sealer != nil {
		meta["encryption-format"] = sealMagic
	}
	for k, v := range obj.Meta {
		meta[k] = v
	}
	_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.objectKey(obj.Key)),
		Body:        bytes.NewReader(payload),
		ContentType: aws.String(obj.ContentType),
		Metadata:    meta,
	})
	if err != nil {
		return fmt.Errorf("failed to upload to S3: %w", err)
	}
	log.Debug().Str("key", obj.Key).Int("bytes", len(obj.Data)).Bool("sealed", s.sealer != nil).Msg("uploaded object to S3")
	return nil
}

func (s *S3) Get(ctx context.Context, key string) (*Object, error) {
	res, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("failed to download from S3: %w", err)
	}
	defer res.Body.Close()

	payload, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read S3 object: %w", err)
	}
	obj := &Object{Key: key, Meta: map[string]string{}}
	if res.ContentType != nil {
		obj.ContentType = *res.ContentType
	}
	for k, v := range res.Metadata {
		switch k {
		case "name":
			obj.Name = v
		case "created":
			obj.Created, _ = time.Parse(time.RFC3339, v)
		case "encryption-format":
		default:
			obj.Meta[k] = v
		}
	}
	if res.Metadata["encryption-format"] == sealMagic {
		if s.sealer == nil {
			return nil, fmt.Errorf("object %s is sealed but no encryption key is configured", key)
		}
		if payload, err = s.sealer.Open(payload); err != nil {
			return nil, err
		}
	}
	obj.Data = payload
	return obj, nil
}

func (s *S3) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		return fmt.Errorf("delete object failed: %w", err)
	}
	return nil
}

func (s *S3) Ping(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	return err
}
