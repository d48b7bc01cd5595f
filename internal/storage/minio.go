package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"slices"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/pricefeed/internal/config"
	"github.com/sells-group/pricefeed/internal/model"
)

// credentialCodes are S3 error codes meaning the access key or secret is wrong.
var credentialCodes = []string{"InvalidAccessKeyId", "SignatureDoesNotMatch", "InvalidClientTokenId"}

// objectClient is the subset of *minio.Client used for uploads.
type objectClient interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// MinioStorage uploads record groups to a single bucket.
type MinioStorage struct {
	client   objectClient
	endpoint string
	bucket   string
	region   string
}

// NewMinio creates a MinioStorage with static V4 credentials. No request is
// made until the first upload.
func NewMinio(cfg config.MinioConfig) (*MinioStorage, error) {
	cli, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, eris.Wrapf(err, "storage: create minio client for %s", cfg.Endpoint)
	}
	return &MinioStorage{client: cli, endpoint: cfg.Endpoint, bucket: cfg.Bucket, region: cfg.Region}, nil
}

// Bucket returns the target bucket name.
func (s *MinioStorage) Bucket() string {
	return s.bucket
}

// Upload implements Uploader.
func (s *MinioStorage) Upload(ctx context.Context, pipeline string, records []model.Record, key string, createBucket bool) error {
	log := zap.L().With(zap.String("component", "storage"), zap.String("pipeline", pipeline), zap.String("key", key))

	if createBucket {
		if err := s.EnsureBucket(ctx); err != nil {
			return err
		}
	}

	body, err := EncodeNDJSON(records)
	if err != nil {
		return err
	}

	info, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(body), int64(len(body)),
		minio.PutObjectOptions{ContentType: ContentType})
	if err != nil {
		return s.classify(err, "put object "+key)
	}

	log.Info("uploaded record group", zap.Int("records", len(records)), zap.Int64("bytes", info.Size))
	return nil
}

// EnsureBucket creates the bucket if it does not exist. A bucket created
// concurrently by another writer is not an error.
func (s *MinioStorage) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return s.classify(err, "check bucket")
	}
	if exists {
		return nil
	}

	err = s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region})
	if err != nil {
		switch minio.ToErrorResponse(err).Code {
		case "BucketAlreadyOwnedByYou", "BucketAlreadyExists":
			return nil
		}
		return s.classify(err, "make bucket")
	}
	zap.L().Info("created bucket", zap.String("component", "storage"), zap.String("bucket", s.bucket))
	return nil
}

func (s *MinioStorage) classify(err error, action string) error {
	var resp minio.ErrorResponse
	if errors.As(err, &resp) && slices.Contains(credentialCodes, resp.Code) {
		return &CredentialError{Endpoint: s.endpoint, Bucket: s.bucket, Code: resp.Code, Err: err}
	}
	return eris.Wrapf(err, "storage: %s in bucket %s", action, s.bucket)
}
