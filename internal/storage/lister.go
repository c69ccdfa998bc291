package storage

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"
)

// ListObjectsAPI is the subset of the S3 API the lister uses. Satisfied by
// *s3.Client and substitutable with a stub in tests.
type ListObjectsAPI interface {
	ListObjectsV2(
		ctx context.Context,
		params *s3.ListObjectsV2Input,
		optFns ...func(*s3.Options),
	) (*s3.ListObjectsV2Output, error)
}

// Object describes a single stored object from a bucket listing.
type Object struct {
	Key  string
	Size int64
}

// BucketLister enumerates the contents of S3 buckets.
type BucketLister struct {
	api    ListObjectsAPI
	logger *zap.Logger
}

// NewBucketLister constructs a lister around an existing S3 client.
func NewBucketLister(api ListObjectsAPI, logger *zap.Logger) *BucketLister {
	return &BucketLister{api: api, logger: logger.Named("bucket_lister")}
}

// ListAll returns every object currently in the bucket, following
// continuation tokens until the listing is exhausted. Objects come back in
// whatever order the service returns them; no ordering is imposed here.
// A listing failure from the client is returned unchanged.
func (l *BucketLister) ListAll(ctx context.Context, bucket string) ([]Object, error) {
	var objects []Object
	input := &s3.ListObjectsV2Input{Bucket: aws.String(bucket)}

	pages := 0
	for {
		page, err := l.api.ListObjectsV2(ctx, input)
		if err != nil {
			return nil, err
		}
		pages++

		for _, obj := range page.Contents {
			objects = append(objects, Object{
				Key:  aws.ToString(obj.Key),
				Size: aws.ToInt64(obj.Size),
			})
		}

		if !aws.ToBool(page.IsTruncated) {
			break
		}
		input.ContinuationToken = page.NextContinuationToken
	}

	l.logger.Info("bucket listing complete",
		zap.String("bucket", bucket),
		zap.Int("objects", len(objects)),
		zap.Int("pages", pages))
	return objects, nil
}
