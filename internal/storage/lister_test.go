package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"
)

type stubListAPI struct {
	pages  []*s3.ListObjectsV2Output
	errs   []error
	calls  int
	tokens []*string
}

func (s *stubListAPI) ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	s.tokens = append(s.tokens, params.ContinuationToken)
	call := s.calls
	s.calls++
	if call < len(s.errs) && s.errs[call] != nil {
		return nil, s.errs[call]
	}
	return s.pages[call], nil
}

func page(truncated bool, next string, keys ...string) *s3.ListObjectsV2Output {
	contents := make([]types.Object, 0, len(keys))
	for _, key := range keys {
		contents = append(contents, types.Object{Key: aws.String(key), Size: aws.Int64(1024)})
	}
	out := &s3.ListObjectsV2Output{Contents: contents, IsTruncated: aws.Bool(truncated)}
	if next != "" {
		out.NextContinuationToken = aws.String(next)
	}
	return out
}

func TestListAllFollowsContinuationTokens(t *testing.T) {
	api := &stubListAPI{pages: []*s3.ListObjectsV2Output{
		page(true, "tok-1", "a.jpg", "b.jpg"),
		page(true, "tok-2", "c.jpg"),
		page(false, "", "d.jpg"),
	}}
	lister := NewBucketLister(api, zap.NewNop())

	objects, err := lister.ListAll(context.Background(), "scene-images")
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}

	want := []string{"a.jpg", "b.jpg", "c.jpg", "d.jpg"}
	if len(objects) != len(want) {
		t.Fatalf("expected %d objects, got %d", len(want), len(objects))
	}
	for i, key := range want {
		if objects[i].Key != key {
			t.Fatalf("expected key %q at position %d, got %q", key, i, objects[i].Key)
		}
	}

	if api.calls != 3 {
		t.Fatalf("expected 3 pages fetched, got %d", api.calls)
	}
	if api.tokens[0] != nil {
		t.Fatalf("first request must not carry a token, got %q", aws.ToString(api.tokens[0]))
	}
	if aws.ToString(api.tokens[1]) != "tok-1" || aws.ToString(api.tokens[2]) != "tok-2" {
		t.Fatalf("unexpected continuation tokens: %v, %v", api.tokens[1], api.tokens[2])
	}
}

func TestListAllEmptyBucket(t *testing.T) {
	api := &stubListAPI{pages: []*s3.ListObjectsV2Output{page(false, "")}}
	lister := NewBucketLister(api, zap.NewNop())

	objects, err := lister.ListAll(context.Background(), "empty-bucket")
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if len(objects) != 0 {
		t.Fatalf("expected empty listing, got %d objects", len(objects))
	}
}

func TestListAllReturnsListingErrorUnchanged(t *testing.T) {
	sentinel := errors.New("NoSuchBucket: the specified bucket does not exist")
	api := &stubListAPI{errs: []error{sentinel}}
	lister := NewBucketLister(api, zap.NewNop())

	_, err := lister.ListAll(context.Background(), "missing")
	if err != sentinel {
		t.Fatalf("expected the identical listing error, got %v", err)
	}
}
