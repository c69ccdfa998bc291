package recognition

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/rekognition"
	"github.com/aws/aws-sdk-go-v2/service/rekognition/types"
	"go.uber.org/zap"
)

// Client is the subset of the Rekognition API the detector uses. Satisfied
// by *rekognition.Client and substitutable with a stub in tests.
type Client interface {
	DetectLabels(
		ctx context.Context,
		params *rekognition.DetectLabelsInput,
		optFns ...func(*rekognition.Options),
	) (*rekognition.DetectLabelsOutput, error)
}

// LabelDetector is a thin facade over the Rekognition DetectLabels call.
// It holds a shared client whose lifetime is managed by the caller and is
// stateless across calls.
type LabelDetector struct {
	client Client
	logger *zap.Logger
}

// NewLabelDetector constructs a detector around an existing client.
func NewLabelDetector(client Client, logger *zap.Logger) *LabelDetector {
	return &LabelDetector{client: client, logger: logger.Named("label_detector")}
}

// DetectLabels sends a single synchronous detection request and returns the
// label names in the order the service produced them. No reordering,
// deduplication, or filtering happens locally; maxLabels is passed through
// as the service-side bound. Each received label's name and confidence are
// logged as a diagnostic side effect.
//
// Any failure from the client is returned unchanged: no retry, no backoff,
// no wrapping. Callers that need operation context add it themselves.
func (d *LabelDetector) DetectLabels(ctx context.Context, img ImageRef, maxLabels int32) ([]string, error) {
	input := &rekognition.DetectLabelsInput{
		Image:     apiImage(img),
		MaxLabels: aws.Int32(maxLabels),
	}

	out, err := d.client.DetectLabels(ctx, input)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(out.Labels))
	for _, label := range out.Labels {
		d.logger.Info("label detected",
			zap.String("image", img.Name),
			zap.String("name", aws.ToString(label.Name)),
			zap.Float32("confidence", aws.ToFloat32(label.Confidence)))
		names = append(names, aws.ToString(label.Name))
	}
	return names, nil
}

// apiImage converts an ImageRef into the wire form Rekognition expects.
func apiImage(img ImageRef) *types.Image {
	if img.S3Object != nil {
		return &types.Image{
			S3Object: &types.S3Object{
				Bucket: aws.String(img.S3Object.Bucket),
				Name:   aws.String(img.S3Object.Key),
			},
		}
	}
	return &types.Image{Bytes: img.Bytes}
}
