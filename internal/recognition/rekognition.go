package recognition

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/rekognition"
	"github.com/aws/aws-sdk-go-v2/service/rekognition/types"
	"github.com/aws/smithy-go"

	"github.com/pixyard/pixyard/internal/apierr"
	"github.com/pixyard/pixyard/internal/metadata"
)

// RekognitionAPI defines the subset of the AWS Rekognition client interface
// used by the engine. This allows mocking in tests.
type RekognitionAPI interface {
	DetectLabels(ctx context.Context, params *rekognition.DetectLabelsInput, optFns ...func(*rekognition.Options)) (*rekognition.DetectLabelsOutput, error)
}

// RekognitionEngine implements the Engine interface using the AWS Rekognition
// DetectLabels API.
type RekognitionEngine struct {
	client        RekognitionAPI
	maxLabels     int32
	minConfidence float32 // Rekognition scale, 0..100
}

// NewRekognitionEngine creates a Rekognition-backed engine. minConfidence is
// on the [0,1] scale used everywhere else and is converted to Rekognition's
// percentage scale.
func NewRekognitionEngine(ctx context.Context, region string, maxLabels int, minConfidence float64) (*RekognitionEngine, error) {
	if region == "" {
		region = "us-east-1"
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return &RekognitionEngine{
		client:        rekognition.NewFromConfig(cfg),
		maxLabels:     int32(maxLabels),
		minConfidence: float32(minConfidence * 100),
	}, nil
}

// NewRekognitionEngineWithClient creates an engine with a custom client, for
// tests.
func NewRekognitionEngineWithClient(client RekognitionAPI, maxLabels int, minConfidence float64) *RekognitionEngine {
	return &RekognitionEngine{
		client:        client,
		maxLabels:     int32(maxLabels),
		minConfidence: float32(minConfidence * 100),
	}
}

func (e *RekognitionEngine) DetectLabels(ctx context.Context, image []byte) ([]metadata.Label, error) {
	input := &rekognition.DetectLabelsInput{
		Image: &types.Image{Bytes: image},
	}
	if e.maxLabels > 0 {
		input.MaxLabels = aws.Int32(e.maxLabels)
	}
	if e.minConfidence > 0 {
		input.MinConfidence = aws.Float32(e.minConfidence)
	}

	resp, err := e.client.DetectLabels(ctx, input)
	if err != nil {
		return nil, classifyRekognitionError(err)
	}

	labels := make([]metadata.Label, 0, len(resp.Labels))
	for _, l := range resp.Labels {
		if l.Name == nil {
			continue
		}
		var confidence float64
		if l.Confidence != nil {
			confidence = float64(*l.Confidence) / 100
		}
		labels = append(labels, metadata.Label{Name: *l.Name, Confidence: confidence})
	}
	return labels, nil
}

// classifyRekognitionError maps Rekognition API errors onto the pipeline's
// transient/permanent taxonomy. Explicit input rejections cannot succeed on
// retry; everything else (throttling, 5xx, network) is worth retrying.
func classifyRekognitionError(err error) error {
	var invalidImage *types.InvalidImageFormatException
	var tooLarge *types.ImageTooLargeException
	var invalidParam *types.InvalidParameterException
	if errors.As(err, &invalidImage) || errors.As(err, &tooLarge) || errors.As(err, &invalidParam) {
		return apierr.InvalidInput("rekognition.detect", err)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorFault() == smithy.FaultClient {
		var throttled *types.ProvisionedThroughputExceededException
		if !errors.As(err, &throttled) && apiErr.ErrorCode() != "ThrottlingException" {
			return apierr.InvalidInput("rekognition.detect", err)
		}
	}
	return apierr.Transient("rekognition.detect", err)
}
