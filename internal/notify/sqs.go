package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"
)

// SendMessageBatch accepts at most 10 entries per call.
const sqsMaxBatch = 10

type sqsAPI interface {
	SendMessageBatch(ctx context.Context, in *sqs.SendMessageBatchInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageBatchOutput, error)
}

// SQSSink sends each notification as one SQS message.
type SQSSink struct {
	client   sqsAPI
	queueURL string
}

// NewSQSSink needs the queue URL, not its ARN.
func NewSQSSink(ctx context.Context, queueURL, region string) (*SQSSink, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("sqs: aws config: %w", err)
	}
	return &SQSSink{client: sqs.NewFromConfig(cfg), queueURL: queueURL}, nil
}

func (s *SQSSink) Name() string { return "sqs" }

func (s *SQSSink) Send(ctx context.Context, ns []Notification) error {
	for i := 0; i < len(ns); i += sqsMaxBatch {
		chunk := ns[i:min(i+sqsMaxBatch, len(ns))]

		entries := make([]types.SendMessageBatchRequestEntry, 0, len(chunk))
		for _, n := range chunk {
			body, err := json.Marshal(n)
			if err != nil {
				return fmt.Errorf("marshal: %w", err)
			}
			entries = append(entries, types.SendMessageBatchRequestEntry{
				Id:          aws.String(uuid.NewString()),
				MessageBody: aws.String(string(body)),
			})
		}

		out, err := s.client.SendMessageBatch(ctx, &sqs.SendMessageBatchInput{
			QueueUrl: aws.String(s.queueURL),
			Entries:  entries,
		})
		if err != nil {
			return fmt.Errorf("send batch: %w", err)
		}
		if len(out.Failed) > 0 {
			return fmt.Errorf("send batch: %d of %d messages rejected", len(out.Failed), len(entries))
		}
	}
	return nil
}
