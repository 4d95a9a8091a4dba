package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/cordum/coldgate/core/infra/logging"
	"github.com/cordum/coldgate/core/retrieval"
)

const (
	// SQS long-poll and batch limits.
	maxWaitSeconds   = 20
	maxBatch         = 10
	maxVisibilitySec = 12 * 60 * 60
)

// API is the subset of the SQS client used here.
type API interface {
	CreateQueue(ctx context.Context, in *sqs.CreateQueueInput, optFns ...func(*sqs.Options)) (*sqs.CreateQueueOutput, error)
	GetQueueAttributes(ctx context.Context, in *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error)
	SetQueueAttributes(ctx context.Context, in *sqs.SetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.SetQueueAttributesOutput, error)
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, in *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
}

// Queue identifies an SQS queue by URL (for API calls) and ARN (for policies).
type Queue struct {
	URL string
	ARN string
}

// EnsureQueue creates the queue if needed and resolves its ARN.
func EnsureQueue(ctx context.Context, api API, name string) (Queue, error) {
	created, err := api.CreateQueue(ctx, &sqs.CreateQueueInput{QueueName: aws.String(name)})
	if err != nil {
		return Queue{}, fmt.Errorf("sqs create queue %s: %w", name, err)
	}
	url := aws.ToString(created.QueueUrl)
	attrs, err := api.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl:       aws.String(url),
		AttributeNames: []types.QueueAttributeName{types.QueueAttributeNameQueueArn},
	})
	if err != nil {
		return Queue{}, fmt.Errorf("sqs queue attributes %s: %w", name, err)
	}
	arn := attrs.Attributes[string(types.QueueAttributeNameQueueArn)]
	if arn == "" {
		return Queue{}, errors.New("sqs queue attributes: missing queue arn")
	}
	logging.Info("queue", "notification queue ready", "queue_url", url, "queue_arn", arn)
	return Queue{URL: url, ARN: arn}, nil
}

type policyStatement struct {
	Sid       string                       `json:"Sid"`
	Effect    string                       `json:"Effect"`
	Principal map[string]string            `json:"Principal"`
	Action    string                       `json:"Action"`
	Resource  string                       `json:"Resource"`
	Condition map[string]map[string]string `json:"Condition"`
}

type policyDocument struct {
	Version   string            `json:"Version"`
	Statement []policyStatement `json:"Statement"`
}

// TopicPolicy returns a queue policy letting topicARN deliver to q.
func TopicPolicy(q Queue, topicARN string) (string, error) {
	doc := policyDocument{
		Version: "2012-10-17",
		Statement: []policyStatement{{
			Sid:       "coldgate-topic-delivery",
			Effect:    "Allow",
			Principal: map[string]string{"Service": "sns.amazonaws.com"},
			Action:    "sqs:SendMessage",
			Resource:  q.ARN,
			Condition: map[string]map[string]string{
				"ArnEquals": {"aws:SourceArn": topicARN},
			},
		}},
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// AllowTopic installs TopicPolicy on the queue.
func AllowTopic(ctx context.Context, api API, q Queue, topicARN string) error {
	policy, err := TopicPolicy(q, topicARN)
	if err != nil {
		return fmt.Errorf("build queue policy: %w", err)
	}
	_, err = api.SetQueueAttributes(ctx, &sqs.SetQueueAttributesInput{
		QueueUrl: aws.String(q.URL),
		Attributes: map[string]string{
			string(types.QueueAttributeNamePolicy): policy,
		},
	})
	if err != nil {
		return fmt.Errorf("sqs set queue policy: %w", err)
	}
	return nil
}

// Source reads job notifications from an SQS queue. Acking deletes the message;
// unacked messages reappear after the queue's visibility timeout.
type Source struct {
	api  API
	url  string
	wait time.Duration
}

func NewSource(api API, queueURL string, wait time.Duration) *Source {
	return &Source{api: api, url: queueURL, wait: wait}
}

func (s *Source) Receive(ctx context.Context, max int) ([]retrieval.Message, error) {
	if max <= 0 || max > maxBatch {
		max = maxBatch
	}
	waitSec := int32(s.wait / time.Second)
	if waitSec > maxWaitSeconds {
		waitSec = maxWaitSeconds
	}
	out, err := s.api.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(s.url),
		MaxNumberOfMessages: int32(max),
		WaitTimeSeconds:     waitSec,
	})
	if err != nil {
		return nil, fmt.Errorf("sqs receive: %w", err)
	}
	msgs := make([]retrieval.Message, 0, len(out.Messages))
	for _, m := range out.Messages {
		msgs = append(msgs, retrieval.Message{
			ID:     aws.ToString(m.MessageId),
			Body:   []byte(aws.ToString(m.Body)),
			Handle: aws.ToString(m.ReceiptHandle),
		})
	}
	return msgs, nil
}

func (s *Source) Ack(ctx context.Context, msg retrieval.Message) error {
	handle, err := receipt(msg)
	if err != nil {
		return err
	}
	_, err = s.api.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(s.url),
		ReceiptHandle: aws.String(handle),
	})
	if err != nil {
		return fmt.Errorf("sqs delete %s: %w", msg.ID, err)
	}
	return nil
}

// Defer hides msg for delay so it is redelivered once the delay passes.
func (s *Source) Defer(ctx context.Context, msg retrieval.Message, delay time.Duration) error {
	handle, err := receipt(msg)
	if err != nil {
		return err
	}
	secs := int32(delay / time.Second)
	if secs > maxVisibilitySec {
		secs = maxVisibilitySec
	}
	_, err = s.api.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(s.url),
		ReceiptHandle:     aws.String(handle),
		VisibilityTimeout: secs,
	})
	if err != nil {
		return fmt.Errorf("sqs change visibility %s: %w", msg.ID, err)
	}
	return nil
}

func receipt(msg retrieval.Message) (string, error) {
	handle, ok := msg.Handle.(string)
	if !ok || handle == "" {
		return "", fmt.Errorf("sqs message %s has no receipt handle", msg.ID)
	}
	return handle, nil
}
