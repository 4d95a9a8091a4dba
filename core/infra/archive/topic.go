package archive

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/cordum/coldgate/core/infra/logging"
)

const protocolSQS = "sqs"

// TopicAPI is the subset of the SNS client used to wire job notifications.
type TopicAPI interface {
	CreateTopic(ctx context.Context, in *sns.CreateTopicInput, optFns ...func(*sns.Options)) (*sns.CreateTopicOutput, error)
	Subscribe(ctx context.Context, in *sns.SubscribeInput, optFns ...func(*sns.Options)) (*sns.SubscribeOutput, error)
}

// EnsureTopic creates the notification topic or returns the existing one's ARN.
func EnsureTopic(ctx context.Context, api TopicAPI, name string) (string, error) {
	out, err := api.CreateTopic(ctx, &sns.CreateTopicInput{Name: aws.String(name)})
	if err != nil {
		return "", fmt.Errorf("sns create topic %s: %w", name, err)
	}
	arn := aws.ToString(out.TopicArn)
	if arn == "" {
		return "", errors.New("sns create topic: empty topic arn")
	}
	logging.Info("archive", "notification topic ready", "topic_arn", arn)
	return arn, nil
}

// SubscribeQueue delivers topic messages to the queue identified by queueARN.
// Subscribing the same pair twice returns the existing subscription.
func SubscribeQueue(ctx context.Context, api TopicAPI, topicARN, queueARN string) (string, error) {
	out, err := api.Subscribe(ctx, &sns.SubscribeInput{
		TopicArn:              aws.String(topicARN),
		Protocol:              aws.String(protocolSQS),
		Endpoint:              aws.String(queueARN),
		ReturnSubscriptionArn: true,
	})
	if err != nil {
		return "", fmt.Errorf("sns subscribe %s: %w", queueARN, err)
	}
	logging.Info("archive", "queue subscribed to topic", "topic_arn", topicARN, "queue_arn", queueARN)
	return aws.ToString(out.SubscriptionArn), nil
}
