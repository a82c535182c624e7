// Package engnotify broadcasts confirmed engine events to SNS/SQS,
// adapted from the teacher's pkg/aws Connection (generalized from a
// fixed CloudTrail-event broadcaster to any caller-supplied message,
// used by pkg/honeypot to announce a landed event).
package engnotify

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// Broadcaster publishes a message to an SQS queue, an SNS topic, or
// both — whichever destinations are configured.
type Broadcaster struct {
	sqs *sqs.Client
	sns *sns.Client

	queueURL string
	topicARN string
}

// New builds a Broadcaster from an AWS config. Either destination may
// be left empty to disable it.
func New(awscfg *aws.Config, queueURL, topicARN string) (*Broadcaster, error) {
	return &Broadcaster{
		sqs:      sqs.NewFromConfig(*awscfg),
		sns:      sns.NewFromConfig(*awscfg),
		queueURL: queueURL,
		topicARN: topicARN,
	}, nil
}

func (b *Broadcaster) SendSQSMessage(ctx context.Context, message string) error {
	if b.queueURL == "" {
		return fmt.Errorf("SQS queue URL is not configured")
	}
	_, err := b.sqs.SendMessage(ctx, &sqs.SendMessageInput{
		MessageBody: &message,
		QueueUrl:    &b.queueURL,
	})
	return err
}

func (b *Broadcaster) PublishSNSMessage(ctx context.Context, message string) error {
	if b.topicARN == "" {
		return fmt.Errorf("SNS topic ARN is not configured")
	}
	_, err := b.sns.Publish(ctx, &sns.PublishInput{
		Message:  &message,
		TopicArn: &b.topicARN,
	})
	return err
}

// Broadcast sends message to every configured destination, stopping at
// the first error.
func (b *Broadcaster) Broadcast(ctx context.Context, message string) error {
	if b.queueURL != "" {
		if err := b.SendSQSMessage(ctx, message); err != nil {
			return err
		}
	}
	if b.topicARN != "" {
		if err := b.PublishSNSMessage(ctx, message); err != nil {
			return err
		}
	}
	return nil
}
