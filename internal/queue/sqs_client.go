package queue

import (
	"context"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// sqsAPI abstracts the AWS SQS client for testability.
type sqsAPI interface {
	SendMessage(ctx context.Context, input *sqsSendInput) (*sqsSendOutput, error)
	ReceiveMessage(ctx context.Context, input *sqsReceiveInput) (*sqsReceiveOutput, error)
	DeleteMessage(ctx context.Context, input *sqsDeleteInput) error
	ChangeMessageVisibility(ctx context.Context, input *sqsVisibilityInput) error
	Ping(ctx context.Context, queueURL string) error
}

// sqsSendInput is one job write. Attributes become String message
// attributes so operators can filter jobs in the console without decoding
// bodies; empty values are skipped because SQS rejects them.
type sqsSendInput struct {
	QueueURL     string
	MessageBody  string
	DelaySeconds int32
	Attributes   map[string]string
}

// sqsSendOutput contains the result of a successful SendMessage call.
type sqsSendOutput struct {
	MessageID string
}

// sqsReceiveInput mirrors the fields needed for SQS ReceiveMessage.
type sqsReceiveInput struct {
	QueueURL            string
	MaxNumberOfMessages int32
	WaitTimeSeconds     int32
	VisibilityTimeout   int32
}

// sqsReceiveOutput contains the messages returned by ReceiveMessage.
type sqsReceiveOutput struct {
	Messages []sqsReceivedMessage
}

// sqsReceivedMessage is one delivery of a job. ReceiveCount is above 1 when
// a previous holder let the visibility timeout lapse.
type sqsReceivedMessage struct {
	MessageID     string
	ReceiptHandle string
	Body          string
	ReceiveCount  int
	Attributes    map[string]string
}

// sqsDeleteInput mirrors the fields needed for SQS DeleteMessage.
type sqsDeleteInput struct {
	QueueURL      string
	ReceiptHandle string
}

// sqsVisibilityInput mirrors the fields needed for SQS
// ChangeMessageVisibility. A zero timeout releases the message at once.
type sqsVisibilityInput struct {
	QueueURL          string
	ReceiptHandle     string
	VisibilityTimeout int32
}

// awsSQSClient implements sqsAPI on the AWS SDK.
type awsSQSClient struct {
	client *sqs.Client
}

// newAWSSQSClient creates an awsSQSClient configured for the given region
// from the default credential chain.
func newAWSSQSClient(ctx context.Context, region string) (*awsSQSClient, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &awsSQSClient{client: sqs.NewFromConfig(cfg)}, nil
}

func (c *awsSQSClient) SendMessage(ctx context.Context, input *sqsSendInput) (*sqsSendOutput, error) {
	var attrs map[string]types.MessageAttributeValue
	for k, v := range input.Attributes {
		if v == "" {
			continue
		}
		if attrs == nil {
			attrs = make(map[string]types.MessageAttributeValue, len(input.Attributes))
		}
		attrs[k] = types.MessageAttributeValue{DataType: aws.String("String"), StringValue: aws.String(v)}
	}

	out, err := c.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:          aws.String(input.QueueURL),
		MessageBody:       aws.String(input.MessageBody),
		DelaySeconds:      input.DelaySeconds,
		MessageAttributes: attrs,
	})
	if err != nil {
		return nil, err
	}
	return &sqsSendOutput{MessageID: aws.ToString(out.MessageId)}, nil
}

// ReceiveMessage long-polls input.QueueURL, asking for the job attributes
// and the approximate receive count.
func (c *awsSQSClient) ReceiveMessage(ctx context.Context, input *sqsReceiveInput) (*sqsReceiveOutput, error) {
	out, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:              aws.String(input.QueueURL),
		MaxNumberOfMessages:   input.MaxNumberOfMessages,
		WaitTimeSeconds:       input.WaitTimeSeconds,
		VisibilityTimeout:     input.VisibilityTimeout,
		MessageAttributeNames: []string{"All"},
		MessageSystemAttributeNames: []types.MessageSystemAttributeName{
			types.MessageSystemAttributeNameApproximateReceiveCount,
		},
	})
	if err != nil {
		return nil, err
	}

	messages := make([]sqsReceivedMessage, 0, len(out.Messages))
	for _, m := range out.Messages {
		rm := sqsReceivedMessage{
			MessageID:     aws.ToString(m.MessageId),
			ReceiptHandle: aws.ToString(m.ReceiptHandle),
			Body:          aws.ToString(m.Body),
		}
		rm.ReceiveCount, _ = strconv.Atoi(m.Attributes[string(types.MessageSystemAttributeNameApproximateReceiveCount)])
		for k, v := range m.MessageAttributes {
			if rm.Attributes == nil {
				rm.Attributes = make(map[string]string, len(m.MessageAttributes))
			}
			rm.Attributes[k] = aws.ToString(v.StringValue)
		}
		messages = append(messages, rm)
	}
	return &sqsReceiveOutput{Messages: messages}, nil
}

func (c *awsSQSClient) DeleteMessage(ctx context.Context, input *sqsDeleteInput) error {
	_, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(input.QueueURL),
		ReceiptHandle: aws.String(input.ReceiptHandle),
	})
	return err
}

func (c *awsSQSClient) ChangeMessageVisibility(ctx context.Context, input *sqsVisibilityInput) error {
	_, err := c.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(input.QueueURL),
		ReceiptHandle:     aws.String(input.ReceiptHandle),
		VisibilityTimeout: input.VisibilityTimeout,
	})
	return err
}

// Ping reads one attribute of the queue to verify credentials and URL.
func (c *awsSQSClient) Ping(ctx context.Context, queueURL string) error {
	_, err := c.client.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl:       aws.String(queueURL),
		AttributeNames: []types.QueueAttributeName{types.QueueAttributeNameApproximateNumberOfMessages},
	})
	return err
}
