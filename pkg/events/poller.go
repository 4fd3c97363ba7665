// Package events maintains a measured-size model per entity from object
// storage notifications arriving on a queue.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"regexp"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/sqs"
	multierror "github.com/hashicorp/go-multierror"
)

const sleepAfterReceiveFailed = 2 * time.Second

// Poll repeatedly long-polls on client and applies arriving size changes
// to sizes, until ctx is cancelled.  keyPattern and keyReplace map object
// paths to the entity that owns them; paths that do not match are not
// metered.
func Poll(ctx context.Context, l *log.Logger, client *sqs.SQS, queueURL string, keyPattern *regexp.Regexp, keyReplace string, sizes *Sizes) {
	for {
		in := &sqs.ReceiveMessageInput{
			MaxNumberOfMessages: aws.Int64(10),
			MessageAttributeNames: []*string{
				aws.String(sqs.QueueAttributeNameAll),
			},
			QueueUrl:          &queueURL,
			VisibilityTimeout: aws.Int64(3),
			WaitTimeSeconds:   aws.Int64(10),
		}
		out, err := client.ReceiveMessageWithContext(ctx, in)
		if ctx.Err() != nil {
			l.Printf("DONE: %s\n", ctx.Err())
			return
		}
		if err != nil {
			l.Printf("ERROR: %s\n", err)
			time.Sleep(sleepAfterReceiveFailed)
			continue
		}
		for i, m := range out.Messages {
			err = Ingest(m, keyPattern, keyReplace, sizes)
			if err != nil {
				l.Printf("ERROR (%d/%d): %s\n", i, len(out.Messages), err)
				continue // Don't delete, message may be retried or dead-lettered.
			}

			_, err = client.DeleteMessageWithContext(ctx, &sqs.DeleteMessageInput{
				QueueUrl:      aws.String(queueURL),
				ReceiptHandle: m.ReceiptHandle,
			})
			if err != nil {
				l.Printf("ERROR: Ack/delete message handle %s: %s\n", *m.ReceiptHandle, err)
				continue
			}
		}
	}
}

// Ingest applies all size changes carried by one SQS message to sizes.
func Ingest(message *sqs.Message, keyPattern *regexp.Regexp, keyReplace string, sizes *Sizes) error {
	var records struct {
		Records []Record `json:"Records"`
	}

	if err := json.Unmarshal([]byte(*message.Body), &records); err != nil {
		id := "[no ID]"
		if message.MessageId != nil {
			id = *message.MessageId
		}
		return fmt.Errorf("JSON parse failed for message %s: %w", id, err)
	}

	var merr *multierror.Error
	for i, rec := range records.Records {
		change, err := ComputeChange(&rec)
		if errors.Is(err, ErrNotAChange) {
			continue
		}
		if err != nil {
			merr = multierror.Append(merr, fmt.Errorf("record parse failed for message %s @%d: %w",
				aws.StringValue(message.MessageId), i, err))
			continue
		}

		match := keyPattern.FindStringSubmatchIndex(change.Path)
		if len(match) == 0 {
			continue
		}
		entity := keyPattern.ExpandString(nil, keyReplace, change.Path, match)
		sizes.Apply(string(entity), change)
	}
	return merr.ErrorOrNil()
}
