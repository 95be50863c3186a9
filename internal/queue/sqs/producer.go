package sqsqueue

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"smsrelay/internal/domain"
	"smsrelay/internal/util"
)

// Producer publishes inbound SMS events, e.g. from a carrier bridge or from
// queuectl when injecting test traffic.
type Producer struct {
	SQS      API
	QueueURL string
}

func (p *Producer) Publish(ctx context.Context, in domain.InboundSMS) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    &p.QueueURL,
		MessageBody: ptr(string(body)),
	}
	if strings.HasSuffix(p.QueueURL, ".fifo") {
		// FIFO ordering per sender.
		input.MessageGroupId = ptr(util.NormalizePhone(in.OriginatingAddress))
		input.MessageDeduplicationId = ptr(dedupID(in))
	}
	_, err = p.SQS.SendMessage(ctx, input)
	return err
}

func dedupID(in domain.InboundSMS) string {
	sum := sha256.Sum256([]byte(util.NormalizePhone(in.OriginatingAddress) + "|" + strconv.FormatInt(in.Timestamp, 10) + "|" + in.Body))
	return hex.EncodeToString(sum[:])
}

func ptr(s string) *string { return &s }
