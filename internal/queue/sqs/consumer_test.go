package sqsqueue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"smsrelay/internal/domain"
)

type fakeSQS struct {
	mu      sync.Mutex
	batches [][]types.Message
	deleted []string
	sent    []*sqs.SendMessageInput
}

func (f *fakeSQS) ReceiveMessage(ctx context.Context, _ *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	f.mu.Lock()
	if len(f.batches) > 0 {
		b := f.batches[0]
		f.batches = f.batches[1:]
		f.mu.Unlock()
		return &sqs.ReceiveMessageOutput{Messages: b}, nil
	}
	f.mu.Unlock()
	<-ctx.Done()
	return nil, ctx.Err()
}

func (f *fakeSQS) DeleteMessage(_ context.Context, in *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, aws.ToString(in.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

func (f *fakeSQS) SendMessage(_ context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, in)
	return &sqs.SendMessageOutput{}, nil
}

func (f *fakeSQS) deletedHandles() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deleted...)
}

func msg(handle, body string) types.Message {
	return types.Message{ReceiptHandle: aws.String(handle), MessageId: aws.String(handle), Body: aws.String(body)}
}

func TestPollDeletesOnlyAcceptedMessages(t *testing.T) {
	f := &fakeSQS{batches: [][]types.Message{{
		msg("ok", `{"originatingAddress":"+15550100","body":"hi","timestamp":1}`),
		msg("bad-json", `{nope`),
		msg("rejected", `{"originatingAddress":"+15550199","body":"fail"}`),
		{ReceiptHandle: aws.String("empty")},
	}}}

	var mu sync.Mutex
	var got []domain.InboundSMS
	handler := func(_ context.Context, in domain.InboundSMS) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, in)
		if in.Body == "fail" {
			return errors.New("storage down")
		}
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Consumer{SQS: f, QueueURL: "q"}
	done := make(chan error, 1)
	go func() { done <- c.Poll(ctx, handler) }()

	deadline := time.Now().Add(2 * time.Second)
	for len(f.deletedHandles()) < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	deleted := map[string]bool{}
	for _, h := range f.deletedHandles() {
		deleted[h] = true
	}
	if !deleted["ok"] || !deleted["bad-json"] || !deleted["empty"] || deleted["rejected"] {
		t.Fatalf("unexpected deletions %v", f.deletedHandles())
	}
	if len(got) != 2 || got[0].OriginatingAddress != "+15550100" || got[0].Body != "hi" {
		t.Fatalf("unexpected handled events %+v", got)
	}
}

func TestPollConcurrentHandlesEveryMessage(t *testing.T) {
	var batch []types.Message
	for _, h := range []string{"a", "b", "c", "d", "e"} {
		batch = append(batch, msg(h, `{"body":"`+h+`"}`))
	}
	f := &fakeSQS{batches: [][]types.Message{batch}}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Consumer{SQS: f, QueueURL: "q"}
	done := make(chan error, 1)
	go func() {
		done <- c.PollConcurrent(ctx, 3, func(context.Context, domain.InboundSMS) error { return nil })
	}()

	deadline := time.Now().Add(2 * time.Second)
	for len(f.deletedHandles()) < len(batch) && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	if n := len(f.deletedHandles()); n != len(batch) {
		t.Fatalf("expected %d deletions, got %d", len(batch), n)
	}
}

func TestProducerPublish(t *testing.T) {
	f := &fakeSQS{}
	in := domain.InboundSMS{OriginatingAddress: "+1 555 0100", Body: "hello", Timestamp: 42}

	p := &Producer{SQS: f, QueueURL: "https://sqs.local/000/inbound"}
	if err := p.Publish(context.Background(), in); err != nil {
		t.Fatalf("publish: %v", err)
	}
	fifo := &Producer{SQS: f, QueueURL: "https://sqs.local/000/inbound.fifo"}
	if err := fifo.Publish(context.Background(), in); err != nil {
		t.Fatalf("publish fifo: %v", err)
	}

	if f.sent[0].MessageGroupId != nil {
		t.Fatalf("expected no group id on standard queue")
	}
	if aws.ToString(f.sent[0].MessageBody) != `{"originatingAddress":"+1 555 0100","body":"hello","timestamp":42}` {
		t.Fatalf("unexpected body %s", aws.ToString(f.sent[0].MessageBody))
	}
	if aws.ToString(f.sent[1].MessageGroupId) != "+15550100" || len(aws.ToString(f.sent[1].MessageDeduplicationId)) != 64 {
		t.Fatalf("unexpected fifo attributes %+v", f.sent[1])
	}
}
