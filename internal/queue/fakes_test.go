package queue

import (
	"context"
	"fmt"
	"sync"
	"time"
)

const (
	testQueueURL = "https://sqs.us-east-1.amazonaws.com/123/emails"
	testDLQURL   = "https://sqs.us-east-1.amazonaws.com/123/emails-dead-letter"
)

// fakeSQS is an in-memory sqsAPI. Received messages are removed from their
// queue until deleted or released with a zero visibility timeout; timeouts
// never lapse.
type fakeSQS struct {
	mu       sync.Mutex
	queues   map[string][]sqsReceivedMessage
	inflight map[string]sqsReceivedMessage
	released int
	sent     []sqsSendInput
	deleted  []sqsDeleteInput
	sendErr  map[string]error
	seq      int
}

func newFakeSQS() *fakeSQS {
	return &fakeSQS{
		queues:   make(map[string][]sqsReceivedMessage),
		inflight: make(map[string]sqsReceivedMessage),
		sendErr:  make(map[string]error),
	}
}

func (f *fakeSQS) SendMessage(_ context.Context, in *sqsSendInput) (*sqsSendOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.sendErr[in.QueueURL]; err != nil {
		return nil, err
	}
	f.seq++
	id := fmt.Sprintf("msg-%d", f.seq)
	f.queues[in.QueueURL] = append(f.queues[in.QueueURL], sqsReceivedMessage{
		MessageID:     id,
		ReceiptHandle: "rh-" + id,
		Body:          in.MessageBody,
		ReceiveCount:  1,
		Attributes:    in.Attributes,
	})
	f.sent = append(f.sent, *in)
	return &sqsSendOutput{MessageID: id}, nil
}

func (f *fakeSQS) ReceiveMessage(ctx context.Context, in *sqsReceiveInput) (*sqsReceiveOutput, error) {
	f.mu.Lock()
	q := f.queues[in.QueueURL]
	n := min(len(q), max(int(in.MaxNumberOfMessages), 1))
	if n == 0 {
		f.mu.Unlock()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Millisecond):
			return &sqsReceiveOutput{}, nil
		}
	}
	out := append([]sqsReceivedMessage(nil), q[:n]...)
	f.queues[in.QueueURL] = q[n:]
	for _, m := range out {
		f.inflight[m.ReceiptHandle] = m
	}
	f.mu.Unlock()
	return &sqsReceiveOutput{Messages: out}, nil
}

func (f *fakeSQS) DeleteMessage(_ context.Context, in *sqsDeleteInput) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, *in)
	delete(f.inflight, in.ReceiptHandle)
	return nil
}

func (f *fakeSQS) ChangeMessageVisibility(_ context.Context, in *sqsVisibilityInput) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.inflight[in.ReceiptHandle]
	if !ok {
		return fmt.Errorf("receipt handle %s is not in flight", in.ReceiptHandle)
	}
	if in.VisibilityTimeout == 0 {
		delete(f.inflight, in.ReceiptHandle)
		f.queues[in.QueueURL] = append(f.queues[in.QueueURL], m)
		f.released++
	}
	return nil
}

func (f *fakeSQS) Ping(context.Context, string) error { return nil }

func (f *fakeSQS) push(url, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	id := fmt.Sprintf("raw-%d", f.seq)
	f.queues[url] = append(f.queues[url], sqsReceivedMessage{MessageID: id, ReceiptHandle: "rh-" + id, Body: body})
}

func (f *fakeSQS) bodies(url string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, m := range f.queues[url] {
		out = append(out, m.Body)
	}
	return out
}

func (f *fakeSQS) sentTo(url string) []sqsSendInput {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sqsSendInput
	for _, s := range f.sent {
		if s.QueueURL == url {
			out = append(out, s)
		}
	}
	return out
}

func (f *fakeSQS) releasedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.released
}

func (f *fakeSQS) deletedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.deleted)
}

// recordingHandler records every attempt and fails according to failOn.
type recordingHandler struct {
	mu       sync.Mutex
	subjects []string
	attempts []int
	failOn   func(call int, job *Job) error
}

func (h *recordingHandler) HandleJob(_ context.Context, job *Job) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subjects = append(h.subjects, job.Message.Subject)
	h.attempts = append(h.attempts, job.AttemptsMade)
	if h.failOn == nil {
		return nil
	}
	return h.failOn(len(h.subjects), job)
}

func (h *recordingHandler) calls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subjects)
}

func (h *recordingHandler) seen() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.subjects...)
}

func alwaysFail(err error) func(int, *Job) error {
	return func(int, *Job) error { return err }
}
