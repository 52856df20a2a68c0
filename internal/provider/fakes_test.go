package provider

import (
	"context"
	"sync"
)

// fakeProvider records sends and returns canned errors.
type fakeProvider struct {
	name      string
	sendErr   error
	healthErr error

	mu   sync.Mutex
	sent []*Message
}

func (f *fakeProvider) Send(_ context.Context, msg *Message) (*DeliveryResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	return sentResult(msg.ID, msg.To, nil), nil
}

func (f *fakeProvider) GetName() string { return f.name }

func (f *fakeProvider) HealthCheck(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.healthErr
}

func (f *fakeProvider) setHealthErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.healthErr = err
}

// fakeHTTPClient captures the last request and replies with resp or err.
type fakeHTTPClient struct {
	resp *HTTPResponse
	err  error

	requests []*HTTPRequest
}

func (f *fakeHTTPClient) Do(_ context.Context, req *HTTPRequest) (*HTTPResponse, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func (f *fakeHTTPClient) last() *HTTPRequest {
	if len(f.requests) == 0 {
		return nil
	}
	return f.requests[len(f.requests)-1]
}
