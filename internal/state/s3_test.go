package state

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/ticketbridge-io/ticketbridge/pkg/ticket"
)

// fakeS3 implements s3API in memory with If-None-Match semantics.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string][]byte)}
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[*in.Key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.objects[*in.Key]; !ok {
		return nil, &smithy.GenericAPIError{Code: "NotFound"}
	}
	return &s3.HeadObjectOutput{}, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if in.IfNoneMatch != nil {
		if _, ok := f.objects[*in.Key]; ok {
			return nil, &smithy.GenericAPIError{Code: "PreconditionFailed"}
		}
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[*in.Key] = data
	return &s3.PutObjectOutput{}, nil
}

func newTestS3Store() (*S3Store, *fakeS3) {
	fake := newFakeS3()
	return &S3Store{client: fake, bucket: "test", prefix: "state/"}, fake
}

func TestS3CursorRoundTrip(t *testing.T) {
	s, _ := newTestS3Store()
	ctx := context.Background()

	if _, ok, err := s.Cursor(ctx, "rec-1"); err != nil || ok {
		t.Fatalf("expected absent cursor, ok=%v err=%v", ok, err)
	}

	cur := ticket.StatusCursor{TicketID: "rec-1", Status: "Backlog", ObservedAt: time.Now().UTC().Truncate(time.Second)}
	if err := s.SetCursor(ctx, cur); err != nil {
		t.Fatalf("set cursor: %v", err)
	}

	got, ok, err := s.Cursor(ctx, "rec-1")
	if err != nil || !ok {
		t.Fatalf("cursor: ok=%v err=%v", ok, err)
	}
	if got.Status != "Backlog" {
		t.Errorf("expected 'Backlog', got %q", got.Status)
	}
}

func TestS3AppendTransitionConditional(t *testing.T) {
	s, _ := newTestS3Store()
	ctx := context.Background()

	rec := ticket.TransitionRecord{TicketID: "rec-2", Status: "Launched", NotifiedAt: time.Now()}
	if err := s.AppendTransition(ctx, rec); err != nil {
		t.Fatalf("first append: %v", err)
	}
	if err := s.AppendTransition(ctx, rec); !errors.Is(err, ErrTransitionExists) {
		t.Errorf("expected ErrTransitionExists, got %v", err)
	}

	ok, err := s.HasTransition(ctx, "rec-2", " launched")
	if err != nil {
		t.Fatalf("has transition: %v", err)
	}
	if !ok {
		t.Error("expected transition to exist under normalized status")
	}
}

func TestS3KeyLayout(t *testing.T) {
	s, fake := newTestS3Store()
	ctx := context.Background()

	rec := ticket.TransitionRecord{TicketID: "rec/3", Status: "Work Completed", NotifiedAt: time.Now()}
	if err := s.AppendTransition(ctx, rec); err != nil {
		t.Fatalf("append: %v", err)
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	want := "state/transitions/rec%2F3/work%20completed.json"
	if _, ok := fake.objects[want]; !ok {
		t.Errorf("expected object at %q, have %v", want, keys(fake.objects))
	}
}

func keys(m map[string][]byte) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
