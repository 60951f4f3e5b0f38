package state

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/ticketbridge-io/ticketbridge/pkg/ticket"
)

// s3API is the subset of the S3 client the store uses.
type s3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// S3Store implements Store on an S3-compatible object store. Cursors live
// under cursors/<ticket id>.json and transition records under
// transitions/<ticket id>/<normalized status>.json.
type S3Store struct {
	client s3API
	bucket string
	prefix string
}

// S3StoreConfig holds configuration for S3Store.
type S3StoreConfig struct {
	Bucket   string
	Region   string
	Endpoint string // Optional custom endpoint (for MinIO, LocalStack, etc.)
	Prefix   string // Optional key prefix
}

// NewS3Store creates an S3-backed state store.
func NewS3Store(ctx context.Context, cfg S3StoreConfig) (*S3Store, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("state store: load AWS config: %w", err)
	}

	clientOpts := func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true // Required for MinIO/LocalStack
		}
	}

	return &S3Store{
		client: s3.NewFromConfig(awsCfg, clientOpts),
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
	}, nil
}

func (s *S3Store) Cursor(ctx context.Context, ticketID string) (ticket.StatusCursor, bool, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.cursorKey(ticketID)),
	})
	if err != nil {
		if isNotFound(err) {
			return ticket.StatusCursor{}, false, nil
		}
		return ticket.StatusCursor{}, false, fmt.Errorf("state store: get cursor: %w", err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return ticket.StatusCursor{}, false, fmt.Errorf("state store: read cursor: %w", err)
	}
	var cur ticket.StatusCursor
	if err := json.Unmarshal(data, &cur); err != nil {
		return ticket.StatusCursor{}, false, fmt.Errorf("state store: decode cursor: %w", err)
	}
	return cur, true, nil
}

func (s *S3Store) SetCursor(ctx context.Context, cur ticket.StatusCursor) error {
	data, err := json.Marshal(cur)
	if err != nil {
		return fmt.Errorf("state store: encode cursor: %w", err)
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.cursorKey(cur.TicketID)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("state store: put cursor: %w", err)
	}
	return nil
}

func (s *S3Store) HasTransition(ctx context.Context, ticketID, status string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.transitionKey(ticketID, status)),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("state store: head transition: %w", err)
	}
	return true, nil
}

// AppendTransition uses a conditional put (If-None-Match: *) so the existence
// check and the write happen atomically at the object store.
func (s *S3Store) AppendTransition(ctx context.Context, rec ticket.TransitionRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("state store: encode transition: %w", err)
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.transitionKey(rec.TicketID, rec.Status)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
		IfNoneMatch: aws.String("*"),
	})
	if err != nil {
		if isPreconditionFailed(err) {
			return ErrTransitionExists
		}
		return fmt.Errorf("state store: put transition: %w", err)
	}
	return nil
}

func (s *S3Store) Close() error { return nil }

func (s *S3Store) cursorKey(ticketID string) string {
	return s.prefix + "cursors/" + url.PathEscape(ticketID) + ".json"
}

func (s *S3Store) transitionKey(ticketID, status string) string {
	return s.prefix + "transitions/" + url.PathEscape(ticketID) + "/" +
		url.PathEscape(ticket.NormalizeStatus(status)) + ".json"
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && (apiErr.ErrorCode() == "NotFound" || apiErr.ErrorCode() == "NoSuchKey")
}

func isPreconditionFailed(err error) bool {
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "PreconditionFailed"
}
