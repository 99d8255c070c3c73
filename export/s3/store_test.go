package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/pithecene-io/ringscan/export"
)

// -----------------------------------------------------------------------------
// Mock client
// -----------------------------------------------------------------------------

// mockClient is an in-memory API. Listings are paged by pageSize.
type mockClient struct {
	mu        sync.Mutex
	objects   map[string][]byte
	pageSize  int
	listCalls int
	putErr    error
}

func newMockClient() *mockClient {
	return &mockClient{objects: make(map[string][]byte), pageSize: 1000}
}

func (m *mockClient) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.putErr != nil {
		return nil, m.putErr
	}
	key := aws.ToString(in.Key)
	if aws.ToString(in.IfNoneMatch) == "*" {
		if _, ok := m.objects[key]; ok {
			return nil, &apiError{code: "PreconditionFailed"}
		}
	}
	if in.ContentLength != nil && *in.ContentLength != int64(len(data)) {
		return nil, &apiError{code: "IncompleteBody"}
	}
	m.objects[key] = data
	return &s3.PutObjectOutput{}, nil
}

func (m *mockClient) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	m.mu.Lock()
	data, ok := m.objects[aws.ToString(in.Key)]
	m.mu.Unlock()
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (m *mockClient) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	m.mu.Lock()
	_, ok := m.objects[aws.ToString(in.Key)]
	m.mu.Unlock()
	if !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{}, nil
}

func (m *mockClient) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	m.mu.Lock()
	delete(m.objects, aws.ToString(in.Key))
	m.mu.Unlock()
	return &s3.DeleteObjectOutput{}, nil
}

func (m *mockClient) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listCalls++

	var keys []string
	for k := range m.objects {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	start := 0
	if in.ContinuationToken != nil {
		start, _ = strconv.Atoi(*in.ContinuationToken)
	}
	end := min(start+m.pageSize, len(keys))

	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(end < len(keys))}
	for _, k := range keys[start:end] {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(k)})
	}
	if end < len(keys) {
		out.NextContinuationToken = aws.String(strconv.Itoa(end))
	}
	return out, nil
}

type apiError struct {
	code string
}

func (e *apiError) Error() string                 { return "api error " + e.code }
func (e *apiError) ErrorCode() string             { return e.code }
func (e *apiError) ErrorMessage() string          { return e.code }
func (e *apiError) ErrorFault() smithy.ErrorFault { return smithy.FaultServer }

// -----------------------------------------------------------------------------
// Tests
// -----------------------------------------------------------------------------

func TestNew_Validation(t *testing.T) {
	if _, err := New(nil, Config{Bucket: "b"}); err == nil {
		t.Error("expected error for nil client")
	}
	if _, err := New(newMockClient(), Config{}); err == nil {
		t.Error("expected error for empty bucket")
	}
	s, err := New(newMockClient(), Config{Bucket: "b", Prefix: "exports"})
	if err != nil {
		t.Fatal(err)
	}
	if s.prefix != "exports/" {
		t.Errorf("prefix = %q", s.prefix)
	}
}

func TestStore_PutGetExists(t *testing.T) {
	ctx := t.Context()
	client := newMockClient()
	s, _ := New(client, Config{Bucket: "b", Prefix: "root"})

	if err := s.Put(ctx, "run/part-00000.jsonl", strings.NewReader("data")); err != nil {
		t.Fatal(err)
	}
	if _, ok := client.objects["root/run/part-00000.jsonl"]; !ok {
		t.Errorf("object keys = %v", client.objects)
	}

	rc, err := s.Get(ctx, "run/part-00000.jsonl")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(body) != "data" {
		t.Errorf("body = %q", body)
	}

	ok, err := s.Exists(ctx, "run/part-00000.jsonl")
	if err != nil || !ok {
		t.Errorf("Exists = %v, %v", ok, err)
	}
	ok, err = s.Exists(ctx, "run/missing")
	if err != nil || ok {
		t.Errorf("Exists(missing) = %v, %v", ok, err)
	}
	if _, err := s.Get(ctx, "run/missing"); !errors.Is(err, export.ErrNotFound) {
		t.Errorf("Get(missing) = %v", err)
	}
}

func TestStore_PutNoOverwrite(t *testing.T) {
	ctx := t.Context()
	s, _ := New(newMockClient(), Config{Bucket: "b"})
	if err := s.Put(ctx, "k", strings.NewReader("1")); err != nil {
		t.Fatal(err)
	}
	if err := s.Put(ctx, "k", strings.NewReader("2")); !errors.Is(err, export.ErrPathExists) {
		t.Errorf("second Put = %v, want ErrPathExists", err)
	}
}

func TestStore_PutError(t *testing.T) {
	client := newMockClient()
	client.putErr = &apiError{code: "AccessDenied"}
	s, _ := New(client, Config{Bucket: "b"})
	err := s.Put(t.Context(), "k", strings.NewReader("1"))
	if err == nil || errors.Is(err, export.ErrPathExists) {
		t.Errorf("Put = %v", err)
	}
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) || apiErr.ErrorCode() != "AccessDenied" {
		t.Errorf("driver error not preserved: %v", err)
	}
}

func TestStore_InvalidKeys(t *testing.T) {
	ctx := t.Context()
	s, _ := New(newMockClient(), Config{Bucket: "b"})
	for _, k := range []string{"", ".", "..", "../x", "a/../../x", "/"} {
		if err := s.Put(ctx, k, strings.NewReader("x")); !errors.Is(err, export.ErrInvalidPath) {
			t.Errorf("Put(%q) = %v", k, err)
		}
	}
	if _, err := s.List(ctx, "../x"); !errors.Is(err, export.ErrInvalidPath) {
		t.Errorf("List(../x) = %v", err)
	}
}

func TestStore_ListPaginates(t *testing.T) {
	ctx := t.Context()
	client := newMockClient()
	client.pageSize = 2
	s, _ := New(client, Config{Bucket: "b", Prefix: "root"})

	var want []string
	for i := range 5 {
		k := "run/part-" + strconv.Itoa(i)
		want = append(want, k)
		if err := s.Put(ctx, k, strings.NewReader("x")); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.Put(ctx, "other/x", strings.NewReader("x")); err != nil {
		t.Fatal(err)
	}

	got, err := s.List(ctx, "run")
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(got, want) {
		t.Errorf("List = %v", got)
	}
	if client.listCalls != 3 {
		t.Errorf("list calls = %d, want 3 pages", client.listCalls)
	}
}

func TestStore_Delete(t *testing.T) {
	ctx := t.Context()
	s, _ := New(newMockClient(), Config{Bucket: "b"})
	_ = s.Put(ctx, "k", strings.NewReader("1"))
	if err := s.Delete(ctx, "k"); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(ctx, "k"); err != nil {
		t.Errorf("second Delete = %v", err)
	}
	if ok, _ := s.Exists(ctx, "k"); ok {
		t.Error("object still exists")
	}
}

func TestStore_ExportRoundTrip(t *testing.T) {
	ctx := t.Context()
	s, _ := New(newMockClient(), Config{Bucket: "b", Prefix: "warehouse"})

	w, err := export.NewWriter[map[string]any](ctx, s, "beam/scientist",
		export.WithMaxRecords(2),
		export.WithCompressor(export.NewZstdCompressor()),
	)
	if err != nil {
		t.Fatal(err)
	}
	for i := range 5 {
		if err := w.Emit(ctx, map[string]any{"id": i}); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := w.Close(ctx); err != nil {
		t.Fatal(err)
	}

	exp, err := export.Open(ctx, s, "beam/scientist")
	if err != nil {
		t.Fatal(err)
	}
	records, err := exp.ReadAll(ctx, export.NewJSONLCodec())
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 5 {
		t.Errorf("read %d records", len(records))
	}
}

func TestNewClient_RequiresRegion(t *testing.T) {
	if _, err := NewClient(t.Context(), ClientConfig{}); err == nil {
		t.Error("expected error without region")
	}
}

func TestNewClient_StaticCredentials(t *testing.T) {
	client, err := NewClient(t.Context(), ClientConfig{
		Region:          "us-east-1",
		Endpoint:        "http://localhost:9000",
		UsePathStyle:    true,
		AccessKeyID:     "minioadmin",
		SecretAccessKey: "minioadmin",
	})
	if err != nil {
		t.Fatal(err)
	}
	opts := client.Options()
	if aws.ToString(opts.BaseEndpoint) != "http://localhost:9000" || !opts.UsePathStyle {
		t.Errorf("options = endpoint %v path style %v", opts.BaseEndpoint, opts.UsePathStyle)
	}
	creds, err := opts.Credentials.Retrieve(t.Context())
	if err != nil || creds.AccessKeyID != "minioadmin" {
		t.Errorf("credentials = %+v, %v", creds, err)
	}
}
