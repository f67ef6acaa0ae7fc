package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/exchangesandbox/internal/domain"
	"github.com/alanyoungcy/exchangesandbox/internal/store/memory"
)

type fakeBlobWriter struct {
	paths  []string
	bodies [][]byte
	err    error
}

func (w *fakeBlobWriter) Put(_ context.Context, path string, data io.Reader, _ string) error {
	if w.err != nil {
		return w.err
	}
	b, _ := io.ReadAll(data)
	w.paths = append(w.paths, path)
	w.bodies = append(w.bodies, b)
	return nil
}

func (w *fakeBlobWriter) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	return w.Put(ctx, path, data, jsonlContentType)
}

func seedHistory(t *testing.T, base time.Time) *memory.HistoryStore {
	t.Helper()
	hist := memory.NewHistoryStore(0)
	for i := 0; i < 4; i++ {
		p := domain.PricePoint{
			ProductID: "BTC-USD",
			Price:     decimal.NewFromInt(int64(50000 + i)),
			Timestamp: base.Add(time.Duration(i) * time.Hour),
		}
		if err := hist.Append(context.Background(), p); err != nil {
			t.Fatal(err)
		}
	}
	return hist
}

func TestArchivePriceHistory(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	hist := seedHistory(t, base)
	w := &fakeBlobWriter{}
	a := NewPriceArchiver(w, hist)

	cutoff := base.Add(2 * time.Hour)
	n, err := a.ArchivePriceHistory(ctx, cutoff)
	if err != nil {
		t.Fatalf("ArchivePriceHistory: %v", err)
	}
	if n != 2 {
		t.Fatalf("archived %d rows, want 2", n)
	}
	if len(w.paths) != 1 || w.paths[0] != "price_history/2026/03/01/1772330400.jsonl" {
		t.Fatalf("unexpected uploads %v", w.paths)
	}

	sc := bufio.NewScanner(bytes.NewReader(w.bodies[0]))
	var lines int
	for sc.Scan() {
		var p domain.PricePoint
		if err := json.Unmarshal(sc.Bytes(), &p); err != nil {
			t.Fatalf("line %d: %v", lines, err)
		}
		if !p.Timestamp.Before(cutoff) {
			t.Fatalf("archived point at %v is not before cutoff", p.Timestamp)
		}
		lines++
	}
	if lines != 2 {
		t.Fatalf("archive has %d lines, want 2", lines)
	}

	left, _ := hist.Range(ctx, "BTC-USD", time.Time{}, time.Time{})
	if len(left) != 2 {
		t.Fatalf("%d points left, want 2", len(left))
	}
}

func TestArchiveKeepsRowsWhenUploadFails(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	hist := seedHistory(t, base)
	a := NewPriceArchiver(&fakeBlobWriter{err: errors.New("bucket gone")}, hist)

	if _, err := a.ArchivePriceHistory(ctx, base.Add(24*time.Hour)); err == nil {
		t.Fatal("expected upload error")
	}
	left, _ := hist.Range(ctx, "BTC-USD", time.Time{}, time.Time{})
	if len(left) != 4 {
		t.Fatalf("rows deleted despite failed upload: %d left", len(left))
	}
}

func TestArchiveNothingToDo(t *testing.T) {
	w := &fakeBlobWriter{}
	a := NewPriceArchiver(w, memory.NewHistoryStore(0))
	n, err := a.ArchivePriceHistory(context.Background(), time.Now())
	if err != nil || n != 0 || len(w.paths) != 0 {
		t.Fatalf("n=%d err=%v uploads=%v", n, err, w.paths)
	}
}

type fakeS3 struct {
	manager.UploadAPIClient
	puts  []*s3.PutObjectInput
	pages []*s3.ListObjectsV2Output
	calls int
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.puts = append(f.puts, in)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(_ context.Context, _ *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	page := f.pages[f.calls]
	f.calls++
	return page, nil
}

func TestWriterPut(t *testing.T) {
	fake := &fakeS3{}
	w := &Writer{client: fake, bucket: "sandbox"}
	if err := w.Put(context.Background(), "a/b.jsonl", strings.NewReader("{}\n"), jsonlContentType); err != nil {
		t.Fatal(err)
	}
	if len(fake.puts) != 1 {
		t.Fatalf("puts = %d", len(fake.puts))
	}
	in := fake.puts[0]
	if aws.ToString(in.Bucket) != "sandbox" || aws.ToString(in.Key) != "a/b.jsonl" || aws.ToString(in.ContentType) != jsonlContentType {
		t.Fatalf("unexpected input %+v", in)
	}
}

func TestReaderListFollowsPages(t *testing.T) {
	modified := time.Date(2026, 3, 1, 3, 0, 0, 0, time.UTC)
	fake := &fakeS3{pages: []*s3.ListObjectsV2Output{
		{
			Contents:              []types.Object{{Key: aws.String("price_history/a.jsonl"), Size: aws.Int64(10), LastModified: &modified}},
			IsTruncated:           aws.Bool(true),
			NextContinuationToken: aws.String("next"),
		},
		{
			Contents: []types.Object{{Key: aws.String("price_history/b.jsonl"), Size: aws.Int64(20)}},
		},
	}}
	r := &Reader{client: fake, bucket: "sandbox"}

	infos, err := r.List(context.Background(), ArchivePrefix)
	if err != nil {
		t.Fatal(err)
	}
	if len(infos) != 2 || infos[0].Path != "price_history/a.jsonl" || infos[1].Size != 20 {
		t.Fatalf("unexpected listing %+v", infos)
	}
	if !infos[0].LastModified.Equal(modified) {
		t.Fatalf("last modified = %v", infos[0].LastModified)
	}
}

func TestNormaliseEndpoint(t *testing.T) {
	cases := []struct {
		in   string
		ssl  bool
		want string
	}{
		{"minio:9000", false, "http://minio:9000"},
		{"minio:9000", true, "https://minio:9000"},
		{"https://s3.example.com", false, "https://s3.example.com"},
	}
	for _, tc := range cases {
		if got := normaliseEndpoint(tc.in, tc.ssl); got != tc.want {
			t.Errorf("normaliseEndpoint(%q, %v) = %q, want %q", tc.in, tc.ssl, got, tc.want)
		}
	}
}
