package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/exchangesandbox/internal/domain"
)

const (
	jsonlContentType = "application/x-ndjson"
	// ArchivePrefix is the key prefix of every price history archive.
	ArchivePrefix = "price_history/"
	// multipartThreshold switches uploads to the multipart manager.
	multipartThreshold = 8 * 1024 * 1024
)

// PriceArchiver implements domain.Archiver. It exports price history older
// than a cutoff as JSONL and removes the exported rows once the upload has
// succeeded.
type PriceArchiver struct {
	writer  domain.BlobWriter
	history domain.PriceHistoryStore
}

// NewPriceArchiver creates a PriceArchiver.
func NewPriceArchiver(writer domain.BlobWriter, history domain.PriceHistoryStore) *PriceArchiver {
	return &PriceArchiver{writer: writer, history: history}
}

// ArchivePriceHistory uploads every point recorded before the cutoff and
// returns how many rows were deleted afterwards.
func (a *PriceArchiver) ArchivePriceHistory(ctx context.Context, before time.Time) (int64, error) {
	points, err := a.history.ListBefore(ctx, before, 0)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive price history query: %w", err)
	}
	if len(points) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(points)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive price history marshal: %w", err)
	}

	path := archivePath(before)
	if len(buf) > multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), jsonlContentType)
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive price history upload: %w", err)
	}

	n, err := a.history.DeleteBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive price history delete: %w", err)
	}
	return n, nil
}

// archivePath partitions archives by the UTC day of the cutoff:
//
//	price_history/2026/03/01/1772366400.jsonl
func archivePath(before time.Time) string {
	before = before.UTC()
	return fmt.Sprintf("%s%s/%d.jsonl", ArchivePrefix, before.Format("2006/01/02"), before.Unix())
}

// marshalJSONL writes one compact JSON object per line.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

var _ domain.Archiver = (*PriceArchiver)(nil)
