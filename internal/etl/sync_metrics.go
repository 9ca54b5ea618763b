package etl

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/writer"

	"instafeed/internal/sync"
)

// SyncMetricsRow matches the sync_metrics Glue table columns.
type SyncMetricsRow struct {
	Shop          string  `parquet:"name=shop, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	MetricDate    string  `parquet:"name=metric_date, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"` // YYYY-MM-DD
	Runs          int64   `parquet:"name=runs, type=INT64"`
	PostsSeen     int64   `parquet:"name=posts_seen, type=INT64"`
	PostsUploaded int64   `parquet:"name=posts_uploaded, type=INT64"`
	FilesUploaded int64   `parquet:"name=files_uploaded, type=INT64"`
	PostsSkipped  int64   `parquet:"name=posts_skipped, type=INT64"`
	PostsFailed   int64   `parquet:"name=posts_failed, type=INT64"`
	FailedRuns    int64   `parquet:"name=failed_runs, type=INT64"`
	AvgDurationMS float64 `parquet:"name=avg_duration_ms, type=DOUBLE"`
}

type SyncMetricsETL struct {
	runs *sync.RunStore
	s3   *s3.Client
}

func NewSyncMetricsETL(cfg aws.Config) *SyncMetricsETL {
	return &SyncMetricsETL{
		runs: sync.NewRunStore(dynamodb.NewFromConfig(cfg)),
		s3:   s3.NewFromConfig(cfg),
	}
}

// Handle is triggered by an EventBridge schedule. It aggregates the sync run
// records per (shop, day) for the backfill window and writes one Parquet row
// per pair under sync_metrics/dt=YYYY-MM-DD/shop_id=<shop>/part-<rand>.parquet.
//
// Env:
// - SYNC_RUNS_TABLE (required, read through sync.RunStore)
// - ANALYTICS_BUCKET (required)
// - SYNC_METRICS_PREFIX (default "sync_metrics/")
// - ETL_DAYS_BACK (default "1", max 90, counted back from today inclusive)
func (h *SyncMetricsETL) Handle(ctx context.Context, _ events.CloudWatchEvent) (map[string]any, error) {
	bucket := strings.TrimSpace(os.Getenv("ANALYTICS_BUCKET"))
	if bucket == "" {
		return nil, fmt.Errorf("missing env ANALYTICS_BUCKET")
	}
	prefix := strings.TrimSpace(os.Getenv("SYNC_METRICS_PREFIX"))
	if prefix == "" {
		prefix = "sync_metrics/"
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	daysBack := 1
	if v := strings.TrimSpace(os.Getenv("ETL_DAYS_BACK")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 90 {
			daysBack = n
		}
	}

	shops, err := h.runs.ShopsWithRuns(ctx)
	if err != nil {
		return nil, err
	}
	if len(shops) == 0 {
		return map[string]any{"ok": true, "written": 0, "reason": "no shops with runs"}, nil
	}

	now := time.Now().UTC()
	written := 0

	for i := 0; i < daysBack; i++ {
		day := now.AddDate(0, 0, -i)
		dtStr := day.Format("2006-01-02")

		for _, shop := range shops {
			recs, err := h.runs.RunsForDay(ctx, shop, day)
			if err != nil {
				return nil, fmt.Errorf("load runs for shop=%s dt=%s: %w", shop, dtStr, err)
			}
			if len(recs) == 0 {
				continue
			}

			row := aggregate(shop, dtStr, recs)
			key := fmt.Sprintf("%sdt=%s/shop_id=%s/part-%s.parquet", prefix, dtStr, shop, randHex(8))
			if err := h.writeParquetRowToS3(ctx, bucket, key, row); err != nil {
				return nil, fmt.Errorf("write parquet for shop=%s dt=%s: %w", shop, dtStr, err)
			}
			written++
		}
	}

	return map[string]any{
		"ok":        true,
		"shops":     len(shops),
		"days_back": daysBack,
		"written":   written,
		"bucket":    bucket,
		"prefix":    prefix,
	}, nil
}

func aggregate(shop, dtStr string, recs []sync.RunRecord) SyncMetricsRow {
	row := SyncMetricsRow{Shop: shop, MetricDate: dtStr, Runs: int64(len(recs))}
	var totalMS int64
	for _, r := range recs {
		row.PostsSeen += int64(r.PostsSeen)
		row.PostsUploaded += int64(r.PostsUploaded)
		row.FilesUploaded += int64(r.FilesUploaded)
		row.PostsSkipped += int64(r.PostsSkipped)
		row.PostsFailed += int64(r.PostsFailed)
		if r.Status == "failed" {
			row.FailedRuns++
		}
		totalMS += r.DurationMS
	}
	row.AvgDurationMS = float64(totalMS) / float64(len(recs))
	return row
}

func (h *SyncMetricsETL) writeParquetRowToS3(ctx context.Context, bucket, key string, row SyncMetricsRow) error {
	localPath := filepath.Join(os.TempDir(), "sync_metrics_"+randHex(8)+".parquet")

	fw, err := local.NewLocalFileWriter(localPath)
	if err != nil {
		return fmt.Errorf("parquet file writer: %w", err)
	}

	pw, err := writer.NewParquetWriter(fw, new(SyncMetricsRow), 1)
	if err != nil {
		_ = fw.Close()
		return fmt.Errorf("parquet writer: %w", err)
	}
	pw.RowGroupSize = 128 * 1024 * 1024
	pw.PageSize = 8 * 1024
	pw.CompressionType = 0

	if err := pw.Write(row); err != nil {
		_ = pw.WriteStop()
		_ = fw.Close()
		return fmt.Errorf("parquet write row: %w", err)
	}
	if err := pw.WriteStop(); err != nil {
		_ = fw.Close()
		return fmt.Errorf("parquet write stop: %w", err)
	}
	if err := fw.Close(); err != nil {
		return fmt.Errorf("parquet close: %w", err)
	}

	data, err := os.ReadFile(localPath)
	if err != nil {
		return fmt.Errorf("read parquet tmp: %w", err)
	}
	defer func() { _ = os.Remove(localPath) }()

	_, err = h.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
		ACL:         s3types.ObjectCannedACLPrivate,
	})
	if err != nil {
		return fmt.Errorf("s3 putobject: %w", err)
	}
	return nil
}

func randHex(nBytes int) string {
	b := make([]byte, nBytes)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
