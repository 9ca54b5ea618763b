package etl

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"instafeed/internal/sync"
)

func TestAggregate(t *testing.T) {
	recs := []sync.RunRecord{
		{PostsSeen: 10, PostsUploaded: 4, FilesUploaded: 6, PostsSkipped: 6, DurationMS: 1000, Status: "ok"},
		{PostsSeen: 10, PostsUploaded: 0, PostsSkipped: 10, DurationMS: 500, Status: "ok"},
		{PostsFailed: 2, DurationMS: 1500, Status: "failed"},
	}

	row := aggregate("test.myshopify.com", "2026-08-27", recs)

	assert.Equal(t, "test.myshopify.com", row.Shop)
	assert.Equal(t, "2026-08-27", row.MetricDate)
	assert.Equal(t, int64(3), row.Runs)
	assert.Equal(t, int64(20), row.PostsSeen)
	assert.Equal(t, int64(4), row.PostsUploaded)
	assert.Equal(t, int64(6), row.FilesUploaded)
	assert.Equal(t, int64(16), row.PostsSkipped)
	assert.Equal(t, int64(2), row.PostsFailed)
	assert.Equal(t, int64(1), row.FailedRuns)
	assert.InDelta(t, 1000.0, row.AvgDurationMS, 0.01)
}
