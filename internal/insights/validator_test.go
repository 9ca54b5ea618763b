package insights

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func validateOpts() ValidateOptions {
	return ValidateOptions{
		AllowedShopIDs:  []string{"test.myshopify.com"},
		MaxDaysLookback: 90,
		TodayISO:        "2026-08-28",
	}
}

func TestValidateSQLAccepts(t *testing.T) {
	cases := []string{
		"SELECT COALESCE(SUM(posts_failed), 0) AS total_failed FROM sync_metrics WHERE shop_id = 'test.myshopify.com' AND dt >= date '2026-08-01'",
		"select dt, runs from sync_metrics where shop_id in ('test.myshopify.com') and dt between date '2026-08-01' and date '2026-08-28'",
		"WITH daily AS (SELECT dt, posts_uploaded FROM sync_metrics WHERE shop_id = 'test.myshopify.com' AND dt >= '2026-08-01') SELECT dt, posts_uploaded FROM daily",
	}
	for _, sql := range cases {
		assert.NoError(t, ValidateSQL(sql, validateOpts()), sql)
	}
}

func TestValidateSQLRejects(t *testing.T) {
	cases := map[string]string{
		"empty":             "",
		"mutation":          "DELETE FROM sync_metrics WHERE shop_id = 'test.myshopify.com' AND dt >= date '2026-08-01'",
		"chained statement": "SELECT 1; DROP TABLE sync_metrics",
		"comment":           "SELECT runs FROM sync_metrics WHERE shop_id = 'test.myshopify.com' AND dt >= date '2026-08-01' -- sneaky",
		"no shop filter":    "SELECT runs FROM sync_metrics WHERE dt >= date '2026-08-01'",
		"foreign shop":      "SELECT runs FROM sync_metrics WHERE shop_id = 'other.myshopify.com' AND dt >= date '2026-08-01'",
		"in list escape":    "SELECT runs FROM sync_metrics WHERE shop_id IN ('test.myshopify.com', 'other.myshopify.com') AND dt >= date '2026-08-01'",
		"no dt filter":      "SELECT runs FROM sync_metrics WHERE shop_id = 'test.myshopify.com'",
		"upper bound only":  "SELECT runs FROM sync_metrics WHERE shop_id = 'test.myshopify.com' AND dt <= date '2026-08-01'",
		"lookback too far":  "SELECT runs FROM sync_metrics WHERE shop_id = 'test.myshopify.com' AND dt >= date '2025-01-01'",
	}
	for name, sql := range cases {
		err := ValidateSQL(sql, validateOpts())
		assert.ErrorIs(t, err, ErrRejectedSQL, name)
	}
}

func TestExtractFirstJSONObject(t *testing.T) {
	assert.Equal(t, `{"sql":"select 1"}`, extractFirstJSONObject("Here you go: {\"sql\":\"select 1\"} hope that helps"))
	assert.Equal(t, `{"a":{"b":1}}`, extractFirstJSONObject(`{"a":{"b":1}}`))
	assert.Empty(t, extractFirstJSONObject("no json here"))
	assert.Empty(t, extractFirstJSONObject("{unbalanced"))
}
