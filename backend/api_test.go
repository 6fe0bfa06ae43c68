package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAPI_QueryOrderbookAndAnalyze(t *testing.T) {
	f := newFakeDjango(t)
	f.handleJSON("/api/query_redshift_orderbook/", func(r *http.Request) any {
		assert.Equal(t, "M100", r.PostFormValue("user_id"))
		assert.Equal(t, "2024-01-10 00:00:00.000000000", r.PostFormValue("start_date"))
		assert.Equal(t, "2024-04-10 23:59:59.999999999", r.PostFormValue("end_date"))
		return map[string]any{"success": true, "cache_key": "ob:M100", "rows_count": 1500}
	})
	f.handleJSON("/api/analyze_cached_orderbook/", func(r *http.Request) any {
		assert.Equal(t, "ob:M100", r.PostFormValue("cache_key"))
		return map[string]any{
			"success": true,
			"summary": map[string]any{"columns": []string{"PATTERN", "COUNT"}, "rows": [][]any{{"wash", 3}}},
			"daily":   map[string]any{"columns": []string{"DAY", "VOLUME"}, "rows": [][]any{{"2024-02-01", 10}}},
			"totals":  map[string]any{"buy_amount": 1000},
		}
	})
	api := NewAPI(newTestClient(t, f, nil))
	ctx := context.Background()

	handle, err := api.QueryOrderbook(ctx, "M100", Period{
		Start: "2024-01-10 00:00:00.000000000",
		End:   "2024-04-10 23:59:59.999999999",
	})
	require.NoError(t, err)
	assert.Equal(t, "ob:M100", handle.CacheKey)
	assert.Equal(t, int64(1500), handle.Rows)

	analysis, err := api.AnalyzeOrderbook(ctx, handle.CacheKey)
	require.NoError(t, err)
	assert.Equal(t, "wash", analysis.Summary.String(0, "PATTERN"))
	assert.Equal(t, "10", analysis.Daily.String(0, "VOLUME"))
	assert.Equal(t, json.Number("1000"), analysis.Totals["buy_amount"])
}

func TestAPI_QueryOrderbookWithoutCacheKey(t *testing.T) {
	f := newFakeDjango(t)
	f.handleJSON("/api/query_redshift_orderbook/", func(*http.Request) any {
		return map[string]any{"success": true}
	})
	api := NewAPI(newTestClient(t, f, nil))

	_, err := api.QueryOrderbook(context.Background(), "M1", Period{})
	assert.True(t, IsKind(err, KindDecode))
}

func TestAPI_QueryDuplicatesSendsPhoneSuffix(t *testing.T) {
	f := newFakeDjango(t)
	f.handleJSON("/api/query_duplicate_unified/", func(r *http.Request) any {
		assert.Equal(t, "5678", r.PostFormValue("phone_suffix"))
		assert.Equal(t, "kim@example.com", r.PostFormValue("full_email"))
		assert.Equal(t, "C1", r.PostFormValue("current_cust_id"))
		return map[string]any{
			"success": true,
			"columns": []string{"CUST_ID", "MATCH_TYPES"},
			"rows":    [][]any{{"C2", "EMAIL,PHONE"}},
		}
	})
	api := NewAPI(newTestClient(t, f, nil))

	table, err := api.QueryDuplicates(context.Background(), DuplicateQuery{
		CustID: "C1",
		Email:  "kim@example.com",
		Phone:  "010-1234-5678",
	})
	require.NoError(t, err)
	assert.Equal(t, "EMAIL,PHONE", table.String(0, "MATCH_TYPES"))
}

func TestAPI_SaveToSessionEncodesJSON(t *testing.T) {
	f := newFakeDjango(t)
	f.handleJSON("/api/save_to_session/", func(r *http.Request) any {
		assert.Equal(t, "current_alert_data", r.PostFormValue("key"))
		var decoded map[string]any
		require.NoError(t, json.Unmarshal([]byte(r.PostFormValue("data")), &decoded))
		assert.Equal(t, "A1", decoded["alert_id"])
		return map[string]any{"success": true}
	})
	api := NewAPI(newTestClient(t, f, nil))

	err := api.SaveToSession(context.Background(), "current_alert_data", map[string]string{"alert_id": "A1"})
	assert.NoError(t, err)

	err = api.SaveToSession(context.Background(), "bad", func() {})
	assert.Error(t, err)
}

func TestAPI_ConnectionReports(t *testing.T) {
	f := newFakeDjango(t)
	f.handleJSON("/api/test_oracle_connection/", func(r *http.Request) any {
		if r.PostFormValue("host") == "" {
			return map[string]any{"success": false, "message": "host required"}
		}
		return map[string]any{"success": true, "message": "Oracle connection ok"}
	})
	f.handleJSON("/api/connect_all_databases/", func(r *http.Request) any {
		return map[string]any{
			"success":         true,
			"oracle_status":   "ok",
			"redshift_status": "failed",
			"redshift_error":  "timeout",
		}
	})
	api := NewAPI(newTestClient(t, f, nil))
	ctx := context.Background()

	report, err := api.TestPrimary(ctx, map[string]string{"host": "db"})
	require.NoError(t, err)
	assert.True(t, report.PrimaryOK)

	report, err = api.TestPrimary(ctx, map[string]string{})
	require.NoError(t, err, "refused connections are reported, not returned")
	assert.False(t, report.PrimaryOK)
	assert.Equal(t, "host required", report.Message)

	report, err = api.ConnectAll(ctx, map[string]string{})
	require.NoError(t, err)
	assert.True(t, report.PrimaryOK)
	assert.False(t, report.AnalyticsOK)
	assert.Equal(t, "timeout", report.AnalyticsError)
}

func TestAPI_PrepareTOML(t *testing.T) {
	f := newFakeDjango(t)
	f.handleJSON("/api/prepare_toml_data/", func(*http.Request) any {
		return map[string]any{"success": true, "message": "ready"}
	})
	api := NewAPI(newTestClient(t, f, nil))

	ticket, err := api.PrepareTOML(context.Background())
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(ticket.DownloadURL, "/api/download_toml/"))
	assert.Equal(t, "ready", ticket.Message)
}

func TestAPI_PrepareTOMLFailure(t *testing.T) {
	f := newFakeDjango(t)
	f.handleJSON("/api/prepare_toml_data/", func(*http.Request) any {
		return map[string]any{"success": false, "message": "No alert data in session"}
	})
	api := NewAPI(newTestClient(t, f, nil))

	_, err := api.PrepareTOML(context.Background())
	assert.True(t, IsKind(err, KindBusiness))
	assert.Equal(t, "No alert data in session", UserMessage(err, ""))
}
