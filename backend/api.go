package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"strdash/core"
)

// API is the typed surface over the backend routing table.
type API struct {
	client *Client
}

// NewAPI wraps a client.
func NewAPI(client *Client) *API {
	return &API{client: client}
}

// Client returns the underlying client.
func (a *API) Client() *Client {
	return a.client
}

// Period is the date window sent to period-scoped endpoints.
type Period struct {
	Start string
	End   string
}

func (p Period) form(dst map[string]string) {
	dst["start_date"] = p.Start
	dst["end_date"] = p.End
}

// QueryAlert fetches the alert rows for alertID. Zero rows is not an
// error here; the search decides what an empty alert means.
func (a *API) QueryAlert(ctx context.Context, alertID string) (*core.Table, error) {
	resp, err := a.client.Post(ctx, EndpointAlert, map[string]string{"alert_id": alertID})
	if err != nil {
		return nil, err
	}
	return resp.Table()
}

// QueryCustomer fetches the unified customer profile.
func (a *API) QueryCustomer(ctx context.Context, custID string) (*core.Table, error) {
	return a.table(ctx, EndpointCustomer, map[string]string{"cust_id": custID})
}

// QueryRuleHistory fetches past alerts matching a rule combination key.
func (a *API) QueryRuleHistory(ctx context.Context, ruleKey string) (*core.Table, error) {
	return a.table(ctx, EndpointRuleHistory, map[string]string{"rule_key": ruleKey})
}

// QueryCorpRelated fetches persons related to a corporate customer.
func (a *API) QueryCorpRelated(ctx context.Context, custID string) (*core.Table, error) {
	return a.table(ctx, EndpointCorpRelated, map[string]string{"cust_id": custID})
}

// QueryPersonRelated fetches the related-person summary for an
// individual customer over the investigation window.
func (a *API) QueryPersonRelated(ctx context.Context, custID string, period Period) (*core.Table, error) {
	form := map[string]string{"cust_id": custID}
	period.form(form)
	return a.table(ctx, EndpointPersonRelated, form)
}

// DuplicateQuery carries the profile attributes matched against other
// customers.
type DuplicateQuery struct {
	CustID           string
	Email            string
	Phone            string
	Address          string
	DetailAddress    string
	WorkplaceName    string
	WorkplaceAddress string
}

// QueryDuplicates fetches customers sharing contact or address details.
func (a *API) QueryDuplicates(ctx context.Context, q DuplicateQuery) (*core.Table, error) {
	phoneSuffix := q.Phone
	if len(phoneSuffix) > 4 {
		phoneSuffix = phoneSuffix[len(phoneSuffix)-4:]
	}
	return a.table(ctx, EndpointDuplicate, map[string]string{
		"current_cust_id":   q.CustID,
		"full_email":        q.Email,
		"phone_suffix":      phoneSuffix,
		"address":           q.Address,
		"detail_address":    q.DetailAddress,
		"workplace_name":    q.WorkplaceName,
		"workplace_address": q.WorkplaceAddress,
	})
}

// QueryIPHistory fetches login IP history for a member id.
func (a *API) QueryIPHistory(ctx context.Context, memberID string, period Period) (*core.Table, error) {
	form := map[string]string{"mem_id": memberID}
	period.form(form)
	return a.table(ctx, EndpointIPHistory, form)
}

// OrderbookHandle identifies an order book cached server-side.
type OrderbookHandle struct {
	CacheKey string
	Rows     int64
}

// QueryOrderbook asks the backend to load the member's order book for
// the window and cache it. The rows stay server-side.
func (a *API) QueryOrderbook(ctx context.Context, memberID string, period Period) (*OrderbookHandle, error) {
	form := map[string]string{"user_id": memberID}
	period.form(form)

	resp, err := a.client.Post(ctx, EndpointOrderbook, form)
	if err != nil {
		return nil, err
	}
	key := resp.String("cache_key")
	if key == "" {
		return nil, &Error{Kind: KindDecode, Endpoint: EndpointOrderbook, Message: "response has no cache_key"}
	}
	return &OrderbookHandle{CacheKey: key, Rows: resp.Int("rows_count")}, nil
}

// OrderbookAnalysis is the analysed trading pattern of a cached order
// book.
type OrderbookAnalysis struct {
	Summary *core.Table
	Daily   *core.Table
	Totals  map[string]any
}

// AnalyzeOrderbook analyses a cached order book.
func (a *API) AnalyzeOrderbook(ctx context.Context, cacheKey string) (*OrderbookAnalysis, error) {
	resp, err := a.client.Post(ctx, EndpointOrderbookAnalyze, map[string]string{"cache_key": cacheKey})
	if err != nil {
		return nil, err
	}

	out := &OrderbookAnalysis{Totals: map[string]any{}}
	if out.Summary, err = resp.TableField("summary"); err != nil {
		return nil, err
	}
	if out.Summary.Empty() {
		if out.Summary, err = resp.Table(); err != nil {
			return nil, err
		}
	}
	if out.Daily, err = resp.TableField("daily"); err != nil {
		return nil, err
	}
	if resp.Has("totals") {
		if err := resp.Field("totals", &out.Totals); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// SaveToSession stores a JSON-encoded value in the backend session so
// that the export can be staged from it.
func (a *API) SaveToSession(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode session value %s: %w", key, err)
	}
	_, err = a.client.Post(ctx, EndpointSaveToSession, map[string]string{
		"key":  key,
		"data": string(data),
	})
	return err
}

// ConnectionReport is the outcome of a connection test or connect-all.
type ConnectionReport struct {
	Success        bool
	Message        string
	PrimaryOK      bool
	AnalyticsOK    bool
	PrimaryError   string
	AnalyticsError string
}

// TestPrimary tests the Oracle connection with the given form fields.
// A refused connection is reported, not returned as an error.
func (a *API) TestPrimary(ctx context.Context, form map[string]string) (*ConnectionReport, error) {
	return a.connection(ctx, EndpointTestPrimary, form)
}

// TestAnalytics tests the Redshift connection.
func (a *API) TestAnalytics(ctx context.Context, form map[string]string) (*ConnectionReport, error) {
	return a.connection(ctx, EndpointTestAnalytics, form)
}

// ConnectAll connects both data sources in one request.
func (a *API) ConnectAll(ctx context.Context, form map[string]string) (*ConnectionReport, error) {
	return a.connection(ctx, EndpointConnectAll, form)
}

func (a *API) connection(ctx context.Context, endpoint string, form map[string]string) (*ConnectionReport, error) {
	resp, err := a.client.Do(ctx, endpoint, form)
	if err != nil {
		return nil, err
	}

	report := &ConnectionReport{
		Success:        resp.Success,
		Message:        resp.Message,
		PrimaryOK:      resp.String("oracle_status") == "ok",
		AnalyticsOK:    resp.String("redshift_status") == "ok",
		PrimaryError:   resp.String("oracle_error"),
		AnalyticsError: resp.String("redshift_error"),
	}
	// Single-source tests may only report success.
	switch endpoint {
	case EndpointTestPrimary:
		if !resp.Has("oracle_status") {
			report.PrimaryOK = resp.Success
		}
	case EndpointTestAnalytics:
		if !resp.Has("redshift_status") {
			report.AnalyticsOK = resp.Success
		}
	}
	return report, nil
}

// ExportTicket is returned by a successful export preparation.
type ExportTicket struct {
	DownloadURL string
	Message     string
}

// PrepareTOML stages the export artifact from session-held data.
func (a *API) PrepareTOML(ctx context.Context) (*ExportTicket, error) {
	resp, err := a.client.Post(ctx, EndpointPrepareTOML, map[string]string{})
	if err != nil {
		return nil, err
	}

	ticket := &ExportTicket{Message: resp.Message, DownloadURL: resp.String("download_url")}
	if ticket.DownloadURL == "" {
		if ticket.DownloadURL, err = a.client.URL(EndpointDownloadTOML); err != nil {
			return nil, err
		}
	}
	return ticket, nil
}

// DownloadTOML streams the prepared artifact to w.
func (a *API) DownloadTOML(ctx context.Context, w io.Writer) (string, int64, error) {
	return a.client.Download(ctx, EndpointDownloadTOML, w)
}

func (a *API) table(ctx context.Context, endpoint string, form map[string]string) (*core.Table, error) {
	resp, err := a.client.Post(ctx, endpoint, form)
	if err != nil {
		return nil, err
	}
	return resp.Table()
}
