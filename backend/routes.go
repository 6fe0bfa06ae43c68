package backend

import (
	"fmt"
	"sort"
	"strings"
)

// Route names. Paths come from the routing table so that deployments can
// remap them without code changes.
const (
	EndpointTestPrimary      = "test_oracle"
	EndpointTestAnalytics    = "test_redshift"
	EndpointConnectAll       = "connect_all"
	EndpointAlert            = "alert"
	EndpointCustomer         = "customer"
	EndpointRuleHistory      = "rule_history"
	EndpointCorpRelated      = "corp_related"
	EndpointPersonRelated    = "person_related"
	EndpointDuplicate        = "duplicate"
	EndpointIPHistory        = "ip_history"
	EndpointOrderbook        = "orderbook"
	EndpointOrderbookAnalyze = "orderbook_analyze"
	EndpointSaveToSession    = "save_to_session"
	EndpointPrepareTOML      = "prepare_toml"
	EndpointDownloadTOML     = "download_toml"
)

// Routes maps route names to server-relative paths.
type Routes map[string]string

// DefaultRoutes returns the stock Django routing table.
func DefaultRoutes() Routes {
	return Routes{
		EndpointTestPrimary:      "/api/test_oracle_connection/",
		EndpointTestAnalytics:    "/api/test_redshift_connection/",
		EndpointConnectAll:       "/api/connect_all_databases/",
		EndpointAlert:            "/api/query_alert_info/",
		EndpointCustomer:         "/api/query_customer_unified_info/",
		EndpointRuleHistory:      "/api/rule_history_search/",
		EndpointCorpRelated:      "/api/query_corp_related_persons/",
		EndpointPersonRelated:    "/api/query_person_related_summary/",
		EndpointDuplicate:        "/api/query_duplicate_unified/",
		EndpointIPHistory:        "/api/query_ip_access_history/",
		EndpointOrderbook:        "/api/query_redshift_orderbook/",
		EndpointOrderbookAnalyze: "/api/analyze_cached_orderbook/",
		EndpointSaveToSession:    "/api/save_to_session/",
		EndpointPrepareTOML:      "/api/prepare_toml_data/",
		EndpointDownloadTOML:     "/api/download_toml/",
	}
}

// WithOverrides returns a copy of r with the non-empty overrides applied.
func (r Routes) WithOverrides(overrides map[string]string) Routes {
	out := make(Routes, len(r)+len(overrides))
	for k, v := range r {
		out[k] = v
	}
	for k, v := range overrides {
		if v = strings.TrimSpace(v); v != "" {
			out[k] = v
		}
	}
	return out
}

// Path returns the path registered for name.
func (r Routes) Path(name string) (string, error) {
	p, ok := r[name]
	if !ok || p == "" {
		return "", fmt.Errorf("%w: %s", ErrUnknownEndpoint, name)
	}
	return p, nil
}

// Validate checks that every stock route has a server-relative path.
func (r Routes) Validate() error {
	names := make([]string, 0, len(DefaultRoutes()))
	for name := range DefaultRoutes() {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		p, err := r.Path(name)
		if err != nil {
			return err
		}
		if !strings.HasPrefix(p, "/") {
			return fmt.Errorf("route %s must be server-relative, got %q", name, p)
		}
	}
	return nil
}
