package core

import (
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

// DerivedAlertContext is derived once per search from the primary alert
// result set. Empty strings mean "absent".
type DerivedAlertContext struct {
	RepRuleID       string   `json:"rep_rule_id,omitempty"`
	CustIDForPerson string   `json:"cust_id_for_person,omitempty"`
	CanonicalIDs    []string `json:"canonical_ids"`
}

// HasRuleData reports whether any rule ids were derived.
func (d DerivedAlertContext) HasRuleData() bool {
	return len(d.CanonicalIDs) > 0
}

// ProcessAlertData derives the representative rule, the customer id and
// the canonical rule id list from an alert result set.
//
// The representative row is the one whose STR_ALERT_ID equals alertID
// (compared as strings). When no representative customer is found the
// first row's CUST_ID is used. Canonical ids are the trimmed STR_RULE_ID
// values in first-seen order with nulls and blanks skipped. A result set
// without STR_ALERT_ID or STR_RULE_ID yields no rule data rather than an
// error.
func ProcessAlertData(t *Table, alertID string) DerivedAlertContext {
	derived := DerivedAlertContext{CanonicalIDs: []string{}}
	if t.Empty() {
		return derived
	}

	alertIdx := t.Index(ColAlertID)
	ruleIdx := t.Index(ColRuleID)
	custIdx := t.Index(ColCustID)

	if alertIdx >= 0 {
		for _, row := range t.Rows {
			if ScalarString(row[alertIdx]) != alertID {
				continue
			}
			if ruleIdx >= 0 && !IsNull(row[ruleIdx]) {
				derived.RepRuleID = ScalarString(row[ruleIdx])
			}
			if custIdx >= 0 && !IsNull(row[custIdx]) {
				derived.CustIDForPerson = ScalarString(row[custIdx])
			}
			break
		}
	}

	if alertIdx >= 0 && ruleIdx >= 0 {
		seen := make(map[string]struct{})
		for _, row := range t.Rows {
			if row[ruleIdx] == nil {
				continue
			}
			// Blank ids cannot key a rule history lookup.
			id := strings.TrimSpace(ScalarString(row[ruleIdx]))
			if id == "" {
				continue
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			derived.CanonicalIDs = append(derived.CanonicalIDs, id)
		}
	}

	if derived.CustIDForPerson == "" && custIdx >= 0 && !IsNull(t.Rows[0][custIdx]) {
		derived.CustIDForPerson = ScalarString(t.Rows[0][custIdx])
	}

	return derived
}

// TransactionPeriod is the investigation window derived from the alert
// rows. Start and End are empty when the window could not be derived.
type TransactionPeriod struct {
	Start      string `json:"start,omitempty"`
	End        string `json:"end,omitempty"`
	MonthsBack int    `json:"months_back"`

	// Diagnostics
	HasSpecialRule   bool   `json:"has_special_rule"`
	OriginalMinStart string `json:"original_min_start,omitempty"`
	OriginalMaxEnd   string `json:"original_max_end,omitempty"`
	CalculatedStart  string `json:"calculated_start,omitempty"`
	FinalStartDate   string `json:"final_start_date,omitempty"`
	UsedKYCDate      bool   `json:"used_kyc_date"`
	KYCDate          string `json:"kyc_date,omitempty"`
}

// Valid reports whether both bounds were derived.
func (p TransactionPeriod) Valid() bool {
	return p.Start != "" && p.End != ""
}

// StartDate returns the date portion of Start.
func (p TransactionPeriod) StartDate() string {
	return datePortion(p.Start)
}

// EndDate returns the date portion of End.
func (p TransactionPeriod) EndDate() string {
	return datePortion(p.End)
}

// ExtractTransactionPeriod derives the investigation window.
//
// The look-back is 12 months when any row carries a special rule id and 3
// months otherwise. The window starts at the earlier of the minimum
// TRAN_STRT and (maximum TRAN_END minus the look-back), floored at the KYC
// completion date when one is given, and ends at the maximum TRAN_END.
// Missing TRAN_STRT or TRAN_END columns yield an empty window.
func ExtractTransactionPeriod(t *Table, special SpecialRuleSet, kycDatetime string) TransactionPeriod {
	period := TransactionPeriod{MonthsBack: DefaultMonthsBack}
	if t == nil {
		return period
	}

	if ruleIdx := t.Index(ColRuleID); ruleIdx >= 0 {
		for _, row := range t.Rows {
			if special.Contains(ScalarString(row[ruleIdx])) {
				period.HasSpecialRule = true
				period.MonthsBack = SpecialMonthsBack
				break
			}
		}
	}

	startIdx := t.Index(ColTranStart)
	endIdx := t.Index(ColTranEnd)
	if startIdx < 0 || endIdx < 0 {
		return period
	}

	var minStart, maxEnd string
	for _, row := range t.Rows {
		if s := normalizeDateTime(ScalarString(row[startIdx])); s != "" {
			if minStart == "" || s < minStart {
				minStart = s
			}
		}
		if e := normalizeDateTime(ScalarString(row[endIdx])); e != "" {
			if maxEnd == "" || e > maxEnd {
				maxEnd = e
			}
		}
	}
	period.OriginalMinStart = datePortion(minStart)
	period.OriginalMaxEnd = datePortion(maxEnd)

	if d, err := time.Parse(dateLayout, period.OriginalMaxEnd); err == nil {
		period.CalculatedStart = d.AddDate(0, -period.MonthsBack, 0).Format(dateLayout)
	}

	final := earlierDate(period.OriginalMinStart, period.CalculatedStart)

	if kyc := datePortion(normalizeDateTime(kycDatetime)); kyc != "" && final != "" {
		if _, err := time.Parse(dateLayout, kyc); err == nil {
			period.KYCDate = kyc
			if kyc > final {
				final = kyc
				period.UsedKYCDate = true
			}
		}
	}
	period.FinalStartDate = final

	if final != "" {
		period.Start = final + DayStartSuffix
	}
	if period.OriginalMaxEnd != "" {
		period.End = period.OriginalMaxEnd + DayEndSuffix
	}
	return period
}

// earlierDate returns the lexically smaller of two ISO dates, or whichever
// one is present.
func earlierDate(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	case b < a:
		return b
	default:
		return a
	}
}

// normalizeDateTime trims the value and rewrites compact or slash-separated
// dates into ISO form so that lexical comparison orders them correctly.
func normalizeDateTime(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return ""
	}
	v = strings.ReplaceAll(v, "/", "-")
	v = strings.Replace(v, "T", " ", 1)
	if len(v) >= 8 && isDigits(v[:8]) && (len(v) == 8 || v[8] == ' ') {
		v = v[:4] + "-" + v[4:6] + "-" + v[6:8] + v[8:]
	}
	return v
}

func datePortion(v string) string {
	if len(v) < len(dateLayout) {
		return ""
	}
	return v[:len(dateLayout)]
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return s != ""
}
