package core

// Business column identifiers. Backend result sets are matched against
// these names case-sensitively.
const (
	ColAlertID   = "STR_ALERT_ID"
	ColRuleID    = "STR_RULE_ID"
	ColRuleName  = "STR_RULE_NM"
	ColCustID    = "CUST_ID"
	ColTranStart = "TRAN_STRT"
	ColTranEnd   = "TRAN_END"

	// Customer profile columns
	ColCustType         = "CUST_TYPE_CD"
	ColMemberID         = "MID"
	ColKYCDatetime      = "KYC_DTM"
	ColEmail            = "EMAIL"
	ColPhone            = "PHONE"
	ColAddress          = "ADDRESS"
	ColDetailAddress    = "DETAIL_ADDRESS"
	ColWorkplaceName    = "WORKPLACE_NAME"
	ColWorkplaceAddress = "WORKPLACE_ADDRESS"

	// ColMatchTypes lists the attributes a duplicate-person row matched on.
	ColMatchTypes = "MATCH_TYPES"
)

// Look-back lengths in months for the transaction period.
const (
	DefaultMonthsBack = 3
	SpecialMonthsBack = 12
)

// Full-day bounds appended to period dates. These are literal strings
// consumed by the backend, not timestamps produced by a clock.
const (
	DayStartSuffix = " 00:00:00.000000000"
	DayEndSuffix   = " 23:59:59.999999999"
)

// Section identifies one collapsible result section of the dashboard.
type Section string

const (
	SectionAlertHistory     Section = "alert_history"
	SectionCustomer         Section = "customer"
	SectionRuleHistory      Section = "rule_history"
	SectionCorpRelated      Section = "corp_related"
	SectionPersonRelated    Section = "person_related"
	SectionDuplicatePersons Section = "duplicate_persons"
	SectionIPHistory        Section = "ip_history"
	SectionOrderbook        Section = "orderbook"
	SectionObjectives       Section = "objectives"
	SectionRuleDescription  Section = "rule_description"
)

// String returns the string representation
func (s Section) String() string {
	return string(s)
}

// Title returns the heading shown above the section.
func (s Section) Title() string {
	switch s {
	case SectionAlertHistory:
		return "Alert History"
	case SectionCustomer:
		return "Customer Profile"
	case SectionRuleHistory:
		return "Rule History"
	case SectionCorpRelated:
		return "Corporate Related Persons"
	case SectionPersonRelated:
		return "Person Related Transactions"
	case SectionDuplicatePersons:
		return "Duplicate Persons"
	case SectionIPHistory:
		return "IP Access History"
	case SectionOrderbook:
		return "Order Book Analysis"
	case SectionObjectives:
		return "Rule Objectives"
	case SectionRuleDescription:
		return "Rule Descriptions"
	default:
		return string(s)
	}
}

// SectionOrder is the fixed display order of the dashboard sections.
var SectionOrder = []Section{
	SectionAlertHistory,
	SectionCustomer,
	SectionCorpRelated,
	SectionPersonRelated,
	SectionDuplicatePersons,
	SectionIPHistory,
	SectionOrderbook,
	SectionRuleHistory,
	SectionObjectives,
	SectionRuleDescription,
}
