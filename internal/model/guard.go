package model

// Category is the closed classification vocabulary shared by the input and
// output guards.
type Category string

const (
	CategoryDIY       Category = "DIY"
	CategoryKIControl Category = "KI_CONTROL"
	CategoryReject    Category = "REJECT"
	CategoryUnknown   Category = "UNKNOWN"
)

// GuardResult is the input classifier's verdict on a user query.
type GuardResult struct {
	Category Category `json:"category"`
	Reasons  []string `json:"reasons"`
}

// AuditResult is the output auditor's verdict on a generated report.
type AuditResult struct {
	Allowed  bool     `json:"allowed"`
	Category Category `json:"category"`
	Issues   []string `json:"issues"`
}
