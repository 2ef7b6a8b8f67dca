package tasks

// Task type names, used both as asynq task types and as executor
// registry keys.
const (
	TypeEmailConfirm   = "email:confirm"
	TypeEmailReset     = "email:reset"
	TypeEmailNewUser   = "email:new_user"
	TypeSearchReindex  = "search:reindex"
	TypeImportFile     = "import:file"
	TypeExportDB       = "export:db"
	TypeReportGenerate = "report:generate"
)

// EmailConfirmPayload asks the worker to mail a confirmation link to a
// freshly registered user.
type EmailConfirmPayload struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Token    string `json:"token"`
}

// EmailResetPayload asks the worker to mail a password reset link.
type EmailResetPayload struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Token    string `json:"token"`
}

// EmailNewUserPayload notifies tree owners that a registered user is
// waiting for approval.
type EmailNewUserPayload struct {
	Username string   `json:"username"`
	FullName string   `json:"fullname"`
	Email    string   `json:"email"`
	Tree     string   `json:"tree"`
	Owners   []string `json:"owners"`
}

// SearchReindexPayload triggers a search index rebuild for a tree.
type SearchReindexPayload struct {
	Tree string `json:"tree"`
	Full bool   `json:"full"`
}

// ImportFilePayload imports an uploaded file into a tree.
type ImportFilePayload struct {
	Tree   string `json:"tree"`
	Path   string `json:"path"`
	Format string `json:"format"`
}

// ExportDBPayload exports a tree database to a downloadable file.
type ExportDBPayload struct {
	Tree   string `json:"tree"`
	Format string `json:"format"`
}

// ReportGeneratePayload renders a report for a tree.
type ReportGeneratePayload struct {
	Tree     string            `json:"tree"`
	ReportID string            `json:"report_id"`
	Options  map[string]string `json:"options,omitempty"`
}
