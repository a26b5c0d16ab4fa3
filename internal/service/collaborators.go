package service

import "context"

// DataMetaInfo is the resolved metadata of an uploaded dataset.
type DataMetaInfo struct {
	DataID          string `json:"data_id"`
	CompanyID       string `json:"company_id"`
	DataType        string `json:"data_type"`
	ReportingPeriod string `json:"reporting_period"`
}

// MetadataClient resolves dataset ids against the backend's metadata API.
type MetadataClient interface {
	GetDataMetaInfo(ctx context.Context, dataID string) (*DataMetaInfo, error)
}

// CompanyClient looks up company master data owned by the backend service.
type CompanyClient interface {
	// GetSubsidiaries returns the company ids of the direct subsidiaries only.
	GetSubsidiaries(ctx context.Context, companyID string) ([]string, error)
	// GetContactEmails returns the company's investor-relations contact list,
	// or an empty slice when none is maintained.
	GetContactEmails(ctx context.Context, companyID string) ([]string, error)
	GetCompanyName(ctx context.Context, companyID string) (string, error)
}

// QaClient queries the QA service's review history.
type QaClient interface {
	// HasEarlierAcceptedVersion reports whether a previously QA-accepted
	// dataset already exists for the (company, framework, period) triple.
	HasEarlierAcceptedVersion(ctx context.Context, companyID, dataType, reportingPeriod string) (bool, error)
}

// TemplateKind selects the email template rendered by the email service.
type TemplateKind string

const (
	TemplateRequestAnswered  TemplateKind = "request-answered"
	TemplateDataUpdated      TemplateKind = "data-updated"
	TemplateNonSourceable    TemplateKind = "data-non-sourceable"
	TemplateRequestClosed    TemplateKind = "request-closed-stale"
	TemplateAccessGranted    TemplateKind = "access-granted"
	TemplateContactCompany   TemplateKind = "contact-company"
	TemplateRequestSummary   TemplateKind = "request-summary"
	TemplateInvestorRelation TemplateKind = "investor-relations"
)

// TemplateEmail is the envelope handed to the email service. Exactly one of
// RecipientUserID / RecipientEmails is set. Rendering happens downstream.
type TemplateEmail struct {
	Kind            TemplateKind      `json:"kind"`
	RecipientUserID string            `json:"recipient_user_id,omitempty"`
	RecipientEmails []string          `json:"recipient_emails,omitempty"`
	Properties      map[string]string `json:"properties"`
	CorrelationID   string            `json:"correlation_id"`
}

// EmailDispatcher hands an email off for delivery. Fire-and-forget from the
// engine's perspective: failures are logged by callers, never retried here.
type EmailDispatcher interface {
	Send(ctx context.Context, email TemplateEmail) error
}
