package clients

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"requesthub/internal/service"
	"requesthub/pkg/apperror"
)

// apiClient is the shared plumbing for the backend and QA service clients.
type apiClient struct {
	baseURL string
	http    *http.Client
}

func newAPIClient(baseURL string) apiClient {
	return apiClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (c apiClient) getJSON(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return apperror.NewNotFound("remote resource", path)
	case resp.StatusCode >= 400:
		return fmt.Errorf("request to %s returned status %d", path, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", path, err)
	}
	return nil
}

// BackendClient talks to the backend service owning dataset metadata and
// company master data. It implements both service.MetadataClient and
// service.CompanyClient.
type BackendClient struct {
	apiClient
}

func NewBackendClient(baseURL string) *BackendClient {
	return &BackendClient{apiClient: newAPIClient(baseURL)}
}

func (c *BackendClient) GetDataMetaInfo(ctx context.Context, dataID string) (*service.DataMetaInfo, error) {
	var meta service.DataMetaInfo
	if err := c.getJSON(ctx, "/metadata/"+url.PathEscape(dataID), &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

func (c *BackendClient) GetSubsidiaries(ctx context.Context, companyID string) ([]string, error) {
	var payload struct {
		SubsidiaryIDs []string `json:"subsidiary_ids"`
	}
	if err := c.getJSON(ctx, "/companies/"+url.PathEscape(companyID)+"/subsidiaries", &payload); err != nil {
		return nil, err
	}
	return payload.SubsidiaryIDs, nil
}

func (c *BackendClient) GetContactEmails(ctx context.Context, companyID string) ([]string, error) {
	var payload struct {
		Contacts []string `json:"contacts"`
	}
	err := c.getJSON(ctx, "/companies/"+url.PathEscape(companyID)+"/contacts", &payload)
	if err != nil {
		// A company without a maintained contact list is not an error
		var notFound *apperror.NotFoundError
		if errors.As(err, &notFound) {
			return nil, nil
		}
		return nil, err
	}
	return payload.Contacts, nil
}

func (c *BackendClient) GetCompanyName(ctx context.Context, companyID string) (string, error) {
	var payload struct {
		CompanyName string `json:"company_name"`
	}
	if err := c.getJSON(ctx, "/companies/"+url.PathEscape(companyID), &payload); err != nil {
		return "", err
	}
	return payload.CompanyName, nil
}

// QaServiceClient implements service.QaClient against the QA service's review
// history endpoint.
type QaServiceClient struct {
	apiClient
}

func NewQaServiceClient(baseURL string) *QaServiceClient {
	return &QaServiceClient{apiClient: newAPIClient(baseURL)}
}

func (c *QaServiceClient) HasEarlierAcceptedVersion(
	ctx context.Context, companyID, dataType, reportingPeriod string,
) (bool, error) {
	query := url.Values{}
	query.Set("companyId", companyID)
	query.Set("dataType", dataType)
	query.Set("reportingPeriod", reportingPeriod)

	var payload struct {
		AcceptedVersionExists bool `json:"accepted_version_exists"`
	}
	if err := c.getJSON(ctx, "/reviews/accepted?"+query.Encode(), &payload); err != nil {
		return false, err
	}
	return payload.AcceptedVersionExists, nil
}
