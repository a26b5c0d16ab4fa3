package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"requesthub/internal/model"
	"requesthub/internal/repository"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// In-memory fakes standing in for the gorm repositories and collaborating
// services. They implement just enough semantics for the engine tests.

type fakeTxManager struct{}

func (fakeTxManager) RunInTx(ctx context.Context, fn func(txCtx context.Context) error) error {
	return fn(ctx)
}

type fakeRequestRepo struct {
	mu        sync.Mutex
	requests  map[uuid.UUID]model.DataRequest
	statuses  map[uuid.UUID][]model.StatusHistoryEntry
	messages  map[uuid.UUID][]model.MessageHistoryEntry
	saveCount map[uuid.UUID]int
}

func newFakeRequestRepo() *fakeRequestRepo {
	return &fakeRequestRepo{
		requests:  make(map[uuid.UUID]model.DataRequest),
		statuses:  make(map[uuid.UUID][]model.StatusHistoryEntry),
		messages:  make(map[uuid.UUID][]model.MessageHistoryEntry),
		saveCount: make(map[uuid.UUID]int),
	}
}

func (r *fakeRequestRepo) seed(request model.DataRequest) model.DataRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	if request.ID == uuid.Nil {
		request.ID = uuid.New()
	}
	if request.CreationTimestamp.IsZero() {
		request.CreationTimestamp = time.Now()
	}
	r.requests[request.ID] = request
	return request
}

func (r *fakeRequestRepo) Create(_ context.Context, request *model.DataRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	// Mirrors the partial unique index on the live tuple
	for _, existing := range r.requests {
		if existing.UserID == request.UserID && existing.CompanyID == request.CompanyID &&
			existing.DataType == request.DataType && existing.ReportingPeriod == request.ReportingPeriod &&
			existing.RequestStatus != model.RequestStatusWithdrawn {
			return gorm.ErrDuplicatedKey
		}
	}
	request.ID = uuid.New()
	request.CreationTimestamp = time.Now()
	r.requests[request.ID] = *request
	return nil
}

func (r *fakeRequestRepo) Save(_ context.Context, request *model.DataRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.requests[request.ID]; !ok {
		return fmt.Errorf("request %s not stored", request.ID)
	}
	r.requests[request.ID] = *request
	r.saveCount[request.ID]++
	return nil
}

func (r *fakeRequestRepo) FindByID(_ context.Context, id uuid.UUID) (*model.DataRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	request, ok := r.requests[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	copied := request
	return &copied, nil
}

func (r *fakeRequestRepo) Search(_ context.Context, filter repository.RequestFilter) ([]model.DataRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var matched []model.DataRequest
	for _, request := range r.requests {
		if !matchesFilter(request, filter) {
			continue
		}
		matched = append(matched, request)
	}
	return matched, nil
}

func matchesFilter(request model.DataRequest, filter repository.RequestFilter) bool {
	if len(filter.CompanyIDs) > 0 && !containsUUID(filter.CompanyIDs, request.CompanyID) {
		return false
	}
	if len(filter.DataTypes) > 0 && !containsString(filter.DataTypes, request.DataType) {
		return false
	}
	if len(filter.ReportingPeriods) > 0 && !containsString(filter.ReportingPeriods, request.ReportingPeriod) {
		return false
	}
	if len(filter.Statuses) > 0 {
		found := false
		for _, status := range filter.Statuses {
			if status == request.RequestStatus {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if filter.UserID != nil && request.UserID != *filter.UserID {
		return false
	}
	return true
}

func containsUUID(haystack []uuid.UUID, needle uuid.UUID) bool {
	for _, id := range haystack {
		if id == needle {
			return true
		}
	}
	return false
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

func (r *fakeRequestRepo) FindLive(
	_ context.Context, userID, companyID uuid.UUID, dataType, reportingPeriod string,
) (*model.DataRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, request := range r.requests {
		if request.UserID == userID && request.CompanyID == companyID &&
			request.DataType == dataType && request.ReportingPeriod == reportingPeriod &&
			request.RequestStatus != model.RequestStatusWithdrawn {
			copied := request
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *fakeRequestRepo) FindStaleAnswered(_ context.Context, threshold time.Time) ([]model.DataRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var stale []model.DataRequest
	for _, request := range r.requests {
		if request.RequestStatus == model.RequestStatusAnswered && request.LastModifiedDate.Before(threshold) {
			stale = append(stale, request)
		}
	}
	return stale, nil
}

func (r *fakeRequestRepo) ListByUser(_ context.Context, userID uuid.UUID) ([]model.DataRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var owned []model.DataRequest
	for _, request := range r.requests {
		if request.UserID == userID {
			owned = append(owned, request)
		}
	}
	return owned, nil
}

func (r *fakeRequestRepo) AppendStatusHistory(_ context.Context, entry *model.StatusHistoryEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry.ID = uuid.New()
	r.statuses[entry.DataRequestID] = append(r.statuses[entry.DataRequestID], *entry)
	return nil
}

func (r *fakeRequestRepo) AppendMessageHistory(_ context.Context, entry *model.MessageHistoryEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry.ID = uuid.New()
	r.messages[entry.DataRequestID] = append(r.messages[entry.DataRequestID], *entry)
	return nil
}

func (r *fakeRequestRepo) ListStatusHistory(_ context.Context, requestID uuid.UUID) ([]model.StatusHistoryEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.StatusHistoryEntry(nil), r.statuses[requestID]...), nil
}

func (r *fakeRequestRepo) ListMessageHistory(_ context.Context, requestID uuid.UUID) ([]model.MessageHistoryEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.MessageHistoryEntry(nil), r.messages[requestID]...), nil
}

type fakeEventRepo struct {
	mu     sync.Mutex
	events []model.NotificationEvent
}

func (r *fakeEventRepo) Create(_ context.Context, event *model.NotificationEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	event.ID = uuid.New()
	event.CreatedAt = time.Now()
	r.events = append(r.events, *event)
	return nil
}

func (r *fakeEventRepo) FindUnprocessed(_ context.Context) ([]model.NotificationEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var pending []model.NotificationEvent
	for _, event := range r.events {
		if !event.IsProcessed {
			pending = append(pending, event)
		}
	}
	return pending, nil
}

func (r *fakeEventRepo) MarkProcessed(_ context.Context, ids []uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	marked := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		marked[id] = true
	}
	for i := range r.events {
		if marked[r.events[i].ID] {
			r.events[i].IsProcessed = true
		}
	}
	return nil
}

func (r *fakeEventRepo) ListByUser(_ context.Context, userID uuid.UUID) ([]model.NotificationEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var owned []model.NotificationEvent
	for _, event := range r.events {
		if event.UserID != nil && *event.UserID == userID {
			owned = append(owned, event)
		}
	}
	return owned, nil
}

type fakeAuditRepo struct {
	mu      sync.Mutex
	entries []model.AuditLog
}

func (r *fakeAuditRepo) Log(_ context.Context, entry *model.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, *entry)
	return nil
}

func (r *fakeAuditRepo) List(_ context.Context, _, _ int) ([]model.AuditLog, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.AuditLog(nil), r.entries...), int64(len(r.entries)), nil
}

type fakeMetadataClient struct {
	metadata map[string]DataMetaInfo
}

func (c *fakeMetadataClient) GetDataMetaInfo(_ context.Context, dataID string) (*DataMetaInfo, error) {
	meta, ok := c.metadata[dataID]
	if !ok {
		return nil, fmt.Errorf("unknown dataset %s", dataID)
	}
	return &meta, nil
}

type fakeCompanyClient struct {
	subsidiaries map[string][]string
	contacts     map[string][]string
	names        map[string]string
}

func (c *fakeCompanyClient) GetSubsidiaries(_ context.Context, companyID string) ([]string, error) {
	return c.subsidiaries[companyID], nil
}

func (c *fakeCompanyClient) GetContactEmails(_ context.Context, companyID string) ([]string, error) {
	return c.contacts[companyID], nil
}

func (c *fakeCompanyClient) GetCompanyName(_ context.Context, companyID string) (string, error) {
	if name, ok := c.names[companyID]; ok {
		return name, nil
	}
	return "", fmt.Errorf("unknown company %s", companyID)
}

type fakeQaClient struct {
	earlierAccepted bool
	err             error
}

func (c *fakeQaClient) HasEarlierAcceptedVersion(context.Context, string, string, string) (bool, error) {
	return c.earlierAccepted, c.err
}

type fakeEmailDispatcher struct {
	mu   sync.Mutex
	sent []TemplateEmail
}

func (d *fakeEmailDispatcher) Send(_ context.Context, email TemplateEmail) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, email)
	return nil
}

func (d *fakeEmailDispatcher) byKind(kind TemplateKind) []TemplateEmail {
	d.mu.Lock()
	defer d.mu.Unlock()
	var matched []TemplateEmail
	for _, email := range d.sent {
		if email.Kind == kind {
			matched = append(matched, email)
		}
	}
	return matched
}

type engineFixture struct {
	requests *fakeRequestRepo
	events   *fakeEventRepo
	audit    *fakeAuditRepo
	metadata *fakeMetadataClient
	company  *fakeCompanyClient
	qa       *fakeQaClient
	emails   *fakeEmailDispatcher
	engine   LifecycleService
}

func newEngineFixture() *engineFixture {
	f := &engineFixture{
		requests: newFakeRequestRepo(),
		events:   &fakeEventRepo{},
		audit:    &fakeAuditRepo{},
		metadata: &fakeMetadataClient{metadata: make(map[string]DataMetaInfo)},
		company:  &fakeCompanyClient{subsidiaries: map[string][]string{}, contacts: map[string][]string{}, names: map[string]string{}},
		qa:       &fakeQaClient{},
		emails:   &fakeEmailDispatcher{},
	}
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	f.engine = NewLifecycleService(
		fakeTxManager{}, f.requests, f.events, f.audit,
		f.metadata, f.company, f.qa, f.emails, nil, log,
	)
	return f
}
