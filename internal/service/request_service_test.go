package service

import (
	"context"
	"testing"
	"time"

	"requesthub/internal/model"
	"requesthub/internal/repository"
	"requesthub/pkg/apperror"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type intakeFixture struct {
	*engineFixture
	intake RequestService
}

func newIntakeFixture() *intakeFixture {
	engine := newEngineFixture()
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return &intakeFixture{
		engineFixture: engine,
		intake: NewRequestService(
			fakeTxManager{}, engine.requests, engine.audit, engine.engine, engine.company, log,
		),
	}
}

func userContext() model.RequestContext {
	return model.RequestContext{UserID: uuid.New(), AuthMethod: model.AuthMethodJwt, Roles: []string{"reader"}}
}

func TestCreateRequestsStoresOnePerPeriod(t *testing.T) {
	f := newIntakeFixture()
	rctx := userContext()
	company := uuid.New()
	f.company.names[company.String()] = "Acme SE"

	stored, err := f.intake.CreateRequests(context.Background(), rctx, SingleRequest{
		CompanyID:        company.String(),
		DataType:         "sfdr",
		ReportingPeriods: []string{"2023", "2024"},
	}, "corr-1")
	require.NoError(t, err)

	require.Len(t, stored, 2)
	for _, request := range stored {
		assert.Equal(t, model.RequestStatusOpen, request.RequestStatus)
		assert.Equal(t, model.AccessStatusGranted, request.AccessStatus)
		require.Len(t, request.StatusHistory, 1, "creation is ledgered")
	}
	assert.Len(t, f.requests.requests, 2)
}

func TestCreateRequestsMergesDuplicates(t *testing.T) {
	f := newIntakeFixture()
	rctx := userContext()
	company := uuid.New()
	f.company.names[company.String()] = "Acme SE"

	submission := SingleRequest{
		CompanyID:        company.String(),
		DataType:         "sfdr",
		ReportingPeriods: []string{"2024"},
	}

	first, err := f.intake.CreateRequests(context.Background(), rctx, submission, "corr-1")
	require.NoError(t, err)
	second, err := f.intake.CreateRequests(context.Background(), rctx, submission, "corr-2")
	require.NoError(t, err)

	require.Len(t, first, 1)
	require.Len(t, second, 1)
	assert.Equal(t, first[0].ID, second[0].ID, "live duplicate is reused, not recreated")
	assert.Len(t, f.requests.requests, 1)
}

func TestCreateRequestsMergesNotifyFlagIntoExisting(t *testing.T) {
	f := newIntakeFixture()
	rctx := userContext()
	company := uuid.New()
	f.company.names[company.String()] = "Acme SE"

	_, err := f.intake.CreateRequests(context.Background(), rctx, SingleRequest{
		CompanyID: company.String(), DataType: "sfdr", ReportingPeriods: []string{"2024"},
	}, "corr-1")
	require.NoError(t, err)

	merged, err := f.intake.CreateRequests(context.Background(), rctx, SingleRequest{
		CompanyID: company.String(), DataType: "sfdr", ReportingPeriods: []string{"2024"},
		NotifyMeImmediately: true,
	}, "corr-2")
	require.NoError(t, err)

	assert.True(t, merged[0].NotifyMeImmediately)
}

// racingRequestRepo simulates losing a duplicate-submission race: the
// existence check misses once, then the insert collides with the row a
// concurrent submission already stored.
type racingRequestRepo struct {
	*fakeRequestRepo
	misses int
}

func (r *racingRequestRepo) FindLive(
	ctx context.Context, userID, companyID uuid.UUID, dataType, reportingPeriod string,
) (*model.DataRequest, error) {
	if r.misses > 0 {
		r.misses--
		return nil, nil
	}
	return r.fakeRequestRepo.FindLive(ctx, userID, companyID, dataType, reportingPeriod)
}

func TestCreateRequestsRecoversFromDuplicateInsertRace(t *testing.T) {
	engine := newEngineFixture()
	racing := &racingRequestRepo{fakeRequestRepo: engine.requests, misses: 1}
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	intake := NewRequestService(fakeTxManager{}, racing, engine.audit, engine.engine, engine.company, log)

	rctx := userContext()
	company := uuid.New()
	engine.company.names[company.String()] = "Acme SE"

	winner := engine.requests.seed(model.DataRequest{
		UserID: rctx.UserID, CompanyID: company,
		DataType: "sfdr", ReportingPeriod: "2024",
		RequestStatus: model.RequestStatusOpen, AccessStatus: model.AccessStatusGranted,
		LastModifiedDate: time.Now().Add(-time.Hour),
	})

	stored, err := intake.CreateRequests(context.Background(), rctx, SingleRequest{
		CompanyID: company.String(), DataType: "sfdr", ReportingPeriods: []string{"2024"},
	}, "corr-1")
	require.NoError(t, err)

	require.Len(t, stored, 1)
	assert.Equal(t, winner.ID.String(), stored[0].ID, "merged into the concurrently created row")
	assert.Len(t, engine.requests.requests, 1)
}

func TestCreateRequestsRejectsMessageWithoutContacts(t *testing.T) {
	f := newIntakeFixture()
	rctx := userContext()
	company := uuid.New()
	f.company.names[company.String()] = "Acme SE"

	_, err := f.intake.CreateRequests(context.Background(), rctx, SingleRequest{
		CompanyID: company.String(), DataType: "sfdr", ReportingPeriods: []string{"2024"},
		Message: "orphaned message",
	}, "corr-1")

	var invalidInput *apperror.InvalidInputError
	require.ErrorAs(t, err, &invalidInput)
}

func TestCreateRequestsRejectsUnknownCompany(t *testing.T) {
	f := newIntakeFixture()

	_, err := f.intake.CreateRequests(context.Background(), userContext(), SingleRequest{
		CompanyID: uuid.NewString(), DataType: "sfdr", ReportingPeriods: []string{"2024"},
	}, "corr-1")

	var invalidInput *apperror.InvalidInputError
	require.ErrorAs(t, err, &invalidInput)
}

func TestAccessGatedRequestStartsPending(t *testing.T) {
	f := newIntakeFixture()
	rctx := userContext()
	company := uuid.New()
	f.company.names[company.String()] = "Acme SE"

	stored, err := f.intake.CreateRequests(context.Background(), rctx, SingleRequest{
		CompanyID: company.String(), DataType: model.FrameworkVsme, ReportingPeriods: []string{"2024"},
	}, "corr-1")
	require.NoError(t, err)

	require.Len(t, stored, 1)
	assert.Equal(t, model.AccessStatusPending, stored[0].AccessStatus)
}

func TestBulkRequestsRejectServiceCredentials(t *testing.T) {
	f := newIntakeFixture()
	machine := model.RequestContext{UserID: uuid.New(), AuthMethod: model.AuthMethodClient}

	_, err := f.intake.CreateBulkRequests(context.Background(), machine, BulkRequest{
		CompanyIDs: []string{uuid.NewString()}, DataTypes: []string{"sfdr"}, ReportingPeriods: []string{"2024"},
	}, "corr-1")

	var authMethod *apperror.AuthMethodError
	require.ErrorAs(t, err, &authMethod)
}

func TestBulkRequestsCrossProductAndDuplicateReporting(t *testing.T) {
	f := newIntakeFixture()
	rctx := userContext()
	companyA := uuid.New()
	companyB := uuid.New()
	f.company.names[companyA.String()] = "Acme SE"
	f.company.names[companyB.String()] = "Globex AG"

	bulk := BulkRequest{
		CompanyIDs:       []string{companyA.String(), companyB.String()},
		DataTypes:        []string{"sfdr"},
		ReportingPeriods: []string{"2023", "2024"},
	}

	outcomes, err := f.intake.CreateBulkRequests(context.Background(), rctx, bulk, "corr-1")
	require.NoError(t, err)
	require.Len(t, outcomes, 4)
	for _, outcome := range outcomes {
		assert.False(t, outcome.AlreadyExisted)
		assert.NotEmpty(t, outcome.RequestID)
	}

	again, err := f.intake.CreateBulkRequests(context.Background(), rctx, bulk, "corr-2")
	require.NoError(t, err)
	for _, outcome := range again {
		assert.True(t, outcome.AlreadyExisted)
	}
	assert.Len(t, f.requests.requests, 4)
}

func TestSearchRequestsScopesNonAdminsToOwnRequests(t *testing.T) {
	f := newIntakeFixture()
	owner := userContext()
	other := uuid.New()
	company := uuid.New()

	f.requests.seed(model.DataRequest{
		UserID: owner.UserID, CompanyID: company,
		DataType: "sfdr", ReportingPeriod: "2024",
		RequestStatus: model.RequestStatusOpen, AccessStatus: model.AccessStatusGranted,
	})
	f.requests.seed(model.DataRequest{
		UserID: other, CompanyID: company,
		DataType: "sfdr", ReportingPeriod: "2024",
		RequestStatus: model.RequestStatusOpen, AccessStatus: model.AccessStatusGranted,
	})

	mine, err := f.intake.SearchRequests(context.Background(), owner, repository.RequestFilter{})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, owner.UserID.String(), mine[0].UserID)

	admin := model.RequestContext{UserID: uuid.New(), AuthMethod: model.AuthMethodJwt, Roles: []string{model.RoleAdmin}}
	all, err := f.intake.SearchRequests(context.Background(), admin, repository.RequestFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
