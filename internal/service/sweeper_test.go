package service

import (
	"context"
	"testing"
	"time"

	"requesthub/internal/model"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSweeper(f *engineFixture, staleDays int) *StaleRequestSweeper {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return NewStaleRequestSweeper(f.requests, f.engine, f.emails, f.audit, staleDays, time.Hour, log)
}

func TestSweepClosesStaleAnsweredRequests(t *testing.T) {
	f := newEngineFixture()
	stale := f.requests.seed(model.DataRequest{
		UserID: uuid.New(), CompanyID: uuid.New(),
		DataType: "sfdr", ReportingPeriod: "2023",
		RequestStatus: model.RequestStatusAnswered, AccessStatus: model.AccessStatusGranted,
		LastModifiedDate: time.Now().Add(-200 * 24 * time.Hour),
	})
	fresh := f.requests.seed(model.DataRequest{
		UserID: uuid.New(), CompanyID: uuid.New(),
		DataType: "sfdr", ReportingPeriod: "2024",
		RequestStatus: model.RequestStatusAnswered, AccessStatus: model.AccessStatusGranted,
		LastModifiedDate: time.Now().Add(-24 * time.Hour),
	})
	open := f.requests.seed(model.DataRequest{
		UserID: uuid.New(), CompanyID: uuid.New(),
		DataType: "sfdr", ReportingPeriod: "2023",
		RequestStatus: model.RequestStatusOpen, AccessStatus: model.AccessStatusGranted,
		LastModifiedDate: time.Now().Add(-200 * 24 * time.Hour),
	})

	require.NoError(t, newSweeper(f, 180).Sweep(context.Background()))

	assert.Equal(t, model.RequestStatusClosed, statusOf(t, f, stale.ID).RequestStatus)
	assert.Equal(t, model.RequestStatusAnswered, statusOf(t, f, fresh.ID).RequestStatus)
	// Only answered requests go stale; open ones wait for data forever
	assert.Equal(t, model.RequestStatusOpen, statusOf(t, f, open.ID).RequestStatus)

	history := f.requests.statuses[stale.ID]
	require.Len(t, history, 1)
	assert.Equal(t, reasonStaleClosed, history[0].Reason)

	emails := f.emails.byKind(TemplateRequestClosed)
	require.Len(t, emails, 1)
	assert.Equal(t, stale.UserID.String(), emails[0].RecipientUserID)

	var closures []model.AuditLog
	for _, entry := range f.audit.entries {
		if entry.Action == model.ActionCloseStaleRequest {
			closures = append(closures, entry)
		}
	}
	require.Len(t, closures, 1)
	assert.Equal(t, stale.ID.String(), closures[0].EntityID)
	assert.Nil(t, closures[0].UserID, "automatic closures have no human actor")
}

func TestSweepIsIdempotent(t *testing.T) {
	f := newEngineFixture()
	f.requests.seed(model.DataRequest{
		UserID: uuid.New(), CompanyID: uuid.New(),
		DataType: "sfdr", ReportingPeriod: "2023",
		RequestStatus: model.RequestStatusAnswered, AccessStatus: model.AccessStatusGranted,
		LastModifiedDate: time.Now().Add(-200 * 24 * time.Hour),
	})

	sweeper := newSweeper(f, 180)
	require.NoError(t, sweeper.Sweep(context.Background()))
	require.NoError(t, sweeper.Sweep(context.Background()))

	assert.Len(t, f.emails.byKind(TemplateRequestClosed), 1)
}
