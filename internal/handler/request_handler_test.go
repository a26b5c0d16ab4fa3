package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"requesthub/internal/middleware"
	"requesthub/internal/model"
	"requesthub/internal/service"
	"requesthub/pkg/apperror"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubRequestService struct {
	service.RequestService
	created []service.SingleRequest
	stored  []*service.StoredRequest
	err     error
}

func (s *stubRequestService) CreateRequests(
	_ context.Context, _ model.RequestContext, req service.SingleRequest, _ string,
) ([]*service.StoredRequest, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.created = append(s.created, req)
	return s.stored, nil
}

type stubLifecycleService struct {
	service.LifecycleService
	stored *service.StoredRequest
	err    error
}

func (s *stubLifecycleService) GetRequest(context.Context, uuid.UUID) (*service.StoredRequest, error) {
	return s.stored, s.err
}

func (s *stubLifecycleService) ProcessExternalPatch(
	context.Context, model.RequestContext, uuid.UUID, service.RequestPatch, string,
) (*service.StoredRequest, error) {
	return s.stored, s.err
}

func signToken(t *testing.T, userID uuid.UUID, roles string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":         userID.String(),
		"roles":       roles,
		"auth_method": "jwt",
		"exp":         time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString(middleware.GetJWTSecret())
	require.NoError(t, err)
	return signed
}

func newTestRouter(requests *stubRequestService, lifecycle *stubLifecycleService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	NewRequestHandler(requests, lifecycle).RegisterRoutes(router.Group(""))
	return router
}

func TestCreateRequestsEndpoint(t *testing.T) {
	userID := uuid.New()
	stub := &stubRequestService{stored: []*service.StoredRequest{{ID: uuid.NewString(), UserID: userID.String()}}}
	router := newTestRouter(stub, &stubLifecycleService{})

	body := `{"company_id":"` + uuid.NewString() + `","data_type":"sfdr","reporting_periods":["2024"]}`
	req := httptest.NewRequest(http.MethodPost, "/api/requests", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+signToken(t, userID, "reader"))

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)

	assert.Equal(t, http.StatusCreated, recorder.Code)
	require.Len(t, stub.created, 1)
	assert.Equal(t, "sfdr", stub.created[0].DataType)
}

func TestCreateRequestsRequiresAuthentication(t *testing.T) {
	router := newTestRouter(&stubRequestService{}, &stubLifecycleService{})

	req := httptest.NewRequest(http.MethodPost, "/api/requests", strings.NewReader(`{}`))
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)

	assert.Equal(t, http.StatusUnauthorized, recorder.Code)
}

func TestCreateRequestsRejectsInvalidPayload(t *testing.T) {
	router := newTestRouter(&stubRequestService{}, &stubLifecycleService{})

	req := httptest.NewRequest(http.MethodPost, "/api/requests", strings.NewReader(`{"data_type":"sfdr"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+signToken(t, uuid.New(), "reader"))

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)

	assert.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestPatchRequestMapsNotFoundTo404(t *testing.T) {
	lifecycle := &stubLifecycleService{err: apperror.NewNotFound("data request", "x")}
	router := newTestRouter(&stubRequestService{}, lifecycle)

	req := httptest.NewRequest(http.MethodPatch, "/api/requests/"+uuid.NewString(),
		strings.NewReader(`{"request_status":"Answered"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+signToken(t, uuid.New(), "admin"))

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)

	assert.Equal(t, http.StatusNotFound, recorder.Code)
}

func TestPatchRequestRejectsMalformedID(t *testing.T) {
	router := newTestRouter(&stubRequestService{}, &stubLifecycleService{})

	req := httptest.NewRequest(http.MethodPatch, "/api/requests/not-a-uuid", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+signToken(t, uuid.New(), "reader"))

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)

	assert.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestGetRequestHidesForeignRequestsFromNonAdmins(t *testing.T) {
	owner := uuid.New()
	lifecycle := &stubLifecycleService{stored: &service.StoredRequest{
		ID: uuid.NewString(), UserID: owner.String(), RequestStatus: model.RequestStatusOpen,
	}}
	router := newTestRouter(&stubRequestService{}, lifecycle)

	// A different authenticated user must not see the request
	req := httptest.NewRequest(http.MethodGet, "/api/requests/"+uuid.NewString(), nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, uuid.New(), "reader"))
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)
	assert.Equal(t, http.StatusNotFound, recorder.Code)

	// The owner sees it
	req = httptest.NewRequest(http.MethodGet, "/api/requests/"+uuid.NewString(), nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, owner, "reader"))
	recorder = httptest.NewRecorder()
	router.ServeHTTP(recorder, req)
	assert.Equal(t, http.StatusOK, recorder.Code)

	var envelope struct {
		Data service.StoredRequest `json:"data"`
	}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &envelope))
	assert.Equal(t, owner.String(), envelope.Data.UserID)
}
