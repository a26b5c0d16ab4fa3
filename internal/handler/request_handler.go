package handler

import (
	"errors"
	"net/http"

	"requesthub/internal/middleware"
	"requesthub/internal/model"
	"requesthub/internal/repository"
	"requesthub/internal/service"
	"requesthub/pkg/apperror"
	"requesthub/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type RequestHandler struct {
	requestService service.RequestService
	lifecycle      service.LifecycleService
}

func NewRequestHandler(requestService service.RequestService, lifecycle service.LifecycleService) *RequestHandler {
	return &RequestHandler{requestService: requestService, lifecycle: lifecycle}
}

func (h *RequestHandler) RegisterRoutes(router *gin.RouterGroup) {
	requests := router.Group("/api/requests")
	requests.Use(middleware.RequireAuth())
	{
		requests.POST("", h.CreateRequests)
		requests.POST("/bulk", h.CreateBulkRequests)
		requests.GET("", h.SearchRequests)
		requests.GET("/mine", h.GetOwnRequests)
		requests.GET("/:id", h.GetRequest)
		requests.PATCH("/:id", h.PatchRequest)
	}
}

// respondError maps the service error taxonomy onto HTTP status codes
func respondError(c *gin.Context, err error) {
	var notFound *apperror.NotFoundError
	var invalidInput *apperror.InvalidInputError
	var authMethod *apperror.AuthMethodError

	switch {
	case errors.As(err, &notFound):
		c.JSON(http.StatusNotFound, response.Error(http.StatusNotFound, err.Error()))
	case errors.As(err, &invalidInput):
		c.JSON(http.StatusBadRequest, response.ErrorDetail(http.StatusBadRequest, invalidInput.Summary, invalidInput.Message))
	case errors.As(err, &authMethod):
		c.JSON(http.StatusForbidden, response.Error(http.StatusForbidden, err.Error()))
	default:
		c.JSON(http.StatusInternalServerError, response.Error(http.StatusInternalServerError, err.Error()))
	}
}

// CreateRequests submits a data request for one company across one or more
// reporting periods
// @Summary      Create data requests
// @Description  Stores one request per reporting period, merging with existing live requests
// @Tags         requests
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        request  body      service.SingleRequest  true  "Request payload"
// @Success      201      {object}  response.Response{data=[]service.StoredRequest}
// @Router       /api/requests [post]
func (h *RequestHandler) CreateRequests(c *gin.Context) {
	rctx, ok := middleware.GetRequestContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Missing authentication"))
		return
	}

	var req service.SingleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	stored, err := h.requestService.CreateRequests(c.Request.Context(), rctx, req, correlationID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, stored))
}

// CreateBulkRequests submits requests for the cross product of companies,
// frameworks and reporting periods
// @Summary      Create bulk data requests
// @Tags         requests
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        request  body      service.BulkRequest  true  "Bulk payload"
// @Success      201      {object}  response.Response{data=[]service.BulkRequestOutcome}
// @Router       /api/requests/bulk [post]
func (h *RequestHandler) CreateBulkRequests(c *gin.Context) {
	rctx, ok := middleware.GetRequestContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Missing authentication"))
		return
	}

	var req service.BulkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	outcomes, err := h.requestService.CreateBulkRequests(c.Request.Context(), rctx, req, correlationID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, outcomes))
}

// SearchRequests queries requests by company, framework, period and status.
// Non-admin callers only ever see their own requests
// @Summary      Search data requests
// @Tags         requests
// @Security     BearerAuth
// @Produce      json
// @Param        companyId        query     string  false  "Company id"
// @Param        dataType         query     string  false  "Framework"
// @Param        reportingPeriod  query     string  false  "Reporting period"
// @Param        status           query     string  false  "Request status"
// @Success      200              {object}  response.Response{data=[]service.StoredRequest}
// @Router       /api/requests [get]
func (h *RequestHandler) SearchRequests(c *gin.Context) {
	rctx, ok := middleware.GetRequestContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Missing authentication"))
		return
	}

	filter := repository.RequestFilter{}
	if raw := c.Query("companyId"); raw != "" {
		companyID, err := uuid.Parse(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid companyId"))
			return
		}
		filter.CompanyIDs = []uuid.UUID{companyID}
	}
	if dataType := c.Query("dataType"); dataType != "" {
		filter.DataTypes = []string{dataType}
	}
	if period := c.Query("reportingPeriod"); period != "" {
		filter.ReportingPeriods = []string{period}
	}
	if status := c.Query("status"); status != "" {
		filter.Statuses = []model.RequestStatus{model.RequestStatus(status)}
	}

	stored, err := h.requestService.SearchRequests(c.Request.Context(), rctx, filter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, stored))
}

// GetOwnRequests lists the caller's requests
// @Summary      List own data requests
// @Tags         requests
// @Security     BearerAuth
// @Produce      json
// @Success      200  {object}  response.Response{data=[]service.StoredRequest}
// @Router       /api/requests/mine [get]
func (h *RequestHandler) GetOwnRequests(c *gin.Context) {
	rctx, ok := middleware.GetRequestContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Missing authentication"))
		return
	}

	stored, err := h.requestService.GetOwnRequests(c.Request.Context(), rctx)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, stored))
}

// GetRequest returns a single request including its history ledgers
// @Summary      Get a data request
// @Tags         requests
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      string  true  "Request id"
// @Success      200  {object}  response.Response{data=service.StoredRequest}
// @Router       /api/requests/{id} [get]
func (h *RequestHandler) GetRequest(c *gin.Context) {
	rctx, ok := middleware.GetRequestContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Missing authentication"))
		return
	}
	requestID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request id"))
		return
	}

	stored, err := h.lifecycle.GetRequest(c.Request.Context(), requestID)
	if err != nil {
		respondError(c, err)
		return
	}
	// Ownership check mirrors the patch path: foreign requests look absent
	if !rctx.IsAdmin() && stored.UserID != rctx.UserID.String() {
		c.JSON(http.StatusNotFound, response.Error(http.StatusNotFound, "data request not found: "+requestID.String()))
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, stored))
}

// PatchRequest applies a partial update to a request
// @Summary      Patch a data request
// @Description  Updates status, access status, priority, admin comment, notify flag or appends a message
// @Tags         requests
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id     path      string                true  "Request id"
// @Param        patch  body      service.RequestPatch  true  "Patch payload"
// @Success      200    {object}  response.Response{data=service.StoredRequest}
// @Router       /api/requests/{id} [patch]
func (h *RequestHandler) PatchRequest(c *gin.Context) {
	rctx, ok := middleware.GetRequestContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Missing authentication"))
		return
	}
	requestID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request id"))
		return
	}

	var patch service.RequestPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid patch payload: "+err.Error()))
		return
	}

	stored, err := h.lifecycle.ProcessExternalPatch(c.Request.Context(), rctx, requestID, patch, correlationID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, stored))
}

func correlationID(c *gin.Context) string {
	if id := c.GetHeader("X-Correlation-ID"); id != "" {
		return id
	}
	return uuid.NewString()
}
