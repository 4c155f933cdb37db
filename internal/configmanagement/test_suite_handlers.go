package configmanagement

import (
	"fmt"
	"net/http"
	"strings"

	"canonsafe-governance/backend/internal/apperrors"
	"canonsafe-governance/backend/internal/datastore"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Defaults for suites created without explicit bars.
const (
	defaultPassThreshold = 0.8
	defaultMinScore      = 85
)

// CreateTestSuiteRequest is the body of POST /test-suites.
type CreateTestSuiteRequest struct {
	Name          string               `json:"name" binding:"required"`
	Description   string               `json:"description"`
	PassThreshold *float64             `json:"pass_threshold"`
	MinScore      *float64             `json:"min_score"`
	Cases         []datastore.TestCase `json:"cases"`
}

func suiteFromRequest(req CreateTestSuiteRequest) (*datastore.TestSuite, error) {
	suite := &datastore.TestSuite{
		ID:            "sut_" + uuid.NewString(),
		Name:          req.Name,
		Description:   req.Description,
		PassThreshold: defaultPassThreshold,
		MinScore:      defaultMinScore,
	}
	if req.PassThreshold != nil {
		suite.PassThreshold = *req.PassThreshold
	}
	if req.MinScore != nil {
		suite.MinScore = *req.MinScore
	}
	if suite.PassThreshold < 0 || suite.PassThreshold > 1 {
		return nil, apperrors.Invalid("pass_threshold", "pass_threshold must be within [0,1]")
	}
	if suite.MinScore < 0 || suite.MinScore > 100 {
		return nil, apperrors.Invalid("min_score", "min_score must be within [0,100]")
	}
	if len(req.Cases) == 0 {
		return nil, apperrors.Invalid("cases", "a test suite needs at least one case")
	}
	for i := range req.Cases {
		tc := req.Cases[i]
		field := fmt.Sprintf("cases[%d]", i)
		if strings.TrimSpace(tc.Content) == "" {
			return nil, apperrors.Invalid(field, "content is required")
		}
		if tc.Modality == "" {
			tc.Modality = "text"
		}
		if tc.Name == "" {
			tc.Name = fmt.Sprintf("case-%d", i+1)
		}
		tc.ID = "tc_" + uuid.NewString()
		suite.Cases = append(suite.Cases, &tc)
	}
	return suite, nil
}

// CreateTestSuiteHandler stores a suite with its ordered cases.
func (h *Handlers) CreateTestSuiteHandler(c *gin.Context) {
	var req CreateTestSuiteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request payload: " + err.Error(), "code": "VALIDATION_ERROR"})
		return
	}
	suite, err := suiteFromRequest(req)
	if err != nil {
		apperrors.Respond(c, err)
		return
	}
	if err := h.Store.CreateTestSuite(c.Request.Context(), suite); err != nil {
		apperrors.Respond(c, err)
		return
	}
	c.JSON(http.StatusCreated, suite)
}

// ListTestSuitesHandler lists suites without their cases.
func (h *Handlers) ListTestSuitesHandler(c *gin.Context) {
	suites, err := h.Store.ListTestSuites(c.Request.Context())
	if err != nil {
		apperrors.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, suites)
}

// GetTestSuiteHandler returns a suite with its cases.
func (h *Handlers) GetTestSuiteHandler(c *gin.Context) {
	suite, err := h.Store.GetTestSuite(c.Request.Context(), c.Param("id"))
	if err != nil {
		apperrors.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, suite)
}
