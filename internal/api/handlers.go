package api

import (
	"errors"
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/inspectra-cxr-server/internal/domain"
)

// classifyRequest carries one prediction set to classify.
type classifyRequest struct {
	Predictions []domain.ConditionScore `json:"predictions" binding:"required"`
}

// resolveRequest carries a case record plus the caller's selection state.
type resolveRequest struct {
	Case      domain.CaseRecord    `json:"case" binding:"required"`
	Selection domain.ViewSelection `json:"selection"`
}

// handleClassify derives headline indicators and table rows for one
// prediction set. Classification never fails; only malformed JSON is an error.
func (s *Server) handleClassify(c *gin.Context) {
	var req classifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  domain.ErrInvalidInput,
			"error": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, s.classifier.Classify(req.Predictions))
}

// handleResolve applies the selection to the case and returns the resolved
// view together with its classification.
func (s *Server) handleResolve(c *gin.Context) {
	var req resolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  domain.ErrInvalidInput,
			"error": err.Error(),
		})
		return
	}

	view := s.resolver.Resolve(&req.Case, req.Selection)
	c.JSON(http.StatusOK, gin.H{
		"view":           view,
		"classification": s.classifier.Classify(view.Predictions),
	})
}

// handleComposeReport resolves the view and exports the PDF artifact for it.
// A missing image degrades inside the composer; only total acquisition
// failure or a layout error reaches the client.
func (s *Server) handleComposeReport(c *gin.Context) {
	var req resolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  domain.ErrInvalidInput,
			"error": err.Error(),
		})
		return
	}

	view := s.resolver.Resolve(&req.Case, req.Selection)
	if view.DataVersion == "" {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"code":  domain.ErrInvalidInput,
			"error": "case has no prediction set to report on",
		})
		return
	}

	artifact, err := s.composer.Compose(c.Request.Context(), &req.Case, view.DataVersion, view.Predictions)
	if err != nil {
		s.logger.WithError(err).WithField("case_id", req.Case.ID).Error("Report composition failed")

		var compErr *domain.CompositionError
		if errors.As(err, &compErr) {
			c.JSON(http.StatusBadGateway, gin.H{
				"code":  domain.ErrComposition,
				"error": compErr.Error(),
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":  domain.ErrInternalServer,
			"error": "report composition failed",
		})
		return
	}

	c.Header("Content-Disposition", `attachment; filename="`+artifact.Filename+`"`)
	c.Data(http.StatusOK, "application/pdf", artifact.Document)
}

// handlePredict forwards an uploaded X-ray to the prediction service and
// classifies the returned scores. Nothing is persisted; the caller owns the
// result.
func (s *Server) handlePredict(c *gin.Context) {
	file, header, err := c.Request.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  domain.ErrInvalidInput,
			"error": "multipart field 'image' is required",
		})
		return
	}
	defer file.Close()

	requestID := uuid.NewString()
	result, err := s.cxrClient.Predict(c.Request.Context(), file, header.Filename, requestID)
	if err != nil {
		s.logger.WithError(err).WithField("request_id", requestID).Error("Prediction request failed")
		c.JSON(http.StatusBadGateway, gin.H{
			"code":  domain.ErrExternalAPI,
			"error": "prediction service unavailable",
		})
		return
	}

	heatmapConditions := make([]domain.Condition, 0, len(result.Heatmaps))
	for cond := range result.Heatmaps {
		heatmapConditions = append(heatmapConditions, cond)
	}
	sort.Slice(heatmapConditions, func(i, j int) bool { return heatmapConditions[i] < heatmapConditions[j] })

	c.JSON(http.StatusOK, gin.H{
		"request_id":     requestID,
		"scores":         result.Scores,
		"heatmaps":       heatmapConditions,
		"classification": s.classifier.Classify(result.Scores),
	})
}
