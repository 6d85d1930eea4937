package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jarcoal/httpmock"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inspectra-cxr-server/internal/config"
	"github.com/inspectra-cxr-server/internal/domain"
	"github.com/inspectra-cxr-server/internal/report"
	"github.com/inspectra-cxr-server/internal/service"
	"github.com/inspectra-cxr-server/pkg/external"
)

type stubFetcher struct {
	images map[string]*domain.AcquiredImage
}

func (f *stubFetcher) Load(ctx context.Context, url string) (*domain.AcquiredImage, error) {
	if img, ok := f.images[url]; ok {
		return img, nil
	}
	return nil, domain.NewResourceLoadError(url, "fetch failed", errors.New("connection refused"))
}

func jpegImage(t *testing.T) *domain.AcquiredImage {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 80))
	for x := 0; x < 64; x++ {
		for y := 0; y < 80; y++ {
			img.Set(x, y, color.Gray{Y: uint8((x + y) % 256)})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 80}))
	return &domain.AcquiredImage{Data: buf.Bytes(), Width: 64, Height: 80, AspectRatio: 0.8}
}

func newTestServer(t *testing.T, fetcher report.Fetcher) *Server {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)

	configManager, err := config.NewManager()
	require.NoError(t, err)

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	classifier := service.NewClassifierService(logger)
	resolver := service.NewResolverService(logger)
	composer := report.NewComposer(fetcher, classifier, logger, domain.ReportConfig{})
	cxrClient := external.NewCXRClient(configManager.GetConfig().ModelAPI, logger)

	return NewServer(configManager, classifier, resolver, composer, cxrClient, logger)
}

func postJSON(t *testing.T, server *Server, path string, payload interface{}) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, req)
	return w
}

func apiCase() domain.CaseRecord {
	return domain.CaseRecord{
		ID:        "case-1",
		CreatedAt: time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC),
		RawImage:  domain.ImageRef{URL: "http://media/raw/chest.png", Filename: "chest.png"},
		OverlayByVersion: map[domain.ModelVersion]domain.ImageRef{
			domain.VERSION_V4: {URL: "http://media/overlays/v4.png"},
		},
		PredictionsByVersion: map[domain.ModelVersion][]domain.ConditionScore{
			domain.VERSION_V4: {
				{ConditionName: domain.ATELECTASIS, RawProbability: 0.80, Thresholded: "80%"},
				{ConditionName: domain.TUBERCULOSIS, RawProbability: 0.05, Thresholded: "Low"},
			},
		},
	}
}

func TestHandleHealth(t *testing.T) {
	server := newTestServer(t, &stubFetcher{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestHandleClassify(t *testing.T) {
	server := newTestServer(t, &stubFetcher{})

	w := postJSON(t, server, "/api/v1/classify", gin.H{
		"predictions": []domain.ConditionScore{
			{ConditionName: domain.EDEMA, RawProbability: 0.62, Thresholded: "62%"},
		},
	})

	require.Equal(t, http.StatusOK, w.Code)

	var result service.ClassificationResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	require.Len(t, result.Headline, 3)
	assert.True(t, result.Headline[0].Positive)
	assert.Equal(t, "62%", result.Headline[0].DisplayedScore)
}

func TestHandleClassifyBadRequest(t *testing.T) {
	server := newTestServer(t, &stubFetcher{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/classify", bytes.NewReader([]byte("{not json")))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), domain.ErrInvalidInput)
}

func TestHandleResolve(t *testing.T) {
	server := newTestServer(t, &stubFetcher{})

	w := postJSON(t, server, "/api/v1/resolve", gin.H{
		"case":      apiCase(),
		"selection": domain.ViewSelection{Version: domain.VERSION_V4},
	})

	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		View           domain.ResolvedView          `json:"view"`
		Classification service.ClassificationResult `json:"classification"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "http://media/overlays/v4.png", resp.View.ImageURL)
	assert.Equal(t, domain.VERSION_V4, resp.View.DataVersion)
	assert.True(t, resp.Classification.Headline[0].Positive)
}

func TestHandleComposeReport(t *testing.T) {
	server := newTestServer(t, &stubFetcher{images: map[string]*domain.AcquiredImage{
		"http://media/raw/chest.png":   jpegImage(t),
		"http://media/overlays/v4.png": jpegImage(t),
	}})

	w := postJSON(t, server, "/api/v1/reports", gin.H{
		"case":      apiCase(),
		"selection": domain.ViewSelection{Version: domain.VERSION_V4},
	})

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/pdf", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "chest_report_")
	assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte("%PDF-")))
}

func TestHandleComposeReportTotalFailure(t *testing.T) {
	server := newTestServer(t, &stubFetcher{})

	w := postJSON(t, server, "/api/v1/reports", gin.H{
		"case":      apiCase(),
		"selection": domain.ViewSelection{Version: domain.VERSION_V4},
	})

	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, w.Body.String(), domain.ErrComposition)
}

func TestHandlePredict(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder(http.MethodPost, "http://localhost:50000/predict",
		httpmock.NewJsonResponderOrPanic(http.StatusOK, gin.H{
			"result": gin.H{
				"Atelectasis": gin.H{
					"prediction":     0.81,
					"balanced_score": 0.77,
					"thresholded":    "81%",
				},
				"Tuberculosis": gin.H{
					"prediction":     0.04,
					"balanced_score": 0.10,
					"thresholded":    "Low",
				},
			},
		}))

	server := newTestServer(t, &stubFetcher{})

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("image", "chest.png")
	require.NoError(t, err)
	_, err = part.Write(jpegImage(t).Data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/predict", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		RequestID      string                       `json:"request_id"`
		Scores         []domain.ConditionScore      `json:"scores"`
		Classification service.ClassificationResult `json:"classification"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.RequestID)
	require.Len(t, resp.Scores, 2)
	assert.Equal(t, domain.ATELECTASIS, resp.Scores[0].ConditionName)
	assert.True(t, resp.Classification.Headline[0].Positive)
}

func TestHandlePredictMissingImage(t *testing.T) {
	server := newTestServer(t, &stubFetcher{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/predict", nil)
	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), domain.ErrInvalidInput)
}

func TestHandleComposeReportNoPredictions(t *testing.T) {
	server := newTestServer(t, &stubFetcher{})

	w := postJSON(t, server, "/api/v1/reports", gin.H{
		"case": domain.CaseRecord{
			ID:       "case-2",
			RawImage: domain.ImageRef{URL: "http://media/raw/chest.png"},
		},
		"selection": domain.ViewSelection{Version: domain.VERSION_RAW},
	})

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}
