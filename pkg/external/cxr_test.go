package external

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inspectra-cxr-server/internal/domain"
)

func testClient() *CXRClient {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return NewCXRClient(domain.ModelAPIConfig{
		BaseURL:    "http://cxr-api:50000",
		Timeout:    5 * time.Second,
		RateLimit:  100,
		RetryCount: 0,
	}, logger)
}

func predictJSON(heatmap string) string {
	return fmt.Sprintf(`{
		"result": {
			"Atelectasis": {"prediction": 0.80, "balanced_score": 0.75, "thresholded": "80%%", "heatmap": %q},
			"Nodule": {"prediction": 0.10, "balanced_score": 0.12, "thresholded": "Low", "heatmap": ""}
		}
	}`, heatmap)
}

func TestPredictParsesScores(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	heatmap := base64.StdEncoding.EncodeToString([]byte("png-bytes"))
	httpmock.RegisterResponder("POST", "http://cxr-api:50000/predict",
		httpmock.NewStringResponder(200, predictJSON(heatmap)))

	result, err := testClient().Predict(context.Background(), strings.NewReader("raw-image"), "chest.png", "req-1")

	require.NoError(t, err)
	require.Len(t, result.Scores, 2)

	// Deterministic order regardless of response map ordering.
	assert.Equal(t, domain.ATELECTASIS, result.Scores[0].ConditionName)
	assert.Equal(t, 0.80, result.Scores[0].RawProbability)
	assert.Equal(t, 0.75, result.Scores[0].BalancedScore)
	assert.Equal(t, "80%", result.Scores[0].Thresholded)
	assert.Equal(t, domain.NODULE, result.Scores[1].ConditionName)

	require.Contains(t, result.Heatmaps, domain.ATELECTASIS)
	assert.Equal(t, []byte("png-bytes"), result.Heatmaps[domain.ATELECTASIS])
	assert.NotContains(t, result.Heatmaps, domain.NODULE)
}

func TestPredictSkipsBadHeatmap(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("POST", "http://cxr-api:50000/predict",
		httpmock.NewStringResponder(200, predictJSON("not-base64!!!")))

	result, err := testClient().Predict(context.Background(), strings.NewReader("raw-image"), "chest.png", "req-2")

	require.NoError(t, err, "an undecodable heatmap must not fail the prediction")
	assert.Len(t, result.Scores, 2)
	assert.Empty(t, result.Heatmaps)
}

func TestPredictSendsMultipartBody(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("POST", "http://cxr-api:50000/predict",
		func(req *http.Request) (*http.Response, error) {
			mediaType, params, err := mime.ParseMediaType(req.Header.Get("Content-Type"))
			require.NoError(t, err)
			require.Equal(t, "multipart/form-data", mediaType)

			reader := multipart.NewReader(req.Body, params["boundary"])
			form, err := reader.ReadForm(1 << 20)
			require.NoError(t, err)

			require.Equal(t, []string{"req-3"}, form.Value["request_id"])
			require.Len(t, form.File["file"], 1)
			assert.Equal(t, "chest.png", form.File["file"][0].Filename)

			f, err := form.File["file"][0].Open()
			require.NoError(t, err)
			defer f.Close()
			content, err := io.ReadAll(f)
			require.NoError(t, err)
			assert.Equal(t, "raw-image", string(content))

			return httpmock.NewStringResponse(200, predictJSON("")), nil
		})

	_, err := testClient().Predict(context.Background(), bytes.NewReader([]byte("raw-image")), "chest.png", "req-3")
	require.NoError(t, err)
}

func TestPredictErrors(t *testing.T) {
	tests := []struct {
		name      string
		responder httpmock.Responder
	}{
		{"service error status", httpmock.NewStringResponder(500, "internal error")},
		{"malformed response", httpmock.NewStringResponder(200, "{not json")},
		{"missing result envelope", httpmock.NewStringResponder(200, `{"status": "ok"}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			httpmock.Activate()
			defer httpmock.DeactivateAndReset()
			httpmock.RegisterResponder("POST", "http://cxr-api:50000/predict", tt.responder)

			result, err := testClient().Predict(context.Background(), strings.NewReader("raw-image"), "chest.png", "req-4")

			assert.Nil(t, result)
			assert.Error(t, err)
		})
	}
}

func TestPredictRetriesTransportFailures(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	attempts := 0
	httpmock.RegisterResponder("POST", "http://cxr-api:50000/predict",
		func(req *http.Request) (*http.Response, error) {
			attempts++
			if attempts == 1 {
				return httpmock.NewStringResponse(503, "unavailable"), nil
			}
			return httpmock.NewStringResponse(200, predictJSON("")), nil
		})

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	client := NewCXRClient(domain.ModelAPIConfig{
		BaseURL:    "http://cxr-api:50000",
		Timeout:    5 * time.Second,
		RateLimit:  100,
		RetryCount: 2,
	}, logger)

	result, err := client.Predict(context.Background(), strings.NewReader("raw-image"), "chest.png", "req-5")

	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
	assert.Len(t, result.Scores, 2)
}
