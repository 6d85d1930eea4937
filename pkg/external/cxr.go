// Package external contains clients for the external model services the
// review tool collaborates with. The prediction service is opaque: it accepts
// an X-ray image and returns already-computed per-condition scores.
package external

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/inspectra-cxr-server/internal/domain"
)

// CXRClient handles interactions with the CXR prediction service
type CXRClient struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
	retryCount int
	logger     *logrus.Logger
}

// NewCXRClient creates a new prediction service client
func NewCXRClient(config domain.ModelAPIConfig, logger *logrus.Logger) *CXRClient {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "CXRPredict",
		MaxRequests: 5,
		Interval:    30 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Circuit breaker state changed")
		},
	})

	return &CXRClient{
		baseURL: config.BaseURL,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		limiter:    rate.NewLimiter(rate.Limit(config.RateLimit), 1),
		breaker:    breaker,
		retryCount: config.RetryCount,
		logger:     logger,
	}
}

// predictionEntry mirrors one per-condition record of the service response.
type predictionEntry struct {
	Prediction    float64 `json:"prediction"`
	BalancedScore float64 `json:"balanced_score"`
	Thresholded   string  `json:"thresholded"`
	Heatmap       string  `json:"heatmap"`
}

// predictResponse mirrors the service response envelope.
type predictResponse struct {
	Result map[string]predictionEntry `json:"result"`
}

// PredictResult is the parsed outcome of one prediction call: the scores in
// deterministic (taxonomy) order plus the decoded per-condition heatmaps.
type PredictResult struct {
	Scores   []domain.ConditionScore
	Heatmaps map[domain.Condition][]byte
}

// Predict submits an X-ray image to the prediction service and parses the
// per-condition scores. Heatmaps that fail to decode are skipped with a
// warning rather than failing the whole prediction.
func (c *CXRClient) Predict(ctx context.Context, img io.Reader, filename, requestID string) (*PredictResult, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	body, contentType, err := buildPredictBody(img, filename, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to build prediction request: %w", err)
	}

	var respBody []byte
	for attempt := 0; ; attempt++ {
		raw, execErr := c.breaker.Execute(func() (interface{}, error) {
			return c.doPredict(ctx, body, contentType)
		})
		if execErr == nil {
			respBody = raw.([]byte)
			break
		}
		if attempt >= c.retryCount || ctx.Err() != nil {
			return nil, fmt.Errorf("prediction request failed: %w", execErr)
		}
		c.logger.WithError(execErr).WithFields(logrus.Fields{
			"request_id": requestID,
			"attempt":    attempt + 1,
		}).Warn("Prediction request failed, retrying")
	}

	return c.parsePredictResponse(respBody, requestID)
}

func (c *CXRClient) doPredict(ctx context.Context, body []byte, contentType string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/predict", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: prediction service returned status %d", domain.ErrExternalAPI, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func (c *CXRClient) parsePredictResponse(data []byte, requestID string) (*PredictResult, error) {
	var parsed predictResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse prediction response: %w", err)
	}
	if parsed.Result == nil {
		return nil, fmt.Errorf("%s: prediction response has no result", domain.ErrExternalAPI)
	}

	result := &PredictResult{
		Scores:   make([]domain.ConditionScore, 0, len(parsed.Result)),
		Heatmaps: make(map[domain.Condition][]byte),
	}
	for name, entry := range parsed.Result {
		cond := domain.Condition(name)
		result.Scores = append(result.Scores, domain.ConditionScore{
			ConditionName:  cond,
			RawProbability: entry.Prediction,
			BalancedScore:  entry.BalancedScore,
			Thresholded:    entry.Thresholded,
		})

		if entry.Heatmap == "" {
			continue
		}
		decoded, err := base64.StdEncoding.DecodeString(entry.Heatmap)
		if err != nil {
			c.logger.WithError(err).WithFields(logrus.Fields{
				"request_id": requestID,
				"condition":  name,
			}).Warn("Skipping undecodable heatmap")
			continue
		}
		result.Heatmaps[cond] = decoded
	}

	// Map iteration order is random; keep the output deterministic.
	sort.Slice(result.Scores, func(i, j int) bool {
		return result.Scores[i].ConditionName < result.Scores[j].ConditionName
	})

	c.logger.WithFields(logrus.Fields{
		"request_id": requestID,
		"conditions": len(result.Scores),
		"heatmaps":   len(result.Heatmaps),
	}).Info("Prediction response parsed")

	return result, nil
}

// buildPredictBody assembles the multipart payload the service expects: the
// image under "file" plus the request identifier.
func buildPredictBody(img io.Reader, filename, requestID string) ([]byte, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(part, img); err != nil {
		return nil, "", err
	}
	if err := writer.WriteField("request_id", requestID); err != nil {
		return nil, "", err
	}
	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), writer.FormDataContentType(), nil
}
