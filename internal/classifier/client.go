package classifier

import (
	"context"
	"encoding/json"
	"math"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"medtrack-compliance/internal/models"
)

// classifyRequest wire request to the external classifier's /predict endpoint.
type classifyRequest struct {
	ScheduledTime string `json:"scheduledTime"`
	ActualTime    string `json:"actualTime"`
	Action        string `json:"action"`
}

// Client calls the external compliance classifier. On transport failure,
// timeout, or an unusable response body it substitutes the fallback rule
// once, with no retries against the service itself (the next sweep pass is
// the batch-level retry).
type Client struct {
	httpClient *resty.Client
	logger     *zap.Logger
}

// NewClient creates a classifier client. The timeout is minutes-scale on
// purpose: the backing inference job may sit in a queue, and the caller
// prefers a slow answer over a fast failure.
func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &Client{
		httpClient: client,
		logger:     logger,
	}
}

// Classify returns a compliance outcome for one intake event. It never
// returns an error: any failure path degrades to the fallback rule.
func (c *Client) Classify(ctx context.Context, scheduled, actual time.Time, action string) Outcome {
	request := classifyRequest{
		ScheduledTime: scheduled.UTC().Format(time.RFC3339),
		ActualTime:    actual.UTC().Format(time.RFC3339),
		Action:        action,
	}

	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(request).
		Post("/predict")

	if err != nil {
		c.logger.Warn("Classifier unreachable, using fallback rule",
			zap.Error(err),
		)
		return FallbackClassify(scheduled, actual, action)
	}

	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		c.logger.Warn("Classifier returned non-success status, using fallback rule",
			zap.Int("status_code", resp.StatusCode()),
		)
		return FallbackClassify(scheduled, actual, action)
	}

	outcome, ok := parseResponse(resp.Body())
	if !ok {
		c.logger.Warn("Classifier response had no usable verdict, using fallback rule",
			zap.Int("body_size", len(resp.Body())),
		)
		return FallbackClassify(scheduled, actual, action)
	}

	outcome.DelayMinutes = int(math.Round(actual.Sub(scheduled).Minutes()))

	c.logger.Debug("Classifier result",
		zap.String("verdict", outcome.Verdict),
		zap.Float64("confidence", outcome.Confidence),
	)

	return outcome
}

// responseBody the shapes the classifier has been seen to return. The
// service's response format has drifted before; parsing stays permissive so
// a format change degrades to fallback instead of halting the pipeline.
type responseBody struct {
	Verdict    string   `json:"verdict"`
	Kepatuhan  string   `json:"kepatuhan"`
	Prediction string   `json:"prediction"`
	Output     string   `json:"output"`
	Confidence *float64 `json:"confidence"`
	Score      *float64 `json:"score"`
	Method     string   `json:"method"`

	Data *responseData `json:"data"`
}

type responseData struct {
	Verdict    string   `json:"verdict"`
	Prediction string   `json:"prediction"`
	Confidence *float64 `json:"confidence"`
}

func parseResponse(body []byte) (Outcome, bool) {
	var parsed responseBody
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Outcome{}, false
	}

	label := firstNonEmpty(parsed.Verdict, parsed.Kepatuhan, parsed.Prediction, parsed.Output)
	confidence := parsed.Confidence
	if confidence == nil {
		confidence = parsed.Score
	}

	if label == "" && parsed.Data != nil {
		label = firstNonEmpty(parsed.Data.Verdict, parsed.Data.Prediction)
		if confidence == nil {
			confidence = parsed.Data.Confidence
		}
	}

	verdict, ok := normalizeVerdict(label)
	if !ok {
		return Outcome{}, false
	}

	conf := 0.5
	if confidence != nil && *confidence >= 0 && *confidence <= 1 {
		conf = *confidence
	}

	return Outcome{
		Verdict:    verdict,
		Confidence: conf,
		Method:     models.MethodExternalClassifier,
	}, true
}

// normalizeVerdict maps classifier labels onto the two verdicts. The
// upstream model was trained on Indonesian labels ("Patuh"/"Tidak Patuh").
func normalizeVerdict(label string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "compliant", "patuh":
		return models.VerdictCompliant, true
	case "non-compliant", "noncompliant", "tidak patuh":
		return models.VerdictNonCompliant, true
	default:
		return "", false
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
