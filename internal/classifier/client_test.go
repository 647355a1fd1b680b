package classifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"medtrack-compliance/internal/models"
)

func TestClassify_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/predict", r.URL.Path)

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "accepted", body["action"])
		assert.NotEmpty(t, body["scheduledTime"])
		assert.NotEmpty(t, body["actualTime"])

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"verdict": "compliant", "confidence": 0.93, "method": "qualcomm-ai"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, 5*time.Second, zap.NewNop())

	scheduled := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	out := client.Classify(context.Background(), scheduled, scheduled.Add(5*time.Minute), models.ActionAccepted)

	assert.Equal(t, models.VerdictCompliant, out.Verdict)
	assert.Equal(t, 0.93, out.Confidence)
	assert.Equal(t, models.MethodExternalClassifier, out.Method)
	assert.Equal(t, 5, out.DelayMinutes)
}

func TestClassify_DelayMinutesRounds(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"verdict": "compliant", "confidence": 0.9}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second, zap.NewNop())
	scheduled := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

	// Rounds like the fallback rule: 8m40s -> 9, -8m40s -> -9.
	out := client.Classify(context.Background(), scheduled, scheduled.Add(8*time.Minute+40*time.Second), models.ActionAccepted)
	assert.Equal(t, 9, out.DelayMinutes)

	out = client.Classify(context.Background(), scheduled, scheduled.Add(-(8*time.Minute + 40*time.Second)), models.ActionAccepted)
	assert.Equal(t, -9, out.DelayMinutes)
}

func TestClassify_Unreachable_FallsBack(t *testing.T) {
	// Port 1 refuses connections.
	client := NewClient("http://127.0.0.1:1", time.Second, zap.NewNop())

	scheduled := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	actual := scheduled.Add(8 * time.Minute)

	out := client.Classify(context.Background(), scheduled, actual, models.ActionAccepted)
	want := FallbackClassify(scheduled, actual, models.ActionAccepted)

	assert.Equal(t, want.Verdict, out.Verdict)
	assert.Equal(t, want.Confidence, out.Confidence)
	assert.Equal(t, models.MethodFallbackRule, out.Method)
}

func TestClassify_Timeout_FallsBack(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		w.Write([]byte(`{"verdict": "compliant", "confidence": 0.9}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, 50*time.Millisecond, zap.NewNop())

	scheduled := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	out := client.Classify(context.Background(), scheduled, scheduled.Add(time.Hour), models.ActionAccepted)

	assert.Equal(t, models.MethodFallbackRule, out.Method)
	assert.Equal(t, models.VerdictNonCompliant, out.Verdict)
}

func TestClassify_MalformedBody_FallsBack(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`this is not json`))
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second, zap.NewNop())

	scheduled := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	out := client.Classify(context.Background(), scheduled, scheduled, models.ActionAccepted)

	assert.Equal(t, models.MethodFallbackRule, out.Method)
	assert.Equal(t, models.VerdictCompliant, out.Verdict)
}

func TestClassify_ServerError_FallsBack(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "inference backend down", http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second, zap.NewNop())

	scheduled := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	out := client.Classify(context.Background(), scheduled, scheduled, models.ActionRejected)

	assert.Equal(t, models.MethodFallbackRule, out.Method)
	assert.Equal(t, models.VerdictNonCompliant, out.Verdict)
	assert.Equal(t, 1.0, out.Confidence)
}

func TestParseResponse_AcceptedShapes(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		verdict    string
		confidence float64
	}{
		{"verdict field", `{"verdict": "compliant", "confidence": 0.9}`, models.VerdictCompliant, 0.9},
		{"prediction field", `{"prediction": "non-compliant", "confidence": 0.7}`, models.VerdictNonCompliant, 0.7},
		{"output with score", `{"output": "compliant", "score": 0.6}`, models.VerdictCompliant, 0.6},
		{"nested data", `{"data": {"prediction": "compliant", "confidence": 0.85}}`, models.VerdictCompliant, 0.85},
		{"legacy indonesian labels", `{"kepatuhan": "Patuh", "confidence": 0.95}`, models.VerdictCompliant, 0.95},
		{"legacy non-compliant label", `{"kepatuhan": "Tidak Patuh", "confidence": 0.9}`, models.VerdictNonCompliant, 0.9},
		{"missing confidence defaults", `{"verdict": "compliant"}`, models.VerdictCompliant, 0.5},
		{"out of range confidence defaults", `{"verdict": "compliant", "confidence": 3.5}`, models.VerdictCompliant, 0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, ok := parseResponse([]byte(tt.body))
			require.True(t, ok)
			assert.Equal(t, tt.verdict, out.Verdict)
			assert.Equal(t, tt.confidence, out.Confidence)
			assert.Equal(t, models.MethodExternalClassifier, out.Method)
		})
	}
}

func TestParseResponse_UnusableShapes(t *testing.T) {
	for _, body := range []string{
		`{}`,
		`{"status": "ok"}`,
		`{"verdict": "maybe"}`,
		`[1, 2, 3]`,
		`null`,
	} {
		_, ok := parseResponse([]byte(body))
		assert.False(t, ok, "body should be rejected: %s", body)
	}
}
