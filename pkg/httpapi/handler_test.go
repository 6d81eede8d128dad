package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/petrijr/stepflow/pkg/api"
)

type fakeService struct {
	submit func(ctx context.Context, req api.SubmitRequest) (*api.SubmitResult, error)
	resync func(ctx context.Context, userID string) (*api.ResyncResult, error)
}

func (f *fakeService) Submit(ctx context.Context, req api.SubmitRequest) (*api.SubmitResult, error) {
	return f.submit(ctx, req)
}

func (f *fakeService) Resync(ctx context.Context, userID string) (*api.ResyncResult, error) {
	return f.resync(ctx, userID)
}

func newTestRouter(svc api.Service) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	h := NewHandler(svc)
	h.RegisterHealth(router)
	h.RegisterRoutes(router.Group("/v1"))
	return router
}

func doSubmit(t *testing.T, router *gin.Engine, userID string, body any) *httptest.ResponseRecorder {
	t.Helper()

	data, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/onboarding/submit", bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set(UserIDHeader, userID)
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func errorEnvelope(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	env, ok := body["error"].(map[string]any)
	require.True(t, ok, "expected an error envelope, got %s", w.Body.String())
	return env
}

func validBody() map[string]any {
	return map[string]any{
		"stepId":     "consent",
		"instanceId": "i-1",
		"nonce":      "n-1",
		"payload":    map[string]any{"accepted": true},
	}
}

func TestSubmit_Success(t *testing.T) {
	svc := &fakeService{
		submit: func(ctx context.Context, req api.SubmitRequest) (*api.SubmitResult, error) {
			require.Equal(t, "u1", req.UserID)
			require.Equal(t, api.StepID("consent"), req.StepID)
			return &api.SubmitResult{
				Success:     true,
				CurrentStep: "welcome",
				Progress:    api.Progress{Index: 2, Total: 28, Percentage: 7},
			}, nil
		},
	}
	router := newTestRouter(svc)

	w := doSubmit(t, router, "u1", validBody())
	require.Equal(t, http.StatusOK, w.Code)

	var res api.SubmitResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	require.True(t, res.Success)
	require.Equal(t, api.StepID("welcome"), res.CurrentStep)
}

func TestSubmit_RequiresUserHeader(t *testing.T) {
	router := newTestRouter(&fakeService{})

	w := doSubmit(t, router, "", validBody())
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, "UNAUTHENTICATED", errorEnvelope(t, w)["code"])
}

func TestSubmit_RejectsMissingFields(t *testing.T) {
	router := newTestRouter(&fakeService{})

	w := doSubmit(t, router, "u1", map[string]any{"stepId": "consent"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "BAD_REQUEST", errorEnvelope(t, w)["code"])
}

func TestSubmit_OutOfSyncCarriesCorrectInstance(t *testing.T) {
	live := api.StepInstance{
		StepID:     "welcome",
		InstanceID: "i-2",
		Nonce:      "n-2",
		CreatedAt:  time.Now().UTC(),
	}
	svc := &fakeService{
		submit: func(ctx context.Context, req api.SubmitRequest) (*api.SubmitResult, error) {
			return nil, &api.OutOfSyncError{
				Expected:        "welcome",
				Received:        req.StepID,
				CorrectInstance: live,
			}
		},
	}
	router := newTestRouter(svc)

	w := doSubmit(t, router, "u1", validBody())
	require.Equal(t, http.StatusConflict, w.Code)

	env := errorEnvelope(t, w)
	require.Equal(t, "OUT_OF_SYNC", env["code"])
	require.Equal(t, "welcome", env["expected"])
	require.Equal(t, "consent", env["received"])

	correct, ok := env["correctInstance"].(map[string]any)
	require.True(t, ok, "expected the live instance in the envelope")
	require.Equal(t, "i-2", correct["instanceId"])
	require.Equal(t, "n-2", correct["nonce"])
}

func TestSubmit_ErrorStatusMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code int
		tag  string
	}{
		{"validation", &api.ValidationError{Field: "nonce", Reason: "empty"}, http.StatusBadRequest, "BAD_REQUEST"},
		{"timeout", &api.RequestTimeoutError{Key: "k", Timeout: time.Second}, http.StatusRequestTimeout, "TIMEOUT"},
		{"locked", &api.LockTimeoutError{Key: "k", Waited: time.Second}, http.StatusLocked, "LOCKED"},
		{"rate limited", &api.RateLimitError{Identity: "u1"}, http.StatusTooManyRequests, "RATE_LIMITED"},
	}

	for _, tc := range cases {
		svc := &fakeService{
			submit: func(ctx context.Context, req api.SubmitRequest) (*api.SubmitResult, error) {
				return nil, tc.err
			},
		}
		router := newTestRouter(svc)

		w := doSubmit(t, router, "u1", validBody())
		require.Equal(t, tc.code, w.Code, tc.name)
		require.Equal(t, tc.tag, errorEnvelope(t, w)["code"], tc.name)
	}
}

func TestSubmit_InternalErrorsHideDetailByDefault(t *testing.T) {
	svc := &fakeService{
		submit: func(ctx context.Context, req api.SubmitRequest) (*api.SubmitResult, error) {
			return nil, context.DeadlineExceeded
		},
	}
	router := newTestRouter(svc)

	w := doSubmit(t, router, "u1", validBody())
	require.Equal(t, http.StatusInternalServerError, w.Code)
	require.Equal(t, "internal error", errorEnvelope(t, w)["message"])
}

func TestResync_GETAndPOST(t *testing.T) {
	svc := &fakeService{
		resync: func(ctx context.Context, userID string) (*api.ResyncResult, error) {
			return &api.ResyncResult{
				CurrentStep: "region",
				SessionID:   "s1",
				Progress:    api.Progress{Index: 5, Total: 28, Percentage: 18},
				ResyncedAt:  time.Now().UTC(),
			}, nil
		},
	}
	router := newTestRouter(svc)

	for _, method := range []string{http.MethodGet, http.MethodPost} {
		req := httptest.NewRequest(method, "/v1/onboarding/resync", nil)
		req.Header.Set(UserIDHeader, "u1")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code, method)

		var res api.ResyncResult
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
		require.Equal(t, api.StepID("region"), res.CurrentStep, method)
	}
}

func TestResync_RequiresUserHeader(t *testing.T) {
	router := newTestRouter(&fakeService{})

	req := httptest.NewRequest(http.MethodGet, "/v1/onboarding/resync", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHealthz(t *testing.T) {
	router := newTestRouter(&fakeService{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
}
