package httprequest

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dukex/stepflow/pkg/executor"
	"github.com/dukex/stepflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, config map[string]any) (any, error) {
	t.Helper()

	step := &models.Step{ID: "call", Kind: models.StepKindHTTP, Config: config}

	exec, err := NewFactory(nil).Create(step)
	require.NoError(t, err)

	return exec.Execute(context.Background(), &executor.Context{
		ExecutionID: "exec-1",
		Step:        step,
		Variables:   map[string]any{"token": "secret", "name": "ada"},
		Results:     map[string]any{"lookup": map[string]any{"id": "42"}},
	})
}

func TestExecute_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/users/42", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"message": "ok"}`))
	}))
	defer server.Close()

	out, err := execute(t, map[string]any{
		"url":     server.URL + "/users/{{.results.lookup.id}}",
		"headers": map[string]any{"Authorization": "Bearer {{.vars.token}}"},
	})
	require.NoError(t, err)

	result := out.(map[string]any)
	assert.Equal(t, http.StatusOK, result["status_code"])
	assert.Equal(t, map[string]any{"message": "ok"}, result["json"])
}

func TestExecute_PostsRenderedBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"name":"ada"}`, string(body))

		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	out, err := execute(t, map[string]any{
		"url":    server.URL,
		"method": "post",
		"body":   `{"name": "{{.vars.name}}"}`,
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, out.(map[string]any)["status_code"])
}

func TestExecute_NonSuccessStatusFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("down"))
	}))
	defer server.Close()

	_, err := execute(t, map[string]any{"url": server.URL})

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusServiceUnavailable, statusErr.StatusCode)
	assert.Equal(t, "down", statusErr.Body)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(&models.Step{ID: "x", Kind: models.StepKindHTTP}, http.DefaultClient)
	require.ErrorIs(t, err, ErrMissingURL)

	_, err = New(&models.Step{ID: "x", Kind: models.StepKindHTTP, Config: map[string]any{"url": "http://x", "method": "TRACE"}}, http.DefaultClient)
	require.Error(t, err)

	err = executor.ValidateConfig(NewFactory(nil).Schema(), map[string]any{"url": "http://x", "method": "TRACE"})
	require.ErrorIs(t, err, executor.ErrInvalidConfig)
}
