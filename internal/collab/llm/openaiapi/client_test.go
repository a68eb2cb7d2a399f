package openaiapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientComplete_SendsExpectedPayloadAndParsesOutput(t *testing.T) {
	const envKey = "PILOTSIM_OPENAI_TEST_KEY"
	t.Setenv(envKey, "test-api-key")

	var (
		gotAuth string
		gotPath string
		gotBody map[string]any
	)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path

		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("read request body: %v", err)
			return
		}
		if err := json.Unmarshal(body, &gotBody); err != nil {
			t.Errorf("unmarshal request body: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"error": {"code": "", "message": ""},
			"output": [
				{
					"type": "message",
					"role": "assistant",
					"content": [
						{"type": "output_text", "text": "{\"transmission\":\"VH-ABC, roger\"}", "annotations": []}
					]
				}
			]
		}`))
	}))
	t.Cleanup(srv.Close)

	client, err := NewClient(Config{
		Model:     "gpt-5",
		BaseURL:   srv.URL,
		APIKeyEnv: envKey,
	}, srv.Client())
	require.NoError(t, err)

	out, err := client.Complete(context.Background(), "Output only JSON.", `{"phase_id":"taxi"}`)
	require.NoError(t, err)
	assert.Equal(t, `{"transmission":"VH-ABC, roger"}`, out)

	assert.Equal(t, "Bearer test-api-key", gotAuth)
	assert.Equal(t, "/responses", gotPath)
	assert.Equal(t, "gpt-5", gotBody["model"])
	assert.Equal(t, "Output only JSON.", gotBody["instructions"])
	assert.Equal(t, `{"phase_id":"taxi"}`, gotBody["input"])
}

func TestNewClient_ReturnsErrorWhenAPIKeyMissing(t *testing.T) {
	const envKey = "PILOTSIM_OPENAI_MISSING_KEY"
	require.NoError(t, os.Unsetenv(envKey))

	_, err := NewClient(Config{
		Model:     "gpt-5",
		BaseURL:   "http://127.0.0.1",
		APIKeyEnv: envKey,
	}, nil)
	require.Error(t, err)
}

func TestNewClient_RequiresModel(t *testing.T) {
	t.Parallel()

	_, err := NewClient(Config{APIKey: "k"}, nil)
	require.Error(t, err)
}

func TestClientComplete_ReturnsErrorWhenOutputTextMissing(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"error": {"code": "", "message": ""},
			"output": []
		}`))
	}))
	t.Cleanup(srv.Close)

	client, err := NewClient(Config{
		Model:   "gpt-5",
		BaseURL: srv.URL,
		APIKey:  "test-api-key",
	}, srv.Client())
	require.NoError(t, err)

	_, err = client.Complete(context.Background(), "Output JSON", "{}")
	require.ErrorIs(t, err, ErrNoOutput)
}
