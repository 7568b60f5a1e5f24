package llm

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/optionalpha/scanner/internal/ports"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func TestStripThinkBlocks_RemovesSingleBlock(t *testing.T) {
	out := stripThinkBlocks("<think>reasoning</think>{\"answer\":42}")
	assert.Equal(t, `{"answer":42}`, out)
}

func TestStripThinkBlocks_RemovesRepeatedAndNestedBlocks(t *testing.T) {
	out := stripThinkBlocks("<think>a</think>mid<think>b<think>c</think>d</think>tail")
	assert.Equal(t, "midtail", out)
}

func TestStripThinkBlocks_NoBlocksReturnsUnchanged(t *testing.T) {
	out := stripThinkBlocks(`{"answer":42}`)
	assert.Equal(t, `{"answer":42}`, out)
}

func TestChat_SuccessReturnsNormalizedResult(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		resp := map[string]interface{}{
			"model":             "llama3.1:8b",
			"prompt_eval_count": 100,
			"eval_count":        50,
			"message":           map[string]string{"content": "<think>thinking</think>{\"ok\":true}"},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := NewClient(server.URL, testLogger())
	result, err := client.Chat([]ports.ChatMessage{{Role: "user", Content: "hi"}}, "llama3.1:8b", 5*time.Second)

	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, result.Content)
	assert.Equal(t, 100, result.InputTokens)
	assert.Equal(t, 50, result.OutputTokens)
}

func TestChat_NotFoundPropagatesImmediatelyWithoutRetry(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := NewClient(server.URL, testLogger())
	_, err := client.Chat([]ports.ChatMessage{{Role: "user", Content: "hi"}}, "missing-model", 5*time.Second)

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestChat_TransportErrorRetriesThenSucceeds(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls <= 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"model":   "llama3.1:8b",
			"message": map[string]string{"content": `{"ok":true}`},
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, testLogger())
	client.http.Timeout = 0
	result, err := client.Chat([]ports.ChatMessage{{Role: "user", Content: "hi"}}, "llama3.1:8b", 5*time.Second)

	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, result.Content)
	assert.True(t, calls >= 2)
}

func TestValidateModel_TrueWhenModelListed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/tags", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"models": []map[string]string{{"name": "llama3.1:8b"}},
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, testLogger())
	assert.True(t, client.ValidateModel("llama3.1:8b"))
	assert.False(t, client.ValidateModel("nonexistent"))
}

func TestValidateModel_FalseOnConnectError(t *testing.T) {
	client := NewClient("http://127.0.0.1:1", testLogger())
	assert.False(t, client.ValidateModel("anything"))
}
