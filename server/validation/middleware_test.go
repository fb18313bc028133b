package validation

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/assettelematics/finbot/config"
	"github.com/assettelematics/finbot/server/processing"
)

func testValidator(t *testing.T, mutate func(*config.Config)) *Validator {
	t.Helper()
	cfg := config.DefaultConfig()
	if mutate != nil {
		mutate(cfg)
	}
	v, err := New(cfg)
	require.NoError(t, err)
	return v
}

func chatRequest(t *testing.T, body interface{}) *http.Request {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest("POST", "/v1/chat", bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestValidateChat_Valid(t *testing.T) {
	v := testValidator(t, nil)

	nextCalled := false
	handler := v.ValidateChat(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nextCalled = true

		// The body must still be readable downstream.
		var req processing.ChatRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "CUST001", req.CustomerID)

		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, chatRequest(t, map[string]interface{}{
		"customerId": "CUST001",
		"message":     "What do I owe?",
	}))

	assert.True(t, nextCalled)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestValidateChat_ContentType(t *testing.T) {
	v := testValidator(t, nil)
	handler := v.ValidateChat(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("next handler should not run")
	}))

	req := httptest.NewRequest("POST", "/v1/chat", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "text/plain")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_content_type")
}

func TestValidateChat_ContentTypeWithCharset(t *testing.T) {
	v := testValidator(t, nil)

	nextCalled := false
	handler := v.ValidateChat(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nextCalled = true
	}))

	req := chatRequest(t, map[string]interface{}{
		"customerId": "CUST001",
		"message":     "hi",
	})
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.True(t, nextCalled)
}

func TestValidateChat_MalformedJSON(t *testing.T) {
	v := testValidator(t, nil)
	handler := v.ValidateChat(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("next handler should not run")
	}))

	req := httptest.NewRequest("POST", "/v1/chat", strings.NewReader(`{"customerId":`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_json")
}

func TestValidateChat_MissingFields(t *testing.T) {
	v := testValidator(t, nil)
	handler := v.ValidateChat(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("next handler should not run")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, chatRequest(t, map[string]interface{}{
		"message": "no customer id",
	}))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "customerId")
	assert.Contains(t, rec.Body.String(), "required_validation_failed")
}

func TestValidateChat_TokenBudget(t *testing.T) {
	v := testValidator(t, func(cfg *config.Config) {
		cfg.LLM.MaxContextTokens = contextPromptReserve + 10
	})
	handler := v.ValidateChat(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("next handler should not run")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, chatRequest(t, map[string]interface{}{
		"customerId": "CUST001",
		"message":     strings.Repeat("balance due today ", 50),
	}))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "token_limit_exceeded")
}
