package handlers

import (
	"context"
	"encoding/json"
	goerrors "errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/assettelematics/finbot/errors"
	"github.com/assettelematics/finbot/server/archive"
)

type fakeConversationReader struct {
	turns    []archive.Turn
	err      error
	gotID    string
	gotLimit int
}

func (f *fakeConversationReader) History(_ context.Context, conversationID string, limit int) ([]archive.Turn, error) {
	f.gotID = conversationID
	f.gotLimit = limit
	return f.turns, f.err
}

func historyRequest(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	router := chi.NewRouter()
	router.Get("/v1/conversations/{id}", h.ServeHTTP)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestHistoryHandler_ReturnsTurns(t *testing.T) {
	reader := &fakeConversationReader{
		turns: []archive.Turn{
			{
				ConversationID: "conv-7",
				CustomerID:     "CUST003",
				UserMessage:    "I can pay friday",
				AgentReply:     "Noted.",
				Timestamp:      time.Date(2024, 5, 2, 10, 0, 0, 0, time.UTC),
			},
		},
	}
	h := NewHistoryHandler(reader, zaptest.NewLogger(t))

	rec := historyRequest(t, h, "/v1/conversations/conv-7?limit=10")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HistoryResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "conv-7", resp.ConversationID)
	require.Len(t, resp.Turns, 1)
	assert.Equal(t, "Noted.", resp.Turns[0].AgentReply)

	assert.Equal(t, "conv-7", reader.gotID)
	assert.Equal(t, 10, reader.gotLimit)
}

func TestHistoryHandler_EmptyConversation(t *testing.T) {
	h := NewHistoryHandler(&fakeConversationReader{}, zaptest.NewLogger(t))

	rec := historyRequest(t, h, "/v1/conversations/conv-0")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"conversation_id":"conv-0","turns":[]}`, rec.Body.String())
}

func TestHistoryHandler_InvalidLimit(t *testing.T) {
	h := NewHistoryHandler(&fakeConversationReader{}, zaptest.NewLogger(t))

	for _, limit := range []string{"abc", "0", "-3"} {
		rec := historyRequest(t, h, "/v1/conversations/conv-1?limit="+limit)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "limit=%s", limit)
	}
}

func TestHistoryHandler_ArchiveDisabled(t *testing.T) {
	h := NewHistoryHandler(nil, zaptest.NewLogger(t))

	rec := historyRequest(t, h, "/v1/conversations/conv-1")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var resp errors.ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, errors.UpstreamError, resp.Type)
}

func TestHistoryHandler_StoreFailure(t *testing.T) {
	reader := &fakeConversationReader{err: goerrors.New("query throttled")}
	h := NewHistoryHandler(reader, zaptest.NewLogger(t))

	rec := historyRequest(t, h, "/v1/conversations/conv-1")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}
