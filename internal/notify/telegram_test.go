package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sugartrades/sugar-flow-academy-sub001/internal/apperr"
	"github.com/sugartrades/sugar-flow-academy-sub001/internal/retry"
)

const okSendMessage = `{"ok":true,"result":{"message_id":1,"date":0,"chat":{"id":1,"type":"private"}}}`

// sendMessageParams extracts chat_id and text from either a JSON or a form body.
func sendMessageParams(t *testing.T, r *http.Request) (string, string) {
	t.Helper()
	body, err := io.ReadAll(r.Body)
	require.NoError(t, err)

	ct := r.Header.Get("Content-Type")
	switch {
	case strings.HasPrefix(ct, "application/json"):
		var p struct {
			ChatID json.RawMessage `json:"chat_id"`
			Text   string          `json:"text"`
		}
		require.NoError(t, json.Unmarshal(body, &p))
		return strings.Trim(string(p.ChatID), `"`), p.Text
	case strings.HasPrefix(ct, "multipart/form-data"):
		r.Body = io.NopCloser(strings.NewReader(string(body)))
		require.NoError(t, r.ParseMultipartForm(1<<20))
		return r.FormValue("chat_id"), r.FormValue("text")
	default:
		v, err := url.ParseQuery(string(body))
		require.NoError(t, err)
		return v.Get("chat_id"), v.Get("text")
	}
}

func TestTelegramSender_Send(t *testing.T) {
	var (
		calls  atomic.Int32
		gotID  atomic.Value
		gotTxt atomic.Value
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.True(t, strings.HasSuffix(r.URL.Path, "/sendMessage"), r.URL.Path)
		assert.Contains(t, r.URL.Path, "/botTEST-TOKEN/")
		id, text := sendMessageParams(t, r)
		gotID.Store(id)
		gotTxt.Store(text)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, okSendMessage)
	}))
	defer srv.Close()

	s, err := NewTelegramSender("TEST-TOKEN", srv.URL)
	require.NoError(t, err)

	require.NoError(t, s.Send(context.Background(), "-1001234567890", "whale spotted"))
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, "-1001234567890", gotID.Load())
	assert.Equal(t, "whale spotted", gotTxt.Load())
}

func TestTelegramSender_BadRequestIsTerminal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`)
	}))
	defer srv.Close()

	s, err := NewTelegramSender("TEST-TOKEN", srv.URL)
	require.NoError(t, err)

	err = s.Send(context.Background(), "@missing", "text")
	require.Error(t, err)
	assert.False(t, retry.IsTransient(err))
}

func TestTelegramSender_ServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"ok":false,"error_code":502,"description":"Bad Gateway"}`)
	}))
	defer srv.Close()

	s, err := NewTelegramSender("TEST-TOKEN", srv.URL)
	require.NoError(t, err)

	err = s.Send(context.Background(), "-100", "text")
	require.Error(t, err)
	assert.True(t, retry.IsTransient(err))
}

func TestNewTelegramSender_MissingToken(t *testing.T) {
	_, err := NewTelegramSender("  ", "")
	assert.ErrorIs(t, err, apperr.ErrConfigurationMissing)
}

func TestTelegramSender_EmptyChannel(t *testing.T) {
	s, err := NewTelegramSender("TEST-TOKEN", "http://127.0.0.1:1")
	require.NoError(t, err)
	assert.ErrorIs(t, s.Send(context.Background(), "", "x"), apperr.ErrConfigurationMissing)
}

func TestChatID(t *testing.T) {
	assert.Equal(t, int64(-1001234), chatID("-1001234"))
	assert.Equal(t, "@whales", chatID("@whales"))
}

func TestUnconfiguredSender(t *testing.T) {
	err := UnconfiguredSender{Reason: "TELEGRAM_BOT_TOKEN not set"}.Send(context.Background(), "-1", "x")
	assert.ErrorIs(t, err, apperr.ErrConfigurationMissing)
	assert.Contains(t, err.Error(), "TELEGRAM_BOT_TOKEN")
}

func TestLogSender(t *testing.T) {
	s := NewLogSender(testLogger())
	require.NoError(t, s.Send(context.Background(), "-1", "hello"))
	assert.Equal(t, 1, s.Sent())
	assert.True(t, errors.Is(s.Send(context.Background(), "", "x"), apperr.ErrConfigurationMissing))
}
