package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sentMail struct {
	to, subject, body string
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sentMail
	fail map[string]bool
}

func (f *fakeSender) Send(_ context.Context, to, subject, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[to] {
		return errors.New("smtp: mailbox unavailable")
	}
	f.sent = append(f.sent, sentMail{to, subject, body})
	return nil
}

func testEvent(t *testing.T, level Level) Event {
	t.Helper()
	ev, err := NewEvent(level, "High Upload Failure Rate", "Upload failure rate is 40.00%",
		map[string]any{"uploads": map[string]int{"total": 5, "failed": 2}},
		time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC))
	require.NoError(t, err)
	return ev
}

func TestMailChannel(t *testing.T) {
	sender := &fakeSender{}
	ch := NewMailChannel(sender, []string{"ops@example.com", "oncall@example.com"})
	require.NotNil(t, ch)

	require.NoError(t, ch.Deliver(context.Background(), testEvent(t, LevelCritical)))
	require.Len(t, sender.sent, 2)
	assert.Equal(t, "[CRITICAL] High Upload Failure Rate", sender.sent[0].subject)
	assert.Contains(t, sender.sent[0].body, "<h2>High Upload Failure Rate</h2>")
	assert.Contains(t, sender.sent[0].body, "<strong>Level:</strong> critical")
	assert.Contains(t, sender.sent[0].body, "&#34;failed&#34;: 2")
}

func TestMailChannelReportsPartialFailure(t *testing.T) {
	sender := &fakeSender{fail: map[string]bool{"oncall@example.com": true}}
	ch := NewMailChannel(sender, []string{"ops@example.com", "oncall@example.com"})

	err := ch.Deliver(context.Background(), testEvent(t, LevelWarning))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "oncall@example.com")
	assert.Len(t, sender.sent, 1)
}

func TestSlackChannel(t *testing.T) {
	var got slackPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ch := NewSlackChannel(srv.URL, srv.Client())
	require.NoError(t, ch.Deliver(context.Background(), testEvent(t, LevelWarning)))

	require.Len(t, got.Attachments, 1)
	att := got.Attachments[0]
	assert.Equal(t, "#ff9800", att.Color)
	assert.Equal(t, "High Upload Failure Rate", att.Title)
	assert.Equal(t, slackFooter, att.Footer)
	assert.Equal(t, []slackField{
		{Title: "Level", Value: "warning", Short: true},
		{Title: "Time", Value: "2026-05-01T09:30:00.000Z", Short: true},
	}, att.Fields)
}

func TestSlackChannelNon2xxIsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := NewSlackChannel(srv.URL, srv.Client()).Deliver(context.Background(), testEvent(t, LevelInfo))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestTelegramChannel(t *testing.T) {
	var got telegramMessage
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	ch := NewTelegramChannel("123:abc", "-10042", srv.Client(), WithTelegramBaseURL(srv.URL))
	require.NoError(t, ch.Deliver(context.Background(), testEvent(t, LevelCritical)))

	assert.Equal(t, "/bot123:abc/sendMessage", path)
	assert.Equal(t, "-10042", got.ChatID)
	assert.Equal(t, "Markdown", got.ParseMode)
	assert.True(t, strings.Contains(got.Text, "*High Upload Failure Rate*"))
	assert.Contains(t, got.Text, "Level: critical")
}

func TestWebhookErrorsOmitCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	base := srv.URL
	srv.Close()

	const token = "SECRET123:TOKEN"
	err := NewTelegramChannel(token, "-10042", &http.Client{Timeout: time.Second}, WithTelegramBaseURL(base)).
		Deliver(context.Background(), testEvent(t, LevelCritical))
	require.Error(t, err)
	assert.NotContains(t, err.Error(), token)
	assert.NotContains(t, err.Error(), base)

	hook := base + "/services/T000/B000/hooksecret"
	err = NewSlackChannel(hook, &http.Client{Timeout: time.Second}).
		Deliver(context.Background(), testEvent(t, LevelWarning))
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "hooksecret")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = postJSON(ctx, http.DefaultClient, base+"/bot"+token+"/sendMessage", map[string]string{})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotContains(t, err.Error(), token)
}

func TestTelegramThrottleHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))
	defer srv.Close()

	ch := NewTelegramChannel("t", "c", srv.Client(), WithTelegramBaseURL(srv.URL), WithTelegramRate(time.Hour, 1))
	require.NoError(t, ch.Deliver(context.Background(), testEvent(t, LevelInfo)))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, ch.Deliver(ctx, testEvent(t, LevelInfo)))
}

func TestBuildChannelsSkipsUnconfigured(t *testing.T) {
	assert.Empty(t, BuildChannels(ChannelConfig{}, nil, nil))

	chs := BuildChannels(ChannelConfig{
		EmailRecipients: []string{"ops@example.com"},
		SlackWebhookURL: "https://hooks.slack.test/x",
	}, &fakeSender{}, nil)
	require.Len(t, chs, 2)
	assert.Equal(t, "email", chs[0].Name())
	assert.Equal(t, "slack", chs[1].Name())

	chs = BuildChannels(ChannelConfig{EmailRecipients: []string{"ops@example.com"}, TelegramToken: "t"}, nil, nil)
	assert.Empty(t, chs, "mail needs a sender and telegram needs a chat id")
}
