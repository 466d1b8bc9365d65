package transport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"dripline/metrics"
	"dripline/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingSender struct {
	mu    sync.Mutex
	calls int
	err   error
	fail  bool
}

func (c *countingSender) Send(ctx context.Context, msg models.Message) (models.Delivery, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.err != nil {
		return models.Delivery{}, c.err
	}
	if c.fail {
		return models.Delivery{Success: false}, nil
	}
	return models.Delivery{Success: true, ProviderMessageID: "provider-1"}, nil
}

func testMessage(key string) models.Message {
	return models.Message{
		From:           "hello@studio.test",
		FromName:       "Studio",
		To:             "a@x.com",
		Subject:        "Quick idea",
		HTML:           "<p>Hi</p>",
		IdempotencyKey: key,
	}
}

func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return client, mr
}

func TestDeduplicating_ReplaysKnownKey(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer mr.Close()
	defer client.Close()

	logger, _ := logtest.NewNullLogger()
	m := metrics.New(prometheus.NewRegistry())
	next := &countingSender{}
	d := NewDeduplicating(next, client, time.Hour, logger, m)
	ctx := context.Background()

	first, err := d.Send(ctx, testMessage("lead-1:1"))
	require.NoError(t, err)
	assert.True(t, first.Success)

	second, err := d.Send(ctx, testMessage("lead-1:1"))
	require.NoError(t, err)
	assert.True(t, second.Success)
	assert.Equal(t, first.ProviderMessageID, second.ProviderMessageID)

	assert.Equal(t, 1, next.calls)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.DedupedReplays))
	assert.Equal(t, time.Hour, mr.TTL("idem:lead-1:1"))

	_, err = d.Send(ctx, testMessage("lead-1:2"))
	require.NoError(t, err)
	assert.Equal(t, 2, next.calls)
}

func TestDeduplicating_FailuresAreNotRemembered(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer mr.Close()
	defer client.Close()

	logger, _ := logtest.NewNullLogger()
	next := &countingSender{err: errors.New("connection refused")}
	d := NewDeduplicating(next, client, time.Hour, logger, nil)
	ctx := context.Background()

	_, err := d.Send(ctx, testMessage("lead-1:1"))
	assert.Error(t, err)
	assert.False(t, mr.Exists("idem:lead-1:1"))

	next.err = nil
	next.fail = true
	delivery, err := d.Send(ctx, testMessage("lead-1:1"))
	require.NoError(t, err)
	assert.False(t, delivery.Success)
	assert.False(t, mr.Exists("idem:lead-1:1"))

	next.fail = false
	delivery, err = d.Send(ctx, testMessage("lead-1:1"))
	require.NoError(t, err)
	assert.True(t, delivery.Success)
	assert.Equal(t, 3, next.calls)
}

func TestDeduplicating_RedisDownStillSends(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer client.Close()
	mr.Close()

	logger, _ := logtest.NewNullLogger()
	next := &countingSender{}
	d := NewDeduplicating(next, client, time.Hour, logger, nil)

	delivery, err := d.Send(context.Background(), testMessage("lead-1:1"))
	require.NoError(t, err)
	assert.True(t, delivery.Success)
	assert.Equal(t, 1, next.calls)
}

func TestDeduplicating_NoKeyPassesThrough(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer mr.Close()
	defer client.Close()

	next := &countingSender{}
	d := NewDeduplicating(next, client, time.Hour, nil, nil)

	for i := 0; i < 2; i++ {
		_, err := d.Send(context.Background(), testMessage(""))
		require.NoError(t, err)
	}
	assert.Equal(t, 2, next.calls)
	assert.Empty(t, mr.Keys())
}

func TestSendGrid_Accepted(t *testing.T) {
	var (
		gotPath string
		gotAuth string
		gotBody string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.Header().Set("X-Message-Id", "sg-123")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	logger, _ := logtest.NewNullLogger()
	sg := NewSendGrid("test-key", srv.URL, logger)

	delivery, err := sg.Send(context.Background(), testMessage("lead-1:1"))
	require.NoError(t, err)
	assert.True(t, delivery.Success)
	assert.Equal(t, "sg-123", delivery.ProviderMessageID)

	assert.Equal(t, "/v3/mail/send", gotPath)
	assert.Equal(t, "Bearer test-key", gotAuth)
	assert.Contains(t, gotBody, "a@x.com")
	assert.Contains(t, gotBody, "lead-1:1")
	assert.True(t, strings.Contains(gotBody, "Quick idea"))
}

func TestSendGrid_Rejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"errors":[{"message":"invalid to"}]}`))
	}))
	defer srv.Close()

	logger, _ := logtest.NewNullLogger()
	sg := NewSendGrid("test-key", srv.URL, logger)

	delivery, err := sg.Send(context.Background(), testMessage("lead-1:1"))
	require.NoError(t, err)
	assert.False(t, delivery.Success)
	assert.Empty(t, delivery.ProviderMessageID)
}

func TestSendGrid_ContextCancelled(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	sg := NewSendGrid("test-key", srv.URL, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := sg.Send(ctx, testMessage("lead-1:1"))
	assert.Error(t, err)
}

func TestConsole_Send(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	c := NewConsole(logger)

	delivery, err := c.Send(context.Background(), testMessage("lead-1:1"))
	require.NoError(t, err)
	assert.True(t, delivery.Success)
	assert.True(t, strings.HasPrefix(delivery.ProviderMessageID, "console-"))

	require.Len(t, hook.Entries, 1)
	assert.Equal(t, "a@x.com", hook.LastEntry().Data["to"])
	assert.Equal(t, "lead-1:1", hook.LastEntry().Data["idempotency_key"])
}

func TestSMTP_Domain(t *testing.T) {
	s := NewSMTP(SMTPConfig{Host: "smtp.relay.test", Port: 587})

	assert.Equal(t, "studio.test", s.domain("hello@studio.test"))
	assert.Equal(t, "smtp.relay.test", s.domain("not-an-address"))
	assert.Equal(t, "smtp.relay.test", s.domain("trailing@"))
}

func TestSMTP_ContextDeadline(t *testing.T) {
	// nothing listens here, so the dial fails or the deadline fires first
	s := NewSMTP(SMTPConfig{Host: "127.0.0.1", Port: 1})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	delivery, err := s.Send(ctx, testMessage("lead-1:1"))
	assert.Error(t, err)
	assert.False(t, delivery.Success)
}
