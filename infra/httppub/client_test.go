package httppub

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/pubcontrol/core/item"
	"github.com/kilianp07/pubcontrol/core/publish"
)

type capture struct {
	mu     sync.Mutex
	bodies []map[string]any
	auth   []string
	paths  []string
}

func (c *capture) handler(status int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		c.mu.Lock()
		c.bodies = append(c.bodies, body)
		c.auth = append(c.auth, r.Header.Get("Authorization"))
		c.paths = append(c.paths, r.URL.Path)
		c.mu.Unlock()
		w.WriteHeader(status)
		if status >= 300 {
			_, _ = w.Write([]byte("nope"))
		}
	}
}

func testItem(t *testing.T) item.Item {
	t.Helper()
	it, err := item.New(item.Raw{Key: "data", Value: "hi"})
	require.NoError(t, err)
	return it
}

func TestPublishBlocking(t *testing.T) {
	c := &capture{}
	srv := httptest.NewServer(c.handler(http.StatusOK))
	defer srv.Close()

	cli := New(srv.URL+"/", Config{})
	defer cli.Close()
	require.NoError(t, cli.Publish(context.Background(), "ch1", testItem(t).WithID("1", ""), true, nil))

	require.Len(t, c.bodies, 1)
	assert.Equal(t, "/publish/", c.paths[0])
	items := c.bodies[0]["items"].([]any)
	require.Len(t, items, 1)
	assert.Equal(t, map[string]any{"channel": "ch1", "data": "hi", "id": "1"}, items[0])
	assert.Empty(t, c.auth[0])
}

func TestPublishBlockingHTTPError(t *testing.T) {
	c := &capture{}
	srv := httptest.NewServer(c.handler(http.StatusForbidden))
	defer srv.Close()

	cli := New(srv.URL, Config{MaxRetries: 3, BackoffMS: 1})
	defer cli.Close()
	err := cli.Publish(context.Background(), "ch", testItem(t), true, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, publish.ErrTransport)
	var te *publish.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, http.StatusForbidden, te.Status)
	assert.Contains(t, err.Error(), "nope")
	assert.Len(t, c.bodies, 1, "4xx responses are not retried")
}

func TestPublishRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cli := New(srv.URL, Config{MaxRetries: 3, BackoffMS: 1})
	defer cli.Close()
	require.NoError(t, cli.Publish(context.Background(), "ch", testItem(t), true, nil))
	assert.Equal(t, int32(3), calls.Load())
}

func TestPublishAsyncAndFinish(t *testing.T) {
	c := &capture{}
	srv := httptest.NewServer(c.handler(http.StatusOK))
	defer srv.Close()

	cli := New(srv.URL, Config{})
	defer cli.Close()

	var ok atomic.Int32
	for i := 0; i < 5; i++ {
		require.NoError(t, cli.Publish(context.Background(), "ch", testItem(t), false, func(success bool, msg string) {
			if success && msg == "" {
				ok.Add(1)
			}
		}))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, cli.Finish(ctx))
	assert.Equal(t, int32(5), ok.Load())

	total := 0
	c.mu.Lock()
	for _, b := range c.bodies {
		total += len(b["items"].([]any))
	}
	c.mu.Unlock()
	assert.Equal(t, 5, total, "every queued item is delivered, possibly batched")
}

func TestPublishAsyncFailureReportsMessage(t *testing.T) {
	srv := httptest.NewServer((&capture{}).handler(http.StatusBadRequest))
	defer srv.Close()

	cli := New(srv.URL, Config{})
	defer cli.Close()
	msgs := make(chan string, 1)
	require.NoError(t, cli.Publish(context.Background(), "ch", testItem(t), false, func(success bool, msg string) {
		assert.False(t, success)
		msgs <- msg
	}))
	select {
	case msg := <-msgs:
		assert.Contains(t, msg, "status 400")
	case <-time.After(2 * time.Second):
		t.Fatal("callback not invoked")
	}
}

func TestPublishAfterClose(t *testing.T) {
	cli := New("http://127.0.0.1:0", Config{})
	require.NoError(t, cli.Close())
	require.NoError(t, cli.Close())
	assert.ErrorIs(t, cli.Publish(context.Background(), "ch", testItem(t), false, nil), publish.ErrClosed)
	assert.ErrorIs(t, cli.Publish(context.Background(), "ch", testItem(t), true, nil), publish.ErrClosed)
}

func TestFinishOnIdleClient(t *testing.T) {
	cli := New("http://127.0.0.1:0", Config{})
	defer cli.Close()
	require.NoError(t, cli.Finish(context.Background()))
}

func TestFinishTimeoutLeavesNoGoroutine(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	cli := New(srv.URL, Config{})
	defer cli.Close()

	require.NoError(t, cli.Publish(context.Background(), "ch", testItem(t), false, nil))
	before := runtime.NumGoroutine()
	for i := 0; i < 10; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
		assert.ErrorIs(t, cli.Finish(ctx), context.DeadlineExceeded)
		cancel()
	}
	assert.Less(t, runtime.NumGoroutine(), before+5, "timed out Finish calls leave nothing behind")

	close(release)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, cli.Finish(ctx))
}

func TestSetAuthJWT(t *testing.T) {
	c := &capture{}
	srv := httptest.NewServer(c.handler(http.StatusOK))
	defer srv.Close()

	cli := New(srv.URL, Config{})
	defer cli.Close()
	cli.SetAuthJWT(map[string]any{"iss": "realm"}, []byte("secret"))
	require.NoError(t, cli.Publish(context.Background(), "ch", testItem(t), true, nil))
	require.NoError(t, cli.Publish(context.Background(), "ch", testItem(t), true, nil))

	require.Len(t, c.auth, 2)
	assert.Equal(t, c.auth[0], c.auth[1], "token is reused while valid")
	raw := strings.TrimPrefix(c.auth[0], "Bearer ")
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) { return []byte("secret"), nil })
	require.NoError(t, err)
	assert.Equal(t, "realm", claims["iss"])
	assert.Contains(t, claims, "exp")
}

func TestSetAuthBasic(t *testing.T) {
	c := &capture{}
	srv := httptest.NewServer(c.handler(http.StatusOK))
	defer srv.Close()

	cli := New(srv.URL, Config{})
	defer cli.Close()
	cli.SetAuthBasic("user", "pass")
	require.NoError(t, cli.Publish(context.Background(), "ch", testItem(t), true, nil))
	assert.Equal(t, "Basic dXNlcjpwYXNz", c.auth[0])
}

func TestClientMetadata(t *testing.T) {
	cli := New("https://a.example/pub", Config{})
	defer cli.Close()
	assert.Equal(t, publish.KindDirect, cli.Kind())
	assert.Equal(t, "https://a.example/pub", cli.Endpoint())
	assert.Nil(t, cli.SubscriptionMonitor())
	assert.Equal(t, "https://a.example/pub/publish/", cli.publishURL)
}

func TestConfigValidate(t *testing.T) {
	assert.Error(t, Config{MaxRetries: -1}.Validate())
	assert.Error(t, Config{MaxRetries: 11}.Validate())
	assert.NoError(t, Config{MaxRetries: 2}.Validate())
}
