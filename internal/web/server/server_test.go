package server

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewValidation(t *testing.T) {
	_, err := New(nil, nil)
	assert.Error(t, err)

	_, err = New(&Config{Address: ":0"}, nil)
	assert.Error(t, err)
}

func TestRunAndShutdown(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	srv, err := New(DefaultConfig("127.0.0.1:0", handler), nil)
	require.NoError(t, err)

	hookRan := make(chan struct{})
	srv.OnShutdown(func(ctx context.Context) error {
		close(hookRan)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	require.Eventually(t, func() bool { return srv.Addr() != "127.0.0.1:0" }, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Get("http://" + srv.Addr())
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "ok", string(body))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
	<-hookRan
}

func TestRunListenFailure(t *testing.T) {
	srv, err := New(DefaultConfig("256.0.0.1:1", http.NotFoundHandler()), nil)
	require.NoError(t, err)
	assert.Error(t, srv.Run(context.Background()))
}

func TestShutdownHooksRunInOrder(t *testing.T) {
	srv, err := New(DefaultConfig("127.0.0.1:0", http.NotFoundHandler()), nil)
	require.NoError(t, err)

	var order []int
	for i := 0; i < 3; i++ {
		i := i
		srv.OnShutdown(func(ctx context.Context) error {
			order = append(order, i)
			if i == 1 {
				return context.DeadlineExceeded
			}
			return nil
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, srv.Run(ctx), "hook failures are logged, not returned")
	assert.Equal(t, []int{0, 1, 2}, order)
}
