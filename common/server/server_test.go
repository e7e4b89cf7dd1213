package server

import (
	"context"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/tufstash/common/logger"
)

func TestServeShutsDownOnContextCancel(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	s := New("test", 0, handler, logger.NewWithWriter(io.Discard, "info", "json"))

	shutdownHooked := make(chan struct{})
	s.RegisterOnShutdown(func() { close(shutdownHooked) })

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String())
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "ok", string(body))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
	<-shutdownHooked
}

func TestWithoutWriteTimeout(t *testing.T) {
	s := New("test", 8080, http.NotFoundHandler(), logger.NewWithWriter(io.Discard, "info", "json"), WithoutWriteTimeout())
	assert.Zero(t, s.httpServer.WriteTimeout)
	assert.Equal(t, ":8080", s.httpServer.Addr)
}
