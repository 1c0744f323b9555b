package probe_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/dividash/modelops/internal/probe"
)

func TestHealthProbe_Healthy(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"healthy"}`))
	}))
	defer server.Close()

	p := probe.New(probe.Config{URL: server.URL + "/health", Logger: zerolog.Nop()})

	assert.NoError(t, p.Check(context.Background()))
}

func TestHealthProbe_NonSuccessStatusIsUnhealthy(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	p := probe.New(probe.Config{URL: server.URL + "/health", Logger: zerolog.Nop()})

	assert.Error(t, p.Check(context.Background()))
}

func TestHealthProbe_TimeoutIsUnhealthy(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	p := probe.New(probe.Config{
		URL:     server.URL + "/health",
		Timeout: 20 * time.Millisecond,
		Logger:  zerolog.Nop(),
	})

	assert.Error(t, p.Check(context.Background()))
}

func TestHealthProbe_UnreachableIsUnhealthy(t *testing.T) {
	p := probe.New(probe.Config{
		URL:     "http://127.0.0.1:1/health",
		Timeout: 100 * time.Millisecond,
		Logger:  zerolog.Nop(),
	})

	assert.Error(t, p.Check(context.Background()))
}
