package main

import (
	"io"
	"net"
	"net/http"
	"os"
	"syscall"
	"testing"
	"time"

	"go.uber.org/zap"
)

// TestServeShutdownWaitsForInFlightDetection drives the serve-mode shutdown
// path: a detection request that is still running when SIGTERM arrives must
// complete with its full response before the server exits, and the listener
// must stop accepting new connections afterwards.
func TestServeShutdownWaitsForInFlightDetection(t *testing.T) {
	logger := zap.NewNop()

	detectionStarted := make(chan struct{})
	finishDetection := make(chan struct{})
	defer func() {
		select {
		case <-finishDetection:
		default:
			close(finishDetection)
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	mux.HandleFunc("/detect", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-detectionStarted:
		default:
			close(detectionStarted)
		}
		<-finishDetection
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"label_count":2}`))
	})

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to create listener: %v", err)
	}
	server := &http.Server{Handler: mux}

	signalCh := make(chan os.Signal, 1)
	serverDone := make(chan error, 1)
	go func() {
		serverDone <- serveHTTPServerWithOptions(server, 2*time.Second, logger, listener, signalCh)
	}()

	addr := listener.Addr().String()
	waitForServer(t, addr)

	client := &http.Client{Timeout: 2 * time.Second}

	// The server answers routine traffic before any signal arrives.
	health, err := client.Get("http://" + addr + "/health")
	if err != nil {
		t.Fatalf("health check failed: %v", err)
	}
	health.Body.Close()
	if health.StatusCode != http.StatusOK {
		t.Fatalf("unexpected health status: %d", health.StatusCode)
	}

	respCh := make(chan *http.Response, 1)
	reqErrCh := make(chan error, 1)
	go func() {
		resp, err := client.Get("http://" + addr + "/detect")
		if err != nil {
			reqErrCh <- err
			return
		}
		respCh <- resp
	}()

	select {
	case <-detectionStarted:
	case <-time.After(2 * time.Second):
		t.Fatal("detection request did not start in time")
	}

	signalCh <- syscall.SIGTERM

	time.Sleep(50 * time.Millisecond)
	close(finishDetection)

	select {
	case resp := <-respCh:
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			t.Fatalf("failed to read response body: %v", err)
		}
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("unexpected status: %d body: %s", resp.StatusCode, string(body))
		}
		if string(body) != `{"label_count":2}` {
			t.Fatalf("in-flight response truncated by shutdown: %q", string(body))
		}
	case err := <-reqErrCh:
		t.Fatalf("in-flight request failed: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("in-flight request did not complete")
	}

	select {
	case err := <-serverDone:
		if err != nil {
			t.Fatalf("server did not shutdown cleanly: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server did not exit after shutdown")
	}

	// The listener is closed once shutdown completes.
	if _, err := client.Get("http://" + addr + "/health"); err == nil {
		t.Fatal("expected requests after shutdown to fail")
	}
}

func waitForServer(t *testing.T, addr string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, 50*time.Millisecond)
		if err == nil {
			conn.Close()
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("server %s did not become ready", addr)
}
