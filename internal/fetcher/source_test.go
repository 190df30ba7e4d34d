package fetcher

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

func TestFetchSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("期望 GET 请求, 实际 %s", r.Method)
		}
		if ua := r.Header.Get("User-Agent"); ua != "test" {
			t.Errorf("User-Agent 不正确: %q", ua)
		}
		_, _ = w.Write([]byte("GOLD\t58,400.00\n"))
	}))
	defer srv.Close()

	src := NewHTTPSource(SourceOptions{ConnectTimeout: time.Second, ReadTimeout: time.Second, UserAgent: "test"}, noopLogger())
	body, err := src.Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("成功响应不应报错: %v", err)
	}
	if string(body) != "GOLD\t58,400.00\n" {
		t.Fatalf("响应体不正确: %q", body)
	}
}

func TestFetchNonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	src := NewHTTPSource(SourceOptions{}, noopLogger())
	_, err := src.Fetch(context.Background(), srv.URL)
	if !IsKind(err, KindNonSuccessStatus) {
		t.Fatalf("HTTP 503 应返回 non_success_status, 实际 %v", err)
	}
	fe := err.(*FetchError)
	if fe.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("状态码应为 503, 实际 %d", fe.StatusCode)
	}
}

func TestFetchReadTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	src := NewHTTPSource(SourceOptions{ConnectTimeout: 50 * time.Millisecond, ReadTimeout: 50 * time.Millisecond}, noopLogger())
	start := time.Now()
	_, err := src.Fetch(context.Background(), srv.URL)
	if !IsKind(err, KindTimeout) {
		t.Fatalf("应返回超时错误, 实际 %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("超时未生效, 耗时 %s", elapsed)
	}
}

func TestFetchConnectionRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	src := NewHTTPSource(SourceOptions{ConnectTimeout: time.Second, ReadTimeout: time.Second}, noopLogger())
	_, err = src.Fetch(context.Background(), "http://"+addr)
	if !IsKind(err, KindConnectionRefused) {
		t.Fatalf("应返回连接拒绝错误, 实际 %v", err)
	}
}

func TestFetchMissingURL(t *testing.T) {
	src := NewHTTPSource(SourceOptions{}, noopLogger())
	if _, err := src.Fetch(context.Background(), " "); !IsKind(err, KindTransport) {
		t.Fatalf("未配置 URL 时应报错, 实际 %v", err)
	}
}
