package alerting

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func TestPushDispatcherSuccess(t *testing.T) {
	var received []map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "push/send") {
			t.Fatalf("路径应包含 push/send, 实际 %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("解析请求体失败: %v", err)
		}
		tickets := make([]map[string]any, len(received))
		for i := range tickets {
			tickets[i] = map[string]any{"status": "ok", "id": "receipt-1"}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"data": tickets})
	}))
	defer srv.Close()

	d := NewPushDispatcher(PushDispatcherOptions{BaseURL: srv.URL, Timeout: time.Second}, testLogger())
	results := d.Send(context.Background(), []PushMessage{
		{To: "token-a", Title: "t", Body: "b"},
		{To: "token-b", Title: "t", Body: "b"},
	})

	if len(results) != 2 {
		t.Fatalf("应返回与输入等长的结果, 实际 %d", len(results))
	}
	for i, res := range results {
		if !res.OK {
			t.Fatalf("消息 %d 应成功: %+v", i, res)
		}
		if res.ReceiptID == "" {
			t.Fatalf("消息 %d 应带 receipt id", i)
		}
	}
	if len(received) != 2 {
		t.Fatalf("服务端应收到 2 条消息, 实际 %d", len(received))
	}
}

func TestPushDispatcherPerMessageErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"data": []map[string]any{
			{"status": "ok", "id": "receipt-1"},
			{"status": "error", "message": "not registered", "details": map[string]string{"error": "DeviceNotRegistered"}},
			{"status": "ok", "id": "receipt-2"},
		}})
	}))
	defer srv.Close()

	d := NewPushDispatcher(PushDispatcherOptions{BaseURL: srv.URL, Timeout: time.Second}, testLogger())
	results := d.Send(context.Background(), []PushMessage{
		{To: "good-1"}, {To: "bad"}, {To: "good-2"},
	})

	if len(results) != 3 {
		t.Fatalf("应返回 3 条结果, 实际 %d", len(results))
	}
	if !results[0].OK || !results[2].OK {
		t.Fatal("一个坏目标不应影响其它消息")
	}
	if results[1].OK {
		t.Fatal("被拒绝的消息应标记失败")
	}
	if results[1].ErrCode != ErrCodeDeviceNotRegistered {
		t.Fatalf("错误类别不符: %s", results[1].ErrCode)
	}
}

func TestPushDispatcherChunking(t *testing.T) {
	var batches []int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var msgs []map[string]any
		_ = json.NewDecoder(r.Body).Decode(&msgs)
		batches = append(batches, len(msgs))
		tickets := make([]map[string]any, len(msgs))
		for i := range tickets {
			tickets[i] = map[string]any{"status": "ok", "id": "r"}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"data": tickets})
	}))
	defer srv.Close()

	d := NewPushDispatcher(PushDispatcherOptions{BaseURL: srv.URL, Timeout: time.Second, BatchSize: 2}, testLogger())
	msgs := make([]PushMessage, 5)
	for i := range msgs {
		msgs[i] = PushMessage{To: "token"}
	}

	results := d.Send(context.Background(), msgs)
	if len(results) != 5 {
		t.Fatalf("应返回 5 条结果, 实际 %d", len(results))
	}
	if len(batches) != 3 || batches[0] != 2 || batches[1] != 2 || batches[2] != 1 {
		t.Fatalf("分批不符: %v", batches)
	}
}

func TestPushDispatcherRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	d := NewPushDispatcher(PushDispatcherOptions{BaseURL: srv.URL, Timeout: time.Second}, testLogger())
	results := d.Send(context.Background(), []PushMessage{{To: "token"}})

	if results[0].OK {
		t.Fatal("限流应标记失败")
	}
	if results[0].ErrCode != ErrCodeRateLimited {
		t.Fatalf("错误类别不符: %s", results[0].ErrCode)
	}
}

func TestPushDispatcherTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	d := NewPushDispatcher(PushDispatcherOptions{BaseURL: srv.URL, Timeout: time.Second}, testLogger())
	results := d.Send(context.Background(), []PushMessage{{To: "a"}, {To: "b"}})

	for i, res := range results {
		if res.OK || res.ErrCode != ErrCodeTransport {
			t.Fatalf("消息 %d 应标记传输失败: %+v", i, res)
		}
	}
}
