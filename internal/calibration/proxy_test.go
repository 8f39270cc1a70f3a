package calibration

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

func TestProxyClientSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "PAXG-USD") {
			t.Fatalf("路径应包含 PAXG-USD, 实际 %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]string{"amount": "2681.25", "base": "PAXG", "currency": "USD"},
		})
	}))
	defer srv.Close()

	p := NewProxyClient(ProxyOptions{BaseURL: srv.URL, Timeout: time.Second}, zerolog.Nop())
	price, err := p.FetchProxyQuote(context.Background(), "PAXG")
	if err != nil {
		t.Fatalf("成功响应不应报错: %v", err)
	}
	if price.Cmp(decimal.NewFromFloat(2681.25)) != 0 {
		t.Fatalf("期望 2681.25, 实际 %s", price)
	}
}

func TestProxyClientHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	p := NewProxyClient(ProxyOptions{BaseURL: srv.URL, Timeout: time.Second}, zerolog.Nop())
	if _, err := p.FetchProxyQuote(context.Background(), "PAXG"); err == nil {
		t.Fatal("HTTP 502 应返回错误")
	}
}

func TestProxyClientMissingInstrument(t *testing.T) {
	p := NewProxyClient(ProxyOptions{}, zerolog.Nop())
	if _, err := p.FetchProxyQuote(context.Background(), ""); err == nil {
		t.Fatal("缺少 instrument 应返回错误")
	}
}
