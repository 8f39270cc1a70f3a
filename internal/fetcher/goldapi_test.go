package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"metalwatch/internal/domain"
)

func TestGoldAPIMissingToken(t *testing.T) {
	g := NewGoldAPI(GoldAPIOptions{}, noopLogger())
	_, err := g.Fetch(context.Background(), []domain.Asset{domain.AssetGold})
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("缺少 token 应返回 ErrUnauthorized, 实际 %v", err)
	}
}

func TestGoldAPIPartialSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-access-token") != "token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch {
		case strings.Contains(r.URL.Path, "XAU"):
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]any{
				"price":            2650.50,
				"prev_close_price": 2640.00,
				"ch":               10.50,
				"chp":              0.40,
			})
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	g := NewGoldAPI(GoldAPIOptions{BaseURL: srv.URL, AccessToken: "token", Timeout: time.Second}, noopLogger())
	quote, err := g.Fetch(context.Background(), []domain.Asset{domain.AssetGold, domain.AssetSilver})
	if err != nil {
		t.Fatalf("部分成功不应报错: %v", err)
	}

	if quote.Prices[domain.AssetGold].Cmp(decimal.NewFromFloat(2650.50)) != 0 {
		t.Fatalf("gold 价格不符: %s", quote.Prices[domain.AssetGold])
	}
	if _, ok := quote.Prices[domain.AssetSilver]; ok {
		t.Fatal("silver 请求失败, 不应出现在结果中")
	}

	change, ok := quote.Changes[domain.AssetGold]
	if !ok {
		t.Fatal("应返回原生涨跌数据")
	}
	if change.Amount.Cmp(decimal.NewFromFloat(10.50)) != 0 {
		t.Fatalf("change amount 不符: %s", change.Amount)
	}
	if change.PrevClose.Cmp(decimal.NewFromFloat(2640.00)) != 0 {
		t.Fatalf("prev close 不符: %s", change.PrevClose)
	}
}

func TestGoldAPIAllFailed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	g := NewGoldAPI(GoldAPIOptions{BaseURL: srv.URL, AccessToken: "token", Timeout: time.Second}, noopLogger())
	_, err := g.Fetch(context.Background(), []domain.Asset{domain.AssetGold})
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("全部失败应返回首个错误, 实际 %v", err)
	}
}

func TestGoldAPINonPositivePrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"price": 0})
	}))
	defer srv.Close()

	g := NewGoldAPI(GoldAPIOptions{BaseURL: srv.URL, AccessToken: "token", Timeout: time.Second}, noopLogger())
	_, err := g.Fetch(context.Background(), []domain.Asset{domain.AssetGold})
	if !errors.Is(err, ErrMalformedResponse) {
		t.Fatalf("零价格应返回 ErrMalformedResponse, 实际 %v", err)
	}
}
