package fetcher

import (
	"context"
	"errors"
	"testing"

	"metalwatch/internal/domain"
)

func TestChainlinkMissingRPC(t *testing.T) {
	c := NewChainlink(ChainlinkOptions{}, noopLogger())
	_, err := c.Fetch(context.Background(), []domain.Asset{domain.AssetGold})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("未配置 RPC 应返回 ErrUnavailable, 实际 %v", err)
	}
}
