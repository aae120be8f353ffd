package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestParseAppID(t *testing.T) {
	logger := zap.NewNop()

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.SetPathValue("appId", "550e8400-e29b-41d4-a716-446655440000")
	id, ok := ParseAppID(httptest.NewRecorder(), req, logger)
	assert.True(t, ok)
	assert.Equal(t, uuid.MustParse("550e8400-e29b-41d4-a716-446655440000"), id)

	req = httptest.NewRequest(http.MethodGet, "/test", nil)
	req.SetPathValue("appId", "not-a-uuid")
	rec := httptest.NewRecorder()
	id, ok = ParseAppID(rec, req, logger)
	assert.False(t, ok)
	assert.Equal(t, uuid.Nil, id)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestParsePagination(t *testing.T) {
	cfg := testMarketplaceCfg()

	tests := []struct {
		name       string
		query      string
		wantLimit  int
		wantOffset int
	}{
		{"defaults", "", 10, 0},
		{"explicit", "limit=25&offset=50", 25, 50},
		{"capped", "limit=9999", 100, 0},
		{"garbage ignored", "limit=abc&offset=-3", 10, 0},
		{"zero limit ignored", "limit=0", 10, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/test?"+tt.query, nil)
			limit, offset := ParsePagination(req, cfg)
			assert.Equal(t, tt.wantLimit, limit)
			assert.Equal(t, tt.wantOffset, offset)
		})
	}
}
