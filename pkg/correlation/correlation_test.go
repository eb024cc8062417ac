// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-pqckeys.
//
// go-pqckeys is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package correlation

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithAndGetCorrelationID(t *testing.T) {
	ctx := WithCorrelationID(context.Background(), "abc")
	assert.Equal(t, "abc", GetCorrelationID(ctx))
	assert.Empty(t, GetCorrelationID(context.Background()))
	//nolint:staticcheck // nil context is handled explicitly
	assert.Empty(t, GetCorrelationID(nil))
	//nolint:staticcheck
	assert.Equal(t, "x", GetCorrelationID(WithCorrelationID(nil, "x")))
}

func TestNewID(t *testing.T) {
	id := NewID()
	_, err := uuid.Parse(id)
	require.NoError(t, err)
	assert.NotEqual(t, id, NewID())
}

func TestEnsure(t *testing.T) {
	ctx := Ensure(context.Background())
	id := GetCorrelationID(ctx)
	require.NotEmpty(t, id)
	assert.Equal(t, id, GetCorrelationID(Ensure(ctx)))
}

func TestMiddleware(t *testing.T) {
	tests := []struct {
		name   string
		header string
		value  string
	}{
		{"correlation header", CorrelationIDHeader, "corr-1"},
		{"request header", RequestIDHeader, "req-1"},
		{"generated", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen string
			h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = GetCorrelationID(r.Context())
			}))
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			require.NotEmpty(t, seen)
			assert.Equal(t, seen, rec.Header().Get(CorrelationIDHeader))
			if tt.value != "" {
				assert.Equal(t, tt.value, seen)
			}
		})
	}
}
