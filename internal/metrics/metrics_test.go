package metrics

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"/metrics", "/metrics"},
		{"/healthz", "/healthz"},
		{"/api/summary", "/api/summary"},
		{"/api/audit", "/api/audit"},
		{"/api/table", "/api/table"},

		// User routes carry snowflake ids
		{"/api/users/175928847299117063", "/api/users/:id"},
		{"/api/users/1", "/api/users/:id"},

		// Everything else collapses into one label
		{"/", "/other"},
		{"/wp-login.php", "/other"},
		{"/api/users", "/other"},
		{"/api/users/1/extra", "/other"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizePath(tt.input))
		})
	}
}

func TestCollect(t *testing.T) {
	t.Run("sets gauges from source", func(t *testing.T) {
		collect(context.Background(), func(context.Context) (Stats, error) {
			return Stats{TotalStrikes: 12, ActiveStrikes: 5, UsersWithStrikes: 3, UsersWithViolations: 2}, nil
		})

		assert.Equal(t, 12.0, testutil.ToFloat64(TotalStrikes))
		assert.Equal(t, 5.0, testutil.ToFloat64(ActiveStrikes))
		assert.Equal(t, 3.0, testutil.ToFloat64(UsersWithStrikes))
		assert.Equal(t, 2.0, testutil.ToFloat64(UsersWithViolations))
	})

	t.Run("negative values leave gauge untouched", func(t *testing.T) {
		ActiveStrikes.Set(7)
		collect(context.Background(), func(context.Context) (Stats, error) {
			return Stats{ActiveStrikes: -1}, nil
		})
		assert.Equal(t, 7.0, testutil.ToFloat64(ActiveStrikes))
	})

	t.Run("source error leaves gauges untouched", func(t *testing.T) {
		UsersWithStrikes.Set(4)
		collect(context.Background(), func(context.Context) (Stats, error) {
			return Stats{}, errors.New("database is locked")
		})
		assert.Equal(t, 4.0, testutil.ToFloat64(UsersWithStrikes))
	})

	t.Run("nil source is ignored", func(t *testing.T) {
		assert.NotPanics(t, func() { collect(context.Background(), nil) })
	})
}
