// SPDX-License-Identifier: MIT

package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func TestAllow_ClassLimit(t *testing.T) {
	l := New(Config{
		GlobalRate:  1000,
		GlobalBurst: 1000,
		PerIPRate:   1000,
		PerIPBurst:  1000,
		ClassRates:  map[string]rate.Limit{"qobuz": 1},
		ClassBurst:  map[string]int{"qobuz": 2},
	})

	assert.True(t, l.Allow("", "qobuz"))
	assert.True(t, l.Allow("", "qobuz"))
	assert.False(t, l.Allow("", "qobuz"), "burst of 2 exhausted")

	// Unknown classes are not throttled by the class tier.
	assert.True(t, l.Allow("", "unclassified"))
}

func TestAllow_PerIPIsolation(t *testing.T) {
	l := New(Config{
		GlobalRate:  1000,
		GlobalBurst: 1000,
		PerIPRate:   1,
		PerIPBurst:  1,
	})

	assert.True(t, l.Allow("10.0.0.1", ""))
	assert.False(t, l.Allow("10.0.0.1", ""))
	assert.True(t, l.Allow("10.0.0.2", ""), "one client's exhaustion must not throttle another")
}

// Rejections are counted in the pmomusicd_ratelimit_exceeded_total
// counter, sliced by limit tier.
func TestAllow_RejectionMetric(t *testing.T) {
	l := New(Config{
		GlobalRate:  1000,
		GlobalBurst: 1000,
		PerIPRate:   1,
		PerIPBurst:  1,
	})

	before := counterValue(t, "pmomusicd_ratelimit_exceeded_total", "per_ip")
	require.True(t, l.Allow("10.0.0.9", ""))
	require.False(t, l.Allow("10.0.0.9", ""))
	after := counterValue(t, "pmomusicd_ratelimit_exceeded_total", "per_ip")

	assert.Equal(t, before+1, after)
}

// counterValue sums the named counter's samples whose limit_type label
// matches, via the default registry's gather path.
func counterValue(t *testing.T, name, limitType string) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)

	var total float64
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if labelValue(m, "limit_type") == limitType {
				total += m.GetCounter().GetValue()
			}
		}
	}
	return total
}

func labelValue(m *dto.Metric, key string) string {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == key {
			return lp.GetValue()
		}
	}
	return ""
}

func TestGetClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/api/renderers", nil)
	r.RemoteAddr = "192.0.2.7:52114"
	assert.Equal(t, "192.0.2.7", GetClientIP(r))

	r.Header.Set("X-Forwarded-For", "203.0.113.4, 10.0.0.1")
	assert.Equal(t, "203.0.113.4", GetClientIP(r))
}
