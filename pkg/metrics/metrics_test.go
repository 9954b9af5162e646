package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegister(t *testing.T) {
	r := prometheus.NewRegistry()
	Register(r)
	Register(r)
	assert.Same(t, r, GetRegisterer())

	ConnectedSessions.Set(3)
	LinesTotal.WithLabelValues(LineDirective).Inc()
	DeliveriesTotal.WithLabelValues(DeliveryRelay, ResultOK).Add(2)

	assert.Equal(t, float64(3), testutil.ToFloat64(ConnectedSessions))
	assert.Equal(t, float64(2), testutil.ToFloat64(DeliveriesTotal.WithLabelValues(DeliveryRelay, ResultOK)))

	families, err := r.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "linechat_connected_sessions")
	assert.Contains(t, names, "linechat_lines_total")
}
