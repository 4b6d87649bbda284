package metrics

import (
	"testing"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestNewCollectorsDefaultsBuckets(t *testing.T) {
	c := NewCollectors(nil)
	require.NotNil(t, c.OutboundLatency)
}

func TestMustRegisterSucceedsOnce(t *testing.T) {
	reg := prom.NewRegistry()
	c := NewCollectors(nil)
	require.NotPanics(t, func() { c.MustRegister(reg) })
}

func TestErrorsByCodeIncrementsPerCode(t *testing.T) {
	c := NewCollectors(nil)
	c.ErrorsByCode.WithLabelValues("PIT-404").Inc()
	c.ErrorsByCode.WithLabelValues("PIT-404").Inc()
	c.ErrorsByCode.WithLabelValues("PIT-500").Inc()

	require.Equal(t, float64(2), testutil.ToFloat64(c.ErrorsByCode.WithLabelValues("PIT-404")))
	require.Equal(t, float64(1), testutil.ToFloat64(c.ErrorsByCode.WithLabelValues("PIT-500")))
}
