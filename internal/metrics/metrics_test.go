package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPromRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	r, err := NewPromRecorder(reg)
	require.NoError(t, err)

	r.ProjectionOutcome("created", 3)
	r.ProjectionOutcome("created", 0)
	r.ProjectionOutcome("preserved", 1)
	r.ProjectionDuration(120 * time.Millisecond)
	r.AllocationShortfall("understaffed")
	r.AllocationShortfall("understaffed")
	r.Event("staff_sickness", "needs_attention")
	r.Archived(2)
	r.PaymentDiamonds("pending", 6)

	assert.Equal(t, 3.0, testutil.ToFloat64(r.instances.WithLabelValues("created")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.instances.WithLabelValues("preserved")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.shortfalls.WithLabelValues("understaffed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.events.WithLabelValues("staff_sickness", "needs_attention")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.archived))
	assert.Equal(t, 6.0, testutil.ToFloat64(r.diamonds.WithLabelValues("pending")))
	assert.Equal(t, 1, testutil.CollectAndCount(r.duration))
}

func TestNewPromRecorder_ReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewPromRecorder(reg)
	require.NoError(t, err)
	second, err := NewPromRecorder(reg)
	require.NoError(t, err)

	first.Archived(1)
	second.Archived(1)
	assert.Equal(t, 2.0, testutil.ToFloat64(second.archived))
}

func TestNopRecorder(t *testing.T) {
	var r Recorder = NopRecorder{}
	r.ProjectionOutcome("created", 1)
	r.ProjectionDuration(time.Second)
	r.AllocationShortfall("unvehicled")
	r.Event("cancel", "ok")
	r.Archived(1)
	r.PaymentDiamonds("billed", 1)
}
