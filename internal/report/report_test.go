package report

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ocpp_cp_harness/internal/store"
)

var started = time.Date(2026, 10, 15, 8, 0, 0, 0, time.UTC)

func TestReportVerdict(t *testing.T) {
	r := New("config-validator", "CP-1", started)
	assert.False(t, r.Passed(), "empty report must not pass")
	assert.Equal(t, 1, r.ExitCode())

	r.Add(Result{Name: "Get all configuration", Status: StatusPass})
	assert.True(t, r.Passed())
	assert.Equal(t, 0, r.ExitCode())

	r.Add(Result{Name: "Change configuration", Status: StatusDefect, Kind: "harness-defect"})
	assert.False(t, r.Passed())
	assert.Equal(t, 1, r.ExitCode())
	assert.Equal(t, 1, r.Count(StatusDefect))
}

func TestReportAbortedNeverPasses(t *testing.T) {
	r := New("config-validator", "CP-1", started)
	r.Add(Result{Name: "Get all configuration", Status: StatusPass})
	r.Aborted = "connection lost"
	assert.False(t, r.Passed())
}

func TestRender(t *testing.T) {
	r := New("meter-simulator", "CP-1", started)
	r.Add(Result{Name: "Boot notification", Status: StatusPass, Duration: 12 * time.Millisecond})
	r.Add(Result{Name: "High power alert", Status: StatusFail, Kind: "timeout", Detail: strings.Repeat("x", 400)})

	var buf bytes.Buffer
	r.Render(&buf)
	out := buf.String()
	assert.Contains(t, out, "Boot notification")
	assert.Contains(t, out, "PASS")
	assert.Contains(t, out, "FAIL")
	assert.Contains(t, strings.ToLower(out), "1/2 passed")
	assert.Contains(t, out, "Some scenarios failed!")
	assert.NotContains(t, out, strings.Repeat("x", 200))
}

func TestHistory(t *testing.T) {
	s, err := store.OpenInMemory()
	require.NoError(t, err)
	defer s.Close()
	h := NewHistory(s)

	first := New("config-validator", "CP-1", started)
	first.Add(Result{Name: "a", Status: StatusFail})
	second := New("config-validator", "CP-1", started.Add(time.Hour))
	second.Add(Result{Name: "a", Status: StatusPass})
	other := New("meter-simulator", "CP-1", started)
	other.Add(Result{Name: "b", Status: StatusPass})

	for _, r := range []*Report{second, first, other} {
		require.NoError(t, h.Save(r))
	}

	runs, err := h.List("config-validator", "CP-1")
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.False(t, runs[0].Passed())
	assert.True(t, runs[1].Passed())

	var buf bytes.Buffer
	RenderHistory(&buf, runs)
	assert.Contains(t, buf.String(), "2026-10-15T08:00:00Z")
}
