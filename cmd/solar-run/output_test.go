package main

import (
	"bytes"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/awaistahir/solar-run/internal/engine"
)

func TestRender(t *testing.T) {
	a := engine.Appliance{Name: "Dryer", PowerKW: 3, DurationHours: 1.5, Flexibility: 7, Priority: engine.PriorityMedium}
	table := func(w io.Writer) { fmt.Fprintf(w, "NAME\tPOWER\n%s\t%.1f\n", a.Name, a.PowerKW) }

	var buf bytes.Buffer
	require.NoError(t, render(&buf, formatJSON, a, table))
	assert.Contains(t, buf.String(), `"priority": "medium"`)

	buf.Reset()
	require.NoError(t, render(&buf, formatYAML, a, table))
	assert.Contains(t, buf.String(), "name: Dryer")
	assert.Contains(t, buf.String(), "power_kw: 3")

	buf.Reset()
	require.NoError(t, render(&buf, formatTable, a, table))
	assert.Equal(t, "NAME   POWER\nDryer  3.0\n", buf.String())
}

func TestValidFormat(t *testing.T) {
	for _, f := range []string{formatTable, formatJSON, formatYAML} {
		assert.NoError(t, validFormat(f))
	}
	assert.Error(t, validFormat("xml"))
}

func TestScheduleTable(t *testing.T) {
	var buf bytes.Buffer
	scheduleTable(&buf, engine.Schedule{})
	assert.Contains(t, buf.String(), "No appliances configured")
}
