package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusAdd(t *testing.T) {
	tests := []struct {
		name     string
		a, b     Status
		expected Status
	}{
		{"n/a is neutral", StatusNotApplicable, StatusUp, StatusUp},
		{"undef is neutral", StatusDown, StatusUndef, StatusDown},
		{"empty gives n/a", "", "", StatusNotApplicable},
		{"up and up", StatusUp, StatusUp, StatusUp},
		{"up and down", StatusUp, StatusDown, StatusWarn},
		{"warn wins", StatusWarn, StatusUp, StatusWarn},
		{"standby up with up", StatusStandbyUp, StatusUp, StatusUp},
		{"standby up with down", StatusDown, StatusStandbyUp, StatusStandbyUp},
		{"standby down with down", StatusStandbyDown, StatusDown, StatusStandbyDown},
		{"standby up with standby down", StatusStandbyUp, StatusStandbyDown, StatusWarn},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.a.Add(tt.b))
			assert.Equal(t, tt.expected, tt.b.Add(tt.a), "Add must be commutative")
		})
	}
}

func TestTriStateAdd(t *testing.T) {
	assert.Equal(t, TriTrue, TriNA.Add(TriTrue))
	assert.Equal(t, TriFalse, TriFalse.Add(TriFalse))
	assert.Equal(t, TriMixed, TriTrue.Add(TriFalse))
	assert.Equal(t, TriNA, TriState("").Add(""))
}

func TestResourceFlags(t *testing.T) {
	tests := []struct {
		name      string
		res       ResourceStatus
		running   bool
		remaining int
		expected  string
	}{
		{
			name:      "plain resource",
			res:       ResourceStatus{Provisioned: TriTrue},
			remaining: -1,
			expected:  "........",
		},
		{
			name:      "monitored optional with budget",
			res:       ResourceStatus{Monitor: true, Optional: true, Restart: 2, Provisioned: TriTrue},
			remaining: 2,
			expected:  ".M.O...2",
		},
		{
			name:      "running not provisioned standby",
			res:       ResourceStatus{Standby: true, Provisioned: TriFalse},
			running:   true,
			remaining: -1,
			expected:  "R....PS.",
		},
		{
			name:      "large budget",
			res:       ResourceStatus{Disabled: true, Encap: true, Restart: 20},
			remaining: 15,
			expected:  "..D.E..+",
		},
		{
			name:      "exhausted budget",
			res:       ResourceStatus{Restart: 3},
			remaining: 0,
			expected:  ".......0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flags := tt.res.Flags(tt.running, tt.remaining)
			assert.Len(t, flags, 8)
			assert.Equal(t, tt.expected, flags)
		})
	}
}

func TestInstanceStatusAggregate(t *testing.T) {
	st := &InstanceStatus{
		Resources: map[string]ResourceStatus{
			"fs#1":   {RID: "fs#1", Status: StatusUp, Provisioned: TriTrue},
			"app#1":  {RID: "app#1", Status: StatusUp, Provisioned: TriTrue},
			"app#2":  {RID: "app#2", Status: StatusDown, Optional: true, Provisioned: TriTrue},
			"ip#1":   {RID: "ip#1", Status: StatusDown, Disabled: true, Provisioned: TriFalse},
			"sync#1": {RID: "sync#1", Status: StatusUp, Provisioned: TriNA},
		},
	}

	st.Aggregate()

	assert.Equal(t, StatusUp, st.Avail)
	assert.Equal(t, StatusWarn, st.Optional)
	assert.Equal(t, StatusWarn, st.Overall)
	assert.Equal(t, TriTrue, st.Provisioned, "disabled resources do not count")
}

func TestInstanceStatusAggregateEmpty(t *testing.T) {
	st := &InstanceStatus{}
	st.Aggregate()
	assert.Equal(t, StatusNotApplicable, st.Avail)
	assert.Equal(t, TriNA, st.Provisioned)
}

func TestParseGlobalExpect(t *testing.T) {
	tests := []struct {
		input    string
		expected GlobalExpect
		target   string
		wantErr  bool
	}{
		{"started", ExpectStarted, "", false},
		{"placed@node2", ExpectPlacedAt, "node2", false},
		{"placed@", "", "", true},
		{"none", ExpectNone, "", false},
		{"bogus", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			ge, target, err := ParseGlobalExpect(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, ge)
			assert.Equal(t, tt.target, target)
		})
	}
}

func TestMonitorStatusPredicates(t *testing.T) {
	assert.True(t, MonStartFailed.IsFailed())
	assert.False(t, MonStarted.IsFailed())
	assert.True(t, MonStarting.IsDoing())
	assert.False(t, MonReady.IsDoing())
}

func TestFrozen(t *testing.T) {
	var nilStatus *InstanceStatus
	assert.False(t, nilStatus.IsFrozen())
	assert.True(t, (&InstanceStatus{Frozen: time.Now()}).IsFrozen())
	assert.True(t, (&NodeData{Frozen: time.Now()}).IsFrozen())
}
