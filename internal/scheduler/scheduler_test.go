package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sitesearch/core/pkg/sitemodel"
)

func tp(d time.Duration) *time.Time {
	t := time.Now().Add(d)
	return &t
}

func TestScheduleTaskFiresOnce(t *testing.T) {
	s := &Scheduler{}
	now := time.Now()

	cases := []struct {
		name string
		task sitemodel.ScheduleTask
		want bool
	}{
		{"due and never run", sitemodel.ScheduleTask{Variant: sitemodel.ScheduleOnce, OneTimeDate: tp(-time.Hour)}, true},
		{"due but already run", sitemodel.ScheduleTask{Variant: sitemodel.ScheduleOnce, OneTimeDate: tp(-time.Hour), LastRun: tp(-time.Minute)}, false},
		{"not yet due", sitemodel.ScheduleTask{Variant: sitemodel.ScheduleOnce, OneTimeDate: tp(time.Hour)}, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := s.scheduleTaskFires(c.task, sitemodel.CrawlPolicy{}, now)
			assert.Equal(t, c.want, got)
		})
	}
}

func TestScheduleTaskFiresInterval(t *testing.T) {
	s := &Scheduler{}
	now := time.Now()

	cases := []struct {
		name   string
		task   sitemodel.ScheduleTask
		policy sitemodel.CrawlPolicy
		want   bool
	}{
		{
			name: "no prior timestamps fires immediately",
			task: sitemodel.ScheduleTask{Variant: sitemodel.ScheduleInterval, IntervalSeconds: 3600},
			want: true,
		},
		{
			name:   "interval elapsed since last_executed",
			task:   sitemodel.ScheduleTask{Variant: sitemodel.ScheduleInterval, IntervalSeconds: 60},
			policy: sitemodel.CrawlPolicy{LastExecuted: tp(-2 * time.Minute)},
			want:   true,
		},
		{
			name:   "interval not yet elapsed",
			task:   sitemodel.ScheduleTask{Variant: sitemodel.ScheduleInterval, IntervalSeconds: 3600},
			policy: sitemodel.CrawlPolicy{LastExecuted: tp(-time.Minute)},
			want:   false,
		},
		{
			name: "last_run more recent than last_executed governs",
			task: sitemodel.ScheduleTask{Variant: sitemodel.ScheduleInterval, IntervalSeconds: 3600, LastRun: tp(-time.Minute)},
			policy: sitemodel.CrawlPolicy{LastExecuted: tp(-2 * time.Hour)},
			want: false,
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := s.scheduleTaskFires(c.task, c.policy, now)
			assert.Equal(t, c.want, got)
		})
	}
}

func TestScheduleTaskFiresCron(t *testing.T) {
	s := &Scheduler{}
	now := time.Now()

	assert.True(t, s.scheduleTaskFires(sitemodel.ScheduleTask{Variant: sitemodel.ScheduleCron, NextRun: tp(-time.Minute)}, sitemodel.CrawlPolicy{}, now))
	assert.False(t, s.scheduleTaskFires(sitemodel.ScheduleTask{Variant: sitemodel.ScheduleCron, NextRun: tp(time.Minute)}, sitemodel.CrawlPolicy{}, now))
	assert.False(t, s.scheduleTaskFires(sitemodel.ScheduleTask{Variant: sitemodel.ScheduleCron, NextRun: nil}, sitemodel.CrawlPolicy{}, now))
}

func TestLatestPicksMostRecentNonNil(t *testing.T) {
	a := tp(-time.Hour)
	b := tp(-time.Minute)

	require.Equal(t, b, latest(a, b))
	require.Equal(t, a, latest(a, nil))
	require.Equal(t, b, latest(nil, b))
	require.Nil(t, latest(nil, nil))
}
