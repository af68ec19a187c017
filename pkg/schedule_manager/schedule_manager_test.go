package schedulemanager

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/deckhouse/deckhouse/pkg/log"
	. "github.com/onsi/gomega"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	smtypes "github.com/flant/news-operator/pkg/schedule_manager/types"
)

func newTestManager() *scheduleManager {
	return NewScheduleManager(context.Background(), log.NewNop())
}

func TestEntries_SharedCrontab(t *testing.T) {
	g := NewWithT(t)
	mgr := newTestManager()

	hourly := smtypes.ScheduleEntry{Crontab: "0 * * * *", Id: "get-news/hourly"}
	alias := smtypes.ScheduleEntry{Crontab: "0 * * * *", Id: "get-news/top-of-hour"}

	mgr.Add(hourly)
	mgr.Add(hourly)
	mgr.Add(alias)
	g.Expect(mgr.Entries).Should(HaveLen(1))
	g.Expect(mgr.Entries["0 * * * *"].Ids).Should(Equal(map[string]bool{hourly.Id: true, alias.Id: true}))

	// Unknown ids and crontabs are ignored.
	mgr.Remove(smtypes.ScheduleEntry{Crontab: "0 * * * *", Id: "other"})
	mgr.Remove(smtypes.ScheduleEntry{Crontab: "30 * * * *", Id: hourly.Id})
	g.Expect(mgr.Entries["0 * * * *"].Ids).Should(HaveLen(2))

	// Cron job stays while at least one id refers to the crontab.
	mgr.Remove(hourly)
	g.Expect(mgr.Entries["0 * * * *"].Ids).Should(HaveKey(alias.Id))
	g.Expect(mgr.Next("0 * * * *").IsZero()).Should(BeFalse())

	mgr.Remove(alias)
	g.Expect(mgr.Entries).Should(BeEmpty())
	g.Expect(mgr.Next("0 * * * *").IsZero()).Should(BeTrue())
}

func TestAdd_BadCrontabIsIgnored(t *testing.T) {
	mgr := newTestManager()

	for _, crontab := range []string{"", "not a crontab", "0 0 * * * *"} {
		mgr.Add(smtypes.ScheduleEntry{Crontab: crontab, Id: "get-news/bad"})
	}
	assert.Empty(t, mgr.Entries)
}

func TestScheduleFires(t *testing.T) {
	mgr := newTestManager()
	entry := smtypes.ScheduleEntry{Crontab: "@every 1s", Id: "get-news/fast"}
	mgr.Add(entry)
	mgr.Start()
	defer mgr.Stop()

	select {
	case v := <-mgr.Ch():
		assert.Equal(t, entry.Crontab, v)
	case <-time.After(3 * time.Second):
		t.Fatal("schedule did not fire in time")
	}
}

func TestStop_UnblocksPendingSend(t *testing.T) {
	mgr := newTestManager()
	mgr.Add(smtypes.ScheduleEntry{Crontab: "@every 0.2s", Id: "get-news/fast"})
	mgr.Start()

	// Nobody reads the channel: the buffered slot is filled and the next job blocks on send.
	time.Sleep(700 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		mgr.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop is blocked by a pending schedule event")
	}
}

func TestConcurrentAddRemove(_ *testing.T) {
	mgr := newTestManager()
	mgr.Start()
	defer mgr.Stop()

	var wg sync.WaitGroup
	for _, op := range []func(smtypes.ScheduleEntry){mgr.Add, mgr.Remove} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				op(smtypes.ScheduleEntry{Crontab: "@every 0.2s", Id: fmt.Sprintf("get-news/%d", i)})
			}
		}()
	}
	wg.Wait()
}

func TestNextFireTimes_Hourly(t *testing.T) {
	g := NewWithT(t)

	from := time.Date(2025, 3, 14, 10, 17, 42, 0, time.UTC)
	times, err := NextFireTimes("0 * * * *", from, 3)
	g.Expect(err).ShouldNot(HaveOccurred())
	g.Expect(times).Should(Equal([]time.Time{
		time.Date(2025, 3, 14, 11, 0, 0, 0, time.UTC),
		time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC),
		time.Date(2025, 3, 14, 13, 0, 0, 0, time.UTC),
	}))
}

func TestNextFireTimes_EvaluatedInUTC(t *testing.T) {
	g := NewWithT(t)

	// 10:30 in UTC+05:30 is 05:00 UTC.
	loc := time.FixedZone("IST", 5*3600+1800)
	from := time.Date(2025, 3, 14, 10, 30, 0, 0, loc)

	times, err := NextFireTimes("0 6 * * *", from, 1)
	g.Expect(err).ShouldNot(HaveOccurred())
	g.Expect(times[0]).Should(Equal(time.Date(2025, 3, 14, 6, 0, 0, 0, time.UTC)))
}

func TestNextFireTimes_Count(t *testing.T) {
	from := time.Date(2025, 3, 14, 10, 17, 42, 0, time.UTC)

	tests := []struct {
		name    string
		count   int
		wantLen int
		wantErr bool
	}{
		{"one", 1, 1, false},
		{"five", 5, 5, false},
		{"zero", 0, 0, true},
		{"negative", -1, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			times, err := NextFireTimes("0 * * * *", from, tt.count)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, times, tt.wantLen)
		})
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		crontab string
		wantErr bool
	}{
		{"0 * * * *", false},
		{"@hourly", false},
		{"*/15 9-17 * * 1-5", false},
		{"0 0 * * * *", true},
		{"61 * * * *", true},
		{"", true},
	}

	for _, tt := range tests {
		t.Run(tt.crontab, func(t *testing.T) {
			_, err := Parse(tt.crontab)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestNextForRegisteredEntry(t *testing.T) {
	mgr := newTestManager()
	mgr.Add(smtypes.ScheduleEntry{Crontab: "0 * * * *", Id: "hourly"})

	// Not started yet: computed from the schedule.
	assert.Equal(t, 0, mgr.Next("0 * * * *").Minute())
	assert.Equal(t, time.UTC, mgr.Next("0 * * * *").Location())

	mgr.Start()
	defer mgr.Stop()

	assert.Eventually(t, func() bool {
		return !mgr.Next("0 * * * *").IsZero()
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, mgr.Next("0 * * * *").Minute())
	assert.True(t, mgr.Next("1 * * * *").IsZero())
}
