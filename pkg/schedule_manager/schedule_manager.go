package schedulemanager

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/deckhouse/deckhouse/pkg/log"
	"github.com/robfig/cron/v3"

	smtypes "github.com/flant/news-operator/pkg/schedule_manager/types"
)

type ScheduleManager interface {
	Add(entry smtypes.ScheduleEntry)
	Remove(entry smtypes.ScheduleEntry)
	Start()
	Stop()
	Ch() chan string
	Next(crontab string) time.Time
}

type CronEntry struct {
	EntryID cron.EntryID
	Ids     map[string]bool
}

type scheduleManager struct {
	ctx        context.Context
	cancel     context.CancelFunc
	ScheduleCh chan string
	cron       *cron.Cron
	Entries    map[string]CronEntry
	mu         sync.Mutex

	logger *log.Logger
}

var _ ScheduleManager = (*scheduleManager)(nil)

// NewScheduleManager returns a manager that evaluates crontabs in UTC.
func NewScheduleManager(ctx context.Context, logger *log.Logger) *scheduleManager {
	cctx, cancel := context.WithCancel(ctx)
	sm := &scheduleManager{
		ctx:        cctx,
		cancel:     cancel,
		ScheduleCh: make(chan string, 1),
		cron:       cron.New(cron.WithLocation(time.UTC)),
		Entries:    make(map[string]CronEntry),
		logger:     logger.With(slog.String("operator.component", "scheduleManager")),
	}
	return sm
}

// Parse checks a standard 5-field crontab or a descriptor like @hourly.
func Parse(crontab string) (cron.Schedule, error) {
	return cron.ParseStandard(crontab)
}

// NextFireTimes returns n next fire times of crontab after the moment from, in UTC.
func NextFireTimes(crontab string, from time.Time, n int) ([]time.Time, error) {
	if n < 1 {
		return nil, fmt.Errorf("count of fire times should be positive, got %d", n)
	}
	sched, err := Parse(crontab)
	if err != nil {
		return nil, err
	}
	res := make([]time.Time, 0, n)
	cur := from.UTC()
	for i := 0; i < n; i++ {
		cur = sched.Next(cur)
		res = append(res, cur)
	}
	return res, nil
}

// Add create entry for crontab and id and start scheduled function.
// Crontab string should be validated with Parse function before pass to Add.
func (sm *scheduleManager) Add(newEntry smtypes.ScheduleEntry) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	cronEntry, hasCronEntry := sm.Entries[newEntry.Crontab]

	// If no entry, then add new scheduled function and save CronEntry.
	if !hasCronEntry {
		crontab := newEntry.Crontab
		entryId, err := sm.cron.AddFunc(crontab, func() {
			sm.logger.Debug("fire schedule event for entry", slog.String("name", crontab))
			select {
			case sm.ScheduleCh <- crontab:
			case <-sm.ctx.Done():
			}
		})
		if err != nil {
			sm.logger.Error("bad crontab, entry is not added", slog.String("name", crontab), log.Err(err))
			return
		}

		sm.logger.Debug("entry added", slog.String("name", crontab))

		sm.Entries[crontab] = CronEntry{
			EntryID: entryId,
			Ids: map[string]bool{
				newEntry.Id: true,
			},
		}
		return
	}

	// Just add id into CronEntry.Ids
	cronEntry.Ids[newEntry.Id] = true
}

func (sm *scheduleManager) Remove(delEntry smtypes.ScheduleEntry) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	cronEntry, hasCronEntry := sm.Entries[delEntry.Crontab]
	if !hasCronEntry {
		return
	}

	if _, hasId := cronEntry.Ids[delEntry.Id]; !hasId {
		return
	}

	delete(cronEntry.Ids, delEntry.Id)

	// if all ids are deleted, stop scheduled function
	if len(cronEntry.Ids) == 0 {
		sm.cron.Remove(cronEntry.EntryID)
		delete(sm.Entries, delEntry.Crontab)
		sm.logger.Debug("entry deleted", slog.String("name", delEntry.Crontab))
	}
}

// Next returns the next fire time of a registered crontab or zero time.
func (sm *scheduleManager) Next(crontab string) time.Time {
	sm.mu.Lock()
	cronEntry, has := sm.Entries[crontab]
	sm.mu.Unlock()
	if !has {
		return time.Time{}
	}
	entry := sm.cron.Entry(cronEntry.EntryID)
	// Next is filled by cron only after Start.
	if entry.Next.IsZero() && entry.Schedule != nil {
		return entry.Schedule.Next(time.Now().UTC())
	}
	return entry.Next
}

func (sm *scheduleManager) Start() {
	sm.cron.Start()
}

// Stop prevents new events and waits for running jobs to complete.
func (sm *scheduleManager) Stop() {
	sm.cancel()
	<-sm.cron.Stop().Done()
}

func (sm *scheduleManager) Ch() chan string {
	return sm.ScheduleCh
}
