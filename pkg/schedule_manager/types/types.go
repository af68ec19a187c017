package types

// ScheduleEntry binds a crontab to an owner id. Several owners may share
// one crontab: the cron job lives until the last owner is removed.
type ScheduleEntry struct {
	Crontab string
	Id      string
}
