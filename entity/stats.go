package entity

// DailyChannelStat holds derived per-day counters for one channel.
// Day is a UTC calendar date formatted as 2006-01-02.
type DailyChannelStat struct {
	ChannelId      int64  `json:"channel_id" bson:"channel_id"`
	Day            string `json:"day" bson:"day"`
	LinksGenerated int64  `json:"links_generated" bson:"links_generated"`
	LinksUsed      int64  `json:"links_used" bson:"links_used"`
	UniqueUsers    int64  `json:"unique_users" bson:"unique_users"`
}

// Overview is the system-wide summary shown to admins.
type Overview struct {
	ActiveChannels int64 `json:"active_channels"`
	TotalUsers     int64 `json:"total_users"`
	BannedUsers    int64 `json:"banned_users"`
	ActiveLinks    int64 `json:"active_links"`
	LinksUsedToday int64 `json:"links_used_today"`
	FailedToday    int64 `json:"failed_today"`
}

// ChannelPerformance summarises a channel's stats over a period.
type ChannelPerformance struct {
	ChannelId   int64   `json:"channel_id"`
	Title       string  `json:"title"`
	Days        int     `json:"days"`
	Generated   int64   `json:"generated"`
	Used        int64   `json:"used"`
	UniqueUsers int64   `json:"unique_users"`
	UsageRate   float64 `json:"usage_rate"`
}

// CleanupStats describes how much reclaimable state the store holds.
type CleanupStats struct {
	ExpiredActive   int64 `json:"expired_active"`
	UsedUp          int64 `json:"used_up"`
	OldUsageRecords int64 `json:"old_usage_records"`
	InactiveChannel int64 `json:"inactive_channels"`
}

// Recommendations turns cleanup counters into admin hints.
func (c CleanupStats) Recommendations() []string {
	var r []string
	if c.ExpiredActive > 100 {
		r = append(r, "many expired links are still flagged active, run cleanup")
	}
	if c.UsedUp > 500 {
		r = append(r, "many used-up links are retained")
	}
	if c.OldUsageRecords > 1000 {
		r = append(r, "usage history is large, run cleanup")
	}
	if c.InactiveChannel > 10 {
		r = append(r, "many inactive channels, check bot membership")
	}
	if len(r) == 0 {
		r = append(r, "no action needed")
	}
	return r
}
