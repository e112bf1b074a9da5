package bot

import (
	"fmt"
	"strings"
	"time"

	"invitegate/entity"
	"invitegate/internal/linkgen"
	"invitegate/internal/maintenance"
	"invitegate/lib/clock"
)

func formatLinks(links []*entity.Link, now time.Time) string {
	if len(links) == 0 {
		return "No channels are available right now\\."
	}
	var sb strings.Builder
	sb.WriteString("*Your invite links*\n\n")
	for _, l := range links {
		sb.WriteString(fmt.Sprintf("*%s*\n%s\n", Sanitize(l.ChannelTitle), Sanitize(l.URL)))
		if l.Enforced {
			sb.WriteString(fmt.Sprintf("_expires in %s_\n\n", Sanitize(clock.Remaining(now, l.ExpiresAt))))
		} else {
			sb.WriteString("_public link_\n\n")
		}
	}
	sb.WriteString("Each link is personal and works for you only\\.")
	return sb.String()
}

func formatHistory(items []*entity.LinkHistoryItem) string {
	if len(items) == 0 {
		return "You have no links yet\\."
	}
	var sb strings.Builder
	sb.WriteString("*Link history*\n\n")
	for _, it := range items {
		state := "inactive"
		if it.Active {
			state = "active"
		}
		sb.WriteString(Sanitize(fmt.Sprintf("%s  %s  %d/%d  %s\n",
			it.CreatedAt.UTC().Format("2006-01-02 15:04"), it.ChannelTitle, it.CurrentUses, it.MaxUses, state)))
	}
	return sb.String()
}

func formatChannels(channels []*entity.Channel) string {
	if len(channels) == 0 {
		return "No channels registered\\. Add the bot to a channel as admin or use `/addchannel <chat_id>`\\."
	}
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("*Channels* \\(%d\\)\n\n", len(channels)))
	for _, ch := range channels {
		flags := []string{}
		if !ch.Active {
			flags = append(flags, "inactive")
		}
		if !ch.BotIsAdmin {
			flags = append(flags, "no invite rights")
		}
		line := fmt.Sprintf("%s  `%d`", Sanitize(ch.DisplayName()), ch.ChatId)
		if len(flags) > 0 {
			line += " \\- " + Sanitize(strings.Join(flags, ", "))
		}
		sb.WriteString(line + "\n")
	}
	return sb.String()
}

func formatSettings(s entity.Settings) string {
	return fmt.Sprintf("*Settings*\n\n"+
		"link ttl: `%d` h\n"+
		"max uses: `%d`\n"+
		"captcha: `%t`\n"+
		"cleanup interval: `%d` h\n"+
		"welcome: %s\n\n"+
		"Change with `/settings ttl|uses|captcha|cleanup|welcome <value>`",
		s.LinkTTLHours, s.MaxLinkUses, s.RequireCaptcha, s.CleanupIntervalHours, Sanitize(s.WelcomeMessage))
}

func formatStats(o entity.Overview, g linkgen.Stats, c entity.CleanupStats) string {
	var sb strings.Builder
	sb.WriteString("*Overview*\n")
	sb.WriteString(fmt.Sprintf("channels: `%d`\nusers: `%d` \\(banned `%d`\\)\nactive links: `%d`\nused today: `%d`\nfailed today: `%d`\n\n",
		o.ActiveChannels, o.TotalUsers, o.BannedUsers, o.ActiveLinks, o.LinksUsedToday, o.FailedToday))
	sb.WriteString("*Generator*\n")
	sb.WriteString(fmt.Sprintf("created: `%d`\nreused: `%d`\nfallback: `%d`\nfailed: `%d`\nrate limited: `%d`\n\n",
		g.Created, g.Reused, g.Fallback, g.Failed, g.RateLimited))
	sb.WriteString("*Cleanup*\n")
	sb.WriteString(fmt.Sprintf("expired active: `%d`\nused up: `%d`\nold usage records: `%d`\ninactive channels: `%d`\n",
		c.ExpiredActive, c.UsedUp, c.OldUsageRecords, c.InactiveChannel))
	for _, r := range c.Recommendations() {
		sb.WriteString("\\- " + Sanitize(r) + "\n")
	}
	return sb.String()
}

func formatReport(r maintenance.Report) string {
	title := "Cleanup finished"
	if r.Emergency {
		title = "Emergency cleanup finished"
	}
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("*%s* in %s\n\n", title, Sanitize(r.Took.Round(time.Millisecond).String())))
	if r.Emergency {
		sb.WriteString(fmt.Sprintf("deactivated: `%d`\n", r.Deactivated))
	} else {
		sb.WriteString(fmt.Sprintf("expired: `%d`\nremoved links: `%d`\nchannels: `%d`\ndaily stats: `%d`\nscratch files: `%d`\n",
			r.Reap.Deactivated, r.Reap.Deleted, r.Channels, r.DailyStats, r.ScratchFiles))
	}
	sb.WriteString(fmt.Sprintf("usage events: `%d`\n", r.UsageEvents))
	for _, e := range r.Errors {
		sb.WriteString("\\! " + Sanitize(e) + "\n")
	}
	return sb.String()
}

func formatBulk(r linkgen.BulkReport, running bool) string {
	state := "finished"
	switch {
	case running:
		state = "running"
	case r.Aborted:
		state = "aborted"
	}
	percent := 0
	if r.Total > 0 {
		percent = int(r.Processed * 100 / int64(r.Total))
	}
	return fmt.Sprintf("*Bulk job* `%s` %s\n\nprogress: `%d/%d` \\(%d%%\\)\ncreated: `%d`\nreused: `%d`\nfailed: `%d`",
		Sanitize(r.Id), state, r.Processed, r.Total, percent, r.Created, r.Reused, r.Failed)
}
