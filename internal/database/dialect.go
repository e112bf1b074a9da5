package database

import (
	"errors"

	"github.com/go-sql-driver/mysql"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const (
	driverSQLite = "sqlite"
	driverMySQL  = "mysql"
)

// dialect holds the statements that differ between backends.
// Everything else is plain SQL shared by both.
type dialect struct {
	name   string
	schema []string
	// appended to SELECTs that must lock the rows they read
	lockSuffix string

	upsertUser       string
	upsertUserBanned string
	upsertChannel    string
	bumpGenerated    string
	bumpUsed         string
	putDailyStat     string
	putSetting       string

	compact []string
	vacuum  []string

	isTransient func(error) bool
	isUnique    func(error) bool
}

var sqliteDialect = dialect{
	name: driverSQLite,
	schema: []string{
		`CREATE TABLE IF NOT EXISTS channels (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			chat_id      INTEGER NOT NULL UNIQUE,
			title        TEXT    NOT NULL DEFAULT '',
			username     TEXT    NOT NULL DEFAULT '',
			invite_link  TEXT    NOT NULL DEFAULT '',
			active       INTEGER NOT NULL DEFAULT 1,
			bot_is_admin INTEGER NOT NULL DEFAULT 0,
			added_at     INTEGER NOT NULL,
			updated_at   INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS users (
			user_id        INTEGER PRIMARY KEY,
			username       TEXT    NOT NULL DEFAULT '',
			full_name      TEXT    NOT NULL DEFAULT '',
			banned         INTEGER NOT NULL DEFAULT 0,
			captcha_passed INTEGER NOT NULL DEFAULT 0,
			first_seen     INTEGER NOT NULL,
			last_activity  INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS credentials (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id      INTEGER NOT NULL REFERENCES users(user_id),
			channel_id   INTEGER NOT NULL REFERENCES channels(id),
			invite_link  TEXT    NOT NULL,
			token        TEXT    NOT NULL UNIQUE,
			expires_at   INTEGER NOT NULL,
			max_uses     INTEGER NOT NULL,
			current_uses INTEGER NOT NULL DEFAULT 0,
			active       INTEGER NOT NULL DEFAULT 1,
			created_at   INTEGER NOT NULL,
			used_at      INTEGER NOT NULL DEFAULT 0,
			CHECK (current_uses <= max_uses)
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_credentials_active_pair
			ON credentials(user_id, channel_id) WHERE active = 1`,
		`CREATE INDEX IF NOT EXISTS idx_credentials_expiry ON credentials(active, expires_at)`,
		`CREATE INDEX IF NOT EXISTS idx_credentials_created ON credentials(channel_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_credentials_link ON credentials(invite_link)`,
		`CREATE TABLE IF NOT EXISTS usage_events (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			credential_id INTEGER,
			channel_id    INTEGER,
			user_id       INTEGER NOT NULL,
			success       INTEGER NOT NULL,
			error         TEXT    NOT NULL DEFAULT '',
			created_at    INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_usage_created ON usage_events(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_usage_channel ON usage_events(channel_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS daily_channel_stats (
			channel_id      INTEGER NOT NULL REFERENCES channels(id),
			day             TEXT    NOT NULL,
			links_generated INTEGER NOT NULL DEFAULT 0,
			links_used      INTEGER NOT NULL DEFAULT 0,
			unique_users    INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (channel_id, day)
		)`,
		`CREATE TABLE IF NOT EXISTS settings (
			setting_key   TEXT PRIMARY KEY,
			setting_value TEXT NOT NULL,
			updated_at    INTEGER NOT NULL
		)`,
	},
	upsertUser: `INSERT INTO users (user_id, username, full_name, first_seen, last_activity)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			username = excluded.username,
			full_name = excluded.full_name,
			last_activity = excluded.last_activity`,
	upsertUserBanned: `INSERT INTO users (user_id, banned, first_seen, last_activity)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET banned = excluded.banned`,
	upsertChannel: `INSERT INTO channels (chat_id, title, username, invite_link, active, bot_is_admin, added_at, updated_at)
		VALUES (?, ?, ?, ?, 1, ?, ?, ?)
		ON CONFLICT(chat_id) DO UPDATE SET
			title = excluded.title,
			username = excluded.username,
			invite_link = CASE WHEN excluded.invite_link = '' THEN channels.invite_link ELSE excluded.invite_link END,
			active = 1,
			bot_is_admin = excluded.bot_is_admin,
			updated_at = excluded.updated_at`,
	bumpGenerated: `INSERT INTO daily_channel_stats (channel_id, day, links_generated) VALUES (?, ?, 1)
		ON CONFLICT(channel_id, day) DO UPDATE SET links_generated = links_generated + 1`,
	bumpUsed: `INSERT INTO daily_channel_stats (channel_id, day, links_used) VALUES (?, ?, 1)
		ON CONFLICT(channel_id, day) DO UPDATE SET links_used = links_used + 1`,
	putDailyStat: `INSERT INTO daily_channel_stats (channel_id, day, links_generated, links_used, unique_users)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(channel_id, day) DO UPDATE SET
			links_generated = excluded.links_generated,
			links_used = excluded.links_used,
			unique_users = excluded.unique_users`,
	putSetting: `INSERT INTO settings (setting_key, setting_value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(setting_key) DO UPDATE SET
			setting_value = excluded.setting_value,
			updated_at = excluded.updated_at`,
	compact: []string{"PRAGMA optimize"},
	vacuum:  []string{"VACUUM"},
	isTransient: func(err error) bool {
		var e *sqlite.Error
		if !errors.As(err, &e) {
			return false
		}
		code := e.Code() & 0xff
		return code == sqlite3.SQLITE_BUSY || code == sqlite3.SQLITE_LOCKED
	},
	isUnique: func(err error) bool {
		var e *sqlite.Error
		if !errors.As(err, &e) {
			return false
		}
		return e.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE || e.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	},
}

// MySQL has no partial indexes; active_pair is NULL for inactive rows and
// NULLs never collide in a UNIQUE key.
var mysqlDialect = dialect{
	name: driverMySQL,
	schema: []string{
		`CREATE TABLE IF NOT EXISTS channels (
			id           BIGINT       NOT NULL AUTO_INCREMENT,
			chat_id      BIGINT       NOT NULL,
			title        VARCHAR(255) NOT NULL DEFAULT '',
			username     VARCHAR(64)  NOT NULL DEFAULT '',
			invite_link  VARCHAR(255) NOT NULL DEFAULT '',
			active       TINYINT(1)   NOT NULL DEFAULT 1,
			bot_is_admin TINYINT(1)   NOT NULL DEFAULT 0,
			added_at     BIGINT       NOT NULL,
			updated_at   BIGINT       NOT NULL,
			PRIMARY KEY (id),
			UNIQUE KEY uq_channels_chat (chat_id)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		`CREATE TABLE IF NOT EXISTS users (
			user_id        BIGINT       NOT NULL,
			username       VARCHAR(64)  NOT NULL DEFAULT '',
			full_name      VARCHAR(255) NOT NULL DEFAULT '',
			banned         TINYINT(1)   NOT NULL DEFAULT 0,
			captcha_passed TINYINT(1)   NOT NULL DEFAULT 0,
			first_seen     BIGINT       NOT NULL,
			last_activity  BIGINT       NOT NULL,
			PRIMARY KEY (user_id)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		`CREATE TABLE IF NOT EXISTS credentials (
			id           BIGINT       NOT NULL AUTO_INCREMENT,
			user_id      BIGINT       NOT NULL,
			channel_id   BIGINT       NOT NULL,
			invite_link  VARCHAR(255) NOT NULL,
			token        VARCHAR(64)  NOT NULL,
			expires_at   BIGINT       NOT NULL,
			max_uses     INT          NOT NULL,
			current_uses INT          NOT NULL DEFAULT 0,
			active       TINYINT(1)   NOT NULL DEFAULT 1,
			created_at   BIGINT       NOT NULL,
			used_at      BIGINT       NOT NULL DEFAULT 0,
			active_pair  VARCHAR(48) AS (CASE WHEN active = 1 THEN CONCAT(user_id, ':', channel_id) END) STORED,
			PRIMARY KEY (id),
			UNIQUE KEY uq_credentials_token (token),
			UNIQUE KEY uq_credentials_active_pair (active_pair),
			KEY idx_credentials_pair (user_id, channel_id),
			KEY idx_credentials_expiry (active, expires_at),
			KEY idx_credentials_created (channel_id, created_at),
			KEY idx_credentials_link (invite_link),
			CONSTRAINT fk_credentials_user FOREIGN KEY (user_id) REFERENCES users (user_id),
			CONSTRAINT fk_credentials_channel FOREIGN KEY (channel_id) REFERENCES channels (id)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		`CREATE TABLE IF NOT EXISTS usage_events (
			id            BIGINT       NOT NULL AUTO_INCREMENT,
			credential_id BIGINT       NULL,
			channel_id    BIGINT       NULL,
			user_id       BIGINT       NOT NULL,
			success       TINYINT(1)   NOT NULL,
			error         VARCHAR(64)  NOT NULL DEFAULT '',
			created_at    BIGINT       NOT NULL,
			PRIMARY KEY (id),
			KEY idx_usage_created (created_at),
			KEY idx_usage_channel (channel_id, created_at)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		`CREATE TABLE IF NOT EXISTS daily_channel_stats (
			channel_id      BIGINT     NOT NULL,
			day             VARCHAR(10) NOT NULL,
			links_generated BIGINT     NOT NULL DEFAULT 0,
			links_used      BIGINT     NOT NULL DEFAULT 0,
			unique_users    BIGINT     NOT NULL DEFAULT 0,
			PRIMARY KEY (channel_id, day),
			CONSTRAINT fk_stats_channel FOREIGN KEY (channel_id) REFERENCES channels (id)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		`CREATE TABLE IF NOT EXISTS settings (
			setting_key   VARCHAR(64) NOT NULL,
			setting_value TEXT        NOT NULL,
			updated_at    BIGINT      NOT NULL,
			PRIMARY KEY (setting_key)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	},
	lockSuffix: " FOR UPDATE",
	upsertUser: `INSERT INTO users (user_id, username, full_name, first_seen, last_activity)
		VALUES (?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			username = VALUES(username),
			full_name = VALUES(full_name),
			last_activity = VALUES(last_activity)`,
	upsertUserBanned: `INSERT INTO users (user_id, banned, first_seen, last_activity)
		VALUES (?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE banned = VALUES(banned)`,
	upsertChannel: `INSERT INTO channels (chat_id, title, username, invite_link, active, bot_is_admin, added_at, updated_at)
		VALUES (?, ?, ?, ?, 1, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			title = VALUES(title),
			username = VALUES(username),
			invite_link = IF(VALUES(invite_link) = '', invite_link, VALUES(invite_link)),
			active = 1,
			bot_is_admin = VALUES(bot_is_admin),
			updated_at = VALUES(updated_at)`,
	bumpGenerated: `INSERT INTO daily_channel_stats (channel_id, day, links_generated) VALUES (?, ?, 1)
		ON DUPLICATE KEY UPDATE links_generated = links_generated + 1`,
	bumpUsed: `INSERT INTO daily_channel_stats (channel_id, day, links_used) VALUES (?, ?, 1)
		ON DUPLICATE KEY UPDATE links_used = links_used + 1`,
	putDailyStat: `INSERT INTO daily_channel_stats (channel_id, day, links_generated, links_used, unique_users)
		VALUES (?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			links_generated = VALUES(links_generated),
			links_used = VALUES(links_used),
			unique_users = VALUES(unique_users)`,
	putSetting: `INSERT INTO settings (setting_key, setting_value, updated_at) VALUES (?, ?, ?)
		ON DUPLICATE KEY UPDATE
			setting_value = VALUES(setting_value),
			updated_at = VALUES(updated_at)`,
	compact: []string{"ANALYZE TABLE credentials, usage_events, daily_channel_stats"},
	vacuum:  []string{"OPTIMIZE TABLE credentials, usage_events"},
	isTransient: func(err error) bool {
		var e *mysql.MySQLError
		if !errors.As(err, &e) {
			return false
		}
		// lock wait timeout, deadlock
		return e.Number == 1205 || e.Number == 1213
	},
	isUnique: func(err error) bool {
		var e *mysql.MySQLError
		return errors.As(err, &e) && e.Number == 1062
	},
}
