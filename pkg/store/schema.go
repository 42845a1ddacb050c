package store

import (
	"fmt"

	"github.com/mahaj/lytecord/pkg/db"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id bigint PRIMARY KEY,
		username text,
		name_color text,
		password_hash blob
	)`,
	`CREATE TABLE IF NOT EXISTS users_by_name (
		username text PRIMARY KEY,
		id bigint
	)`,
	`CREATE TABLE IF NOT EXISTS guilds (
		id bigint PRIMARY KEY,
		name text,
		owner_id bigint,
		join_code text
	)`,
	`CREATE TABLE IF NOT EXISTS guilds_by_code (
		join_code text PRIMARY KEY,
		guild_id bigint
	)`,
	`CREATE TABLE IF NOT EXISTS guild_members (
		guild_id bigint,
		user_id bigint,
		PRIMARY KEY (guild_id, user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS user_guilds (
		user_id bigint,
		guild_id bigint,
		PRIMARY KEY (user_id, guild_id)
	)`,
	`CREATE TABLE IF NOT EXISTS channels (
		id bigint PRIMARY KEY,
		name text,
		type int,
		guild_id bigint
	)`,
	`CREATE TABLE IF NOT EXISTS channels_by_guild (
		guild_id bigint,
		id bigint,
		PRIMARY KEY (guild_id, id)
	)`,
	`CREATE TABLE IF NOT EXISTS messages (
		channel_id bigint,
		id bigint,
		author_id bigint,
		content text,
		attachment_id bigint,
		timestamp bigint,
		PRIMARY KEY (channel_id, id)
	) WITH CLUSTERING ORDER BY (id DESC)`,
	`CREATE TABLE IF NOT EXISTS attachments (
		id bigint PRIMARY KEY,
		filename text,
		type int,
		width int,
		height int,
		size bigint,
		hash text
	)`,
	`CREATE TABLE IF NOT EXISTS attachments_by_hash (
		hash text PRIMARY KEY,
		id bigint
	)`,
}

// Migrate creates the tables used by ScyllaStore in the session's keyspace.
func Migrate(session *db.Session) error {
	for _, stmt := range schema {
		if err := session.Query(stmt).Exec(); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// Drop removes every table created by Migrate.
func Drop(session *db.Session) error {
	for _, table := range []string{
		"users", "users_by_name", "guilds", "guilds_by_code", "guild_members", "user_guilds",
		"channels", "channels_by_guild", "messages", "attachments", "attachments_by_hash",
	} {
		if err := session.Query("DROP TABLE IF EXISTS " + table).Exec(); err != nil {
			return fmt.Errorf("drop %s: %w", table, err)
		}
	}
	return nil
}
