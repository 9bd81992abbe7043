package db

const UserSchema = `
CREATE TABLE IF NOT EXISTS users (
	id                TEXT PRIMARY KEY,
	username          TEXT NOT NULL UNIQUE,
	email             TEXT NOT NULL UNIQUE,
	password_hash     TEXT NOT NULL,
	profile_image_url TEXT NOT NULL DEFAULT '',
	created_at        TIMESTAMPTZ NOT NULL,
	updated_at        TIMESTAMPTZ NOT NULL
)`

const ReferenceSchema = `
CREATE TABLE IF NOT EXISTS user_references (
	id                TEXT PRIMARY KEY,
	username          TEXT NOT NULL DEFAULT '',
	email             TEXT NOT NULL DEFAULT '',
	profile_image_url TEXT NOT NULL DEFAULT '',
	deleted           BOOLEAN NOT NULL DEFAULT FALSE,
	deleted_at        TIMESTAMPTZ,
	updated_at        TIMESTAMPTZ NOT NULL
)`

const PostSchema = `
CREATE TABLE IF NOT EXISTS posts (
	id         TEXT PRIMARY KEY,
	author_id  TEXT NOT NULL REFERENCES user_references(id),
	content    TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
)`

const PostIndex = `CREATE INDEX IF NOT EXISTS posts_created_at_idx ON posts (created_at DESC)`

const AttachmentSchema = `
CREATE TABLE IF NOT EXISTS attachments (
	id           TEXT PRIMARY KEY,
	uploader_id  TEXT NOT NULL REFERENCES user_references(id),
	file_name    TEXT NOT NULL,
	content_type TEXT NOT NULL,
	size         BIGINT NOT NULL,
	checksum     TEXT NOT NULL,
	data         BYTEA NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL
)`

const MessageSchema = `
CREATE TABLE IF NOT EXISTS messages (
	id            TEXT PRIMARY KEY,
	sender_id     TEXT NOT NULL REFERENCES user_references(id),
	recipient_id  TEXT NOT NULL REFERENCES user_references(id),
	content       TEXT NOT NULL,
	attachment_id TEXT REFERENCES attachments(id),
	created_at    TIMESTAMPTZ NOT NULL
)`

const MessageIndex = `CREATE INDEX IF NOT EXISTS messages_pair_idx ON messages (sender_id, recipient_id, created_at DESC)`
