package sqlite

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the Rowguard store (SQLite).
var Migrations = migrate.NewGroup("rowguard")

func init() {
	Migrations.MustRegister(
		&migrate.Migration{
			Name:    "create_bindings",
			Version: "20250301000001",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS rowguard_bindings (
    id              TEXT PRIMARY KEY,
    resource        TEXT NOT NULL,
    mode            TEXT NOT NULL,
    key_column      TEXT NOT NULL DEFAULT '',
    owner_column    TEXT NOT NULL DEFAULT '',
    parent_column   TEXT NOT NULL DEFAULT '',
    parent_resource TEXT NOT NULL DEFAULT '',
    policy_name     TEXT NOT NULL,
    description     TEXT NOT NULL DEFAULT '',
    metadata        TEXT NOT NULL DEFAULT '{}',
    created_at      TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at      TEXT NOT NULL DEFAULT (datetime('now')),

    UNIQUE(resource)
);

CREATE INDEX IF NOT EXISTS idx_rowguard_bindings_mode ON rowguard_bindings (mode);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS rowguard_bindings`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_user_devices",
			Version: "20250301000002",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS user_devices (
    id              TEXT PRIMARY KEY,
    user_id         TEXT NOT NULL,
    device_id       TEXT NOT NULL,
    device_name     TEXT NOT NULL DEFAULT '',
    platform        TEXT NOT NULL DEFAULT '',
    user_agent      TEXT NOT NULL DEFAULT '',
    ip_address      TEXT NOT NULL DEFAULT '',
    metadata        TEXT NOT NULL DEFAULT '{}',
    first_seen_at   TEXT NOT NULL,
    last_seen_at    TEXT NOT NULL,
    last_login_at   TEXT NOT NULL,
    revoked_at      TEXT,
    created_at      TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at      TEXT NOT NULL DEFAULT (datetime('now')),

    UNIQUE(user_id, device_id)
);

CREATE INDEX IF NOT EXISTS idx_user_devices_user ON user_devices (user_id);
CREATE INDEX IF NOT EXISTS idx_user_devices_revoked ON user_devices (revoked_at);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS user_devices`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_policy_registry",
			Version: "20250301000003",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS rowguard_policies (
    resource        TEXT NOT NULL,
    name            TEXT NOT NULL,
    using_expr      TEXT NOT NULL DEFAULT '',
    with_check      TEXT NOT NULL DEFAULT '',
    installed_at    TEXT NOT NULL DEFAULT (datetime('now')),

    PRIMARY KEY (resource, name)
);

CREATE TABLE IF NOT EXISTS rowguard_enforcement (
    resource        TEXT PRIMARY KEY,
    enabled_at      TEXT NOT NULL DEFAULT (datetime('now'))
);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
DROP TABLE IF EXISTS rowguard_policies;
DROP TABLE IF EXISTS rowguard_enforcement;
`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_rows",
			Version: "20250301000004",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS rowguard_rows (
    resource        TEXT NOT NULL,
    row_key         TEXT NOT NULL,
    data            TEXT NOT NULL DEFAULT '{}',
    created_at      TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at      TEXT NOT NULL DEFAULT (datetime('now')),

    PRIMARY KEY (resource, row_key)
);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS rowguard_rows`)
				return err
			},
		},
	)
}
