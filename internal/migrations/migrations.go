package migrations

// Schema is embedded rather than shipped as loose SQL files so the binary
// can bootstrap any empty database it is pointed at. The statements stick
// to the SQL subset both sqlite and postgres accept; dialect-specific
// tuning happens out of band.

const schema = `
CREATE TABLE IF NOT EXISTS tenants (
    id             TEXT PRIMARY KEY,
    slug           TEXT NOT NULL UNIQUE,
    status         TEXT NOT NULL DEFAULT 'active',
    billing_active BOOLEAN NOT NULL DEFAULT TRUE,
    created_at     TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS channel_accounts (
    id            TEXT PRIMARY KEY,
    tenant_id     TEXT NOT NULL REFERENCES tenants(id),
    instance_name TEXT NOT NULL UNIQUE,
    active        BOOLEAN NOT NULL DEFAULT TRUE,
    settings      TEXT NOT NULL DEFAULT '{}',
    created_at    TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS conversations (
    id                 TEXT PRIMARY KEY,
    tenant_id          TEXT NOT NULL,
    account_id         TEXT NOT NULL REFERENCES channel_accounts(id),
    contact_phone      TEXT NOT NULL,
    contact_name       TEXT NOT NULL DEFAULT '',
    opaque             BOOLEAN NOT NULL DEFAULT FALSE,
    stage              TEXT NOT NULL DEFAULT 'opening',
    language           TEXT NOT NULL DEFAULT '',
    last_message_at    TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    reengagement_count INTEGER NOT NULL DEFAULT 0,
    created_at         TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at         TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    UNIQUE (account_id, contact_phone)
);

CREATE TABLE IF NOT EXISTS messages (
    id              TEXT PRIMARY KEY,
    conversation_id TEXT NOT NULL REFERENCES conversations(id),
    role            TEXT NOT NULL,
    content         TEXT NOT NULL,
    metadata        TEXT NOT NULL DEFAULT '{}',
    created_at      TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_messages_conversation
    ON messages (conversation_id, created_at);

CREATE TABLE IF NOT EXISTS identity_mappings (
    id           TEXT PRIMARY KEY,
    account_id   TEXT NOT NULL,
    opaque_id    TEXT NOT NULL,
    phone        TEXT NOT NULL,
    source       TEXT NOT NULL,
    display_name TEXT NOT NULL DEFAULT '',
    created_at   TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at   TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    UNIQUE (account_id, opaque_id)
);

CREATE TABLE IF NOT EXISTS conversation_states (
    id               TEXT PRIMARY KEY,
    conversation_id  TEXT NOT NULL UNIQUE REFERENCES conversations(id),
    tenant_id        TEXT NOT NULL,
    current_node     TEXT NOT NULL DEFAULT 'opening',
    previous_node    TEXT NOT NULL DEFAULT '',
    active_persona   TEXT NOT NULL DEFAULT 'primary',
    guard_data       TEXT NOT NULL DEFAULT '{}',
    transition_count INTEGER NOT NULL DEFAULT 0,
    updated_at       TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS delivery_queue (
    id              TEXT PRIMARY KEY,
    tenant_id       TEXT NOT NULL,
    account_id      TEXT NOT NULL,
    destination     TEXT NOT NULL,
    content         TEXT NOT NULL,
    class           TEXT NOT NULL,
    attempts        INTEGER NOT NULL DEFAULT 0,
    max_attempts    INTEGER NOT NULL DEFAULT 5,
    next_attempt_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    status          TEXT NOT NULL DEFAULT 'pending',
    metadata        TEXT NOT NULL DEFAULT '{}',
    created_at      TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at      TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_queue_claim
    ON delivery_queue (status, class, next_attempt_at);

CREATE TABLE IF NOT EXISTS agent_configs (
    id         TEXT PRIMARY KEY,
    tenant_id  TEXT NOT NULL REFERENCES tenants(id),
    active     BOOLEAN NOT NULL DEFAULT TRUE,
    config     TEXT NOT NULL DEFAULT '{}',
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_agent_configs_tenant
    ON agent_configs (tenant_id, active);

CREATE TABLE IF NOT EXISTS gateway_contacts (
    account_id   TEXT NOT NULL,
    jid          TEXT NOT NULL,
    display_name TEXT NOT NULL DEFAULT '',
    avatar_url   TEXT NOT NULL DEFAULT '',
    cached_at    TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (account_id, jid)
);
`

// Schema returns the full bootstrap schema.
func Schema() string {
	return schema
}
