package sqlite

const schema = `
-- Organizations table
CREATE TABLE IF NOT EXISTS organizations (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    type TEXT NOT NULL DEFAULT '',
    data_source TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);

-- Services table (organization_id is a weak reference, no foreign key)
CREATE TABLE IF NOT EXISTS services (
    id TEXT PRIMARY KEY,
    organization_id TEXT NOT NULL DEFAULT '',
    name TEXT NOT NULL,
    normalized_name TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    categories TEXT NOT NULL DEFAULT '[]',
    keywords TEXT NOT NULL DEFAULT '[]',
    min_age INTEGER,
    max_age INTEGER,
    application_process TEXT NOT NULL DEFAULT '',
    fees TEXT NOT NULL DEFAULT '',
    wait_time TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT 'active',
    data_source TEXT NOT NULL DEFAULT '',
    verification_status TEXT NOT NULL DEFAULT 'unverified',
    completeness_score REAL NOT NULL DEFAULT 0,
    verification_score REAL NOT NULL DEFAULT 0,
    merged_into TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_services_status_created ON services(status, created_at);
CREATE INDEX IF NOT EXISTS idx_services_normalized_name ON services(normalized_name);
CREATE INDEX IF NOT EXISTS idx_services_organization ON services(organization_id);

-- Locations table
CREATE TABLE IF NOT EXISTS locations (
    id TEXT PRIMARY KEY,
    service_id TEXT NOT NULL,
    position INTEGER NOT NULL DEFAULT 0,
    name TEXT NOT NULL DEFAULT '',
    address_1 TEXT NOT NULL DEFAULT '',
    address_2 TEXT NOT NULL DEFAULT '',
    city TEXT NOT NULL DEFAULT '',
    state TEXT NOT NULL DEFAULT '',
    postcode TEXT NOT NULL DEFAULT '',
    region TEXT NOT NULL DEFAULT '',
    latitude REAL,
    longitude REAL,
    FOREIGN KEY (service_id) REFERENCES services(id)
);

CREATE INDEX IF NOT EXISTS idx_locations_service ON locations(service_id);
CREATE INDEX IF NOT EXISTS idx_locations_coords ON locations(latitude, longitude);

-- Contacts table (phones kept as JSON, digits indexed in contact_phones)
CREATE TABLE IF NOT EXISTS contacts (
    id TEXT PRIMARY KEY,
    service_id TEXT NOT NULL,
    position INTEGER NOT NULL DEFAULT 0,
    name TEXT NOT NULL DEFAULT '',
    email TEXT NOT NULL DEFAULT '',
    phones TEXT NOT NULL DEFAULT '[]',
    FOREIGN KEY (service_id) REFERENCES services(id)
);

CREATE INDEX IF NOT EXISTS idx_contacts_service ON contacts(service_id);

CREATE TABLE IF NOT EXISTS contact_phones (
    contact_id TEXT NOT NULL,
    service_id TEXT NOT NULL,
    digits TEXT NOT NULL,
    PRIMARY KEY (contact_id, digits),
    FOREIGN KEY (contact_id) REFERENCES contacts(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_contact_phones_digits ON contact_phones(digits);

-- Schedules table
CREATE TABLE IF NOT EXISTS schedules (
    id TEXT PRIMARY KEY,
    service_id TEXT NOT NULL,
    position INTEGER NOT NULL DEFAULT 0,
    weekday TEXT NOT NULL DEFAULT '',
    opens TEXT NOT NULL DEFAULT '',
    closes TEXT NOT NULL DEFAULT '',
    notes TEXT NOT NULL DEFAULT '',
    FOREIGN KEY (service_id) REFERENCES services(id)
);

CREATE INDEX IF NOT EXISTS idx_schedules_service ON schedules(service_id);

-- Merge history (append-only audit trail)
CREATE TABLE IF NOT EXISTS merge_history (
    id TEXT PRIMARY KEY,
    absorbed_id TEXT NOT NULL,
    primary_id TEXT NOT NULL,
    score REAL NOT NULL DEFAULT 0,
    reason TEXT NOT NULL DEFAULT '',
    merged_by TEXT NOT NULL DEFAULT '',
    merged_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_merge_history_absorbed ON merge_history(absorbed_id);
CREATE INDEX IF NOT EXISTS idx_merge_history_primary ON merge_history(primary_id);

-- Run metrics (one row per completed collection run)
CREATE TABLE IF NOT EXISTS run_metrics (
    id TEXT PRIMARY KEY,
    source TEXT NOT NULL,
    success INTEGER NOT NULL DEFAULT 0,
    services_found INTEGER NOT NULL DEFAULT 0,
    services_processed INTEGER NOT NULL DEFAULT 0,
    errors INTEGER NOT NULL DEFAULT 0,
    duration_ms INTEGER NOT NULL DEFAULT 0,
    timestamp TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_run_metrics_timestamp ON run_metrics(timestamp);
CREATE INDEX IF NOT EXISTS idx_run_metrics_source ON run_metrics(source, timestamp);
`
