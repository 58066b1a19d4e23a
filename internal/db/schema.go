package db

// BrowserSchema holds the browser interaction recorder's tables.
var BrowserSchema = Schema{
	Name:    "browser",
	Version: 1,
	DDL: `
CREATE TABLE IF NOT EXISTS navigation (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    timestamp TEXT NOT NULL,
    session_id TEXT,
    url TEXT NOT NULL DEFAULT '',
    title TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_navigation_session ON navigation(session_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_navigation_timestamp ON navigation(timestamp);

CREATE TABLE IF NOT EXISTS interaction (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    timestamp TEXT NOT NULL,
    session_id TEXT,
    action TEXT NOT NULL DEFAULT '',
    element_tag TEXT NOT NULL DEFAULT '',
    element_id TEXT NOT NULL DEFAULT '',
    element_name TEXT NOT NULL DEFAULT '',
    element_type TEXT NOT NULL DEFAULT '',
    element_value TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_interaction_session ON interaction(session_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_interaction_timestamp ON interaction(timestamp);
`,
}

// DesktopSchema holds the desktop/system activity recorder's tables.
var DesktopSchema = Schema{
	Name:    "desktop",
	Version: 1,
	DDL: `
CREATE TABLE IF NOT EXISTS keystroke (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    timestamp TEXT NOT NULL,
    session_id TEXT,
    key TEXT NOT NULL DEFAULT '',
    app TEXT NOT NULL DEFAULT '',
    window_title TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_keystroke_session ON keystroke(session_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_keystroke_timestamp ON keystroke(timestamp);

CREATE TABLE IF NOT EXISTS mouse (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    timestamp TEXT NOT NULL,
    session_id TEXT,
    event_type TEXT NOT NULL DEFAULT '',
    x INTEGER NOT NULL DEFAULT 0,
    y INTEGER NOT NULL DEFAULT 0,
    app TEXT NOT NULL DEFAULT '',
    window_title TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_mouse_session ON mouse(session_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_mouse_timestamp ON mouse(timestamp);

CREATE TABLE IF NOT EXISTS spreadsheet (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    timestamp TEXT NOT NULL,
    session_id TEXT,
    workbook TEXT NOT NULL DEFAULT '',
    worksheet TEXT NOT NULL DEFAULT '',
    cell TEXT NOT NULL DEFAULT '',
    value TEXT NOT NULL DEFAULT '',
    formula TEXT NOT NULL DEFAULT '',
    action TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_spreadsheet_session ON spreadsheet(session_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_spreadsheet_timestamp ON spreadsheet(timestamp);

CREATE TABLE IF NOT EXISTS document (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    timestamp TEXT NOT NULL,
    session_id TEXT,
    file_path TEXT NOT NULL DEFAULT '',
    file_name TEXT NOT NULL DEFAULT '',
    action TEXT NOT NULL DEFAULT '',
    page INTEGER NOT NULL DEFAULT 0,
    form_field TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_document_session ON document(session_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_document_timestamp ON document(timestamp);

CREATE TABLE IF NOT EXISTS screen_frame (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    timestamp TEXT NOT NULL,
    session_id TEXT,
    path TEXT NOT NULL DEFAULT '',
    app TEXT NOT NULL DEFAULT '',
    window_title TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_screen_frame_session ON screen_frame(session_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_screen_frame_timestamp ON screen_frame(timestamp);
`,
}

// AppLogSchema holds bot application log lines. Bots do not know the
// recorder's session, so there is no session column.
var AppLogSchema = Schema{
	Name:    "applog",
	Version: 1,
	DDL: `
CREATE TABLE IF NOT EXISTS application_log (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    timestamp TEXT NOT NULL,
    level TEXT NOT NULL DEFAULT '',
    message TEXT NOT NULL DEFAULT '',
    source_name TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_application_log_timestamp ON application_log(timestamp);
`,
}

// AnalysisSchema holds everything derived from correlated sessions:
// understanding results, the prototype registry and the audit trail.
var AnalysisSchema = Schema{
	Name:    "analysis",
	Version: 1,
	DDL: `
CREATE TABLE IF NOT EXISTS intent_classifications (
    session_id TEXT NOT NULL,
    event_ref TEXT NOT NULL,
    category TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    confidence REAL NOT NULL CHECK(confidence >= 0 AND confidence <= 1),
    PRIMARY KEY(session_id, event_ref)
);

CREATE TABLE IF NOT EXISTS context_tags (
    session_id TEXT NOT NULL,
    event_ref TEXT NOT NULL,
    tag_type TEXT NOT NULL CHECK(tag_type IN ('application','page','state','task')),
    value TEXT NOT NULL,
    confidence REAL NOT NULL CHECK(confidence >= 0 AND confidence <= 1),
    PRIMARY KEY(session_id, event_ref, tag_type, value)
);

CREATE TABLE IF NOT EXISTS dependency_edges (
    session_id TEXT NOT NULL,
    source_ref TEXT NOT NULL,
    target_ref TEXT NOT NULL,
    kind TEXT NOT NULL CHECK(kind IN ('sequential','related')),
    strength REAL NOT NULL CHECK(strength >= 0 AND strength <= 1),
    PRIMARY KEY(session_id, source_ref, target_ref)
);

CREATE TABLE IF NOT EXISTS workflow_segments (
    session_id TEXT NOT NULL,
    segment_index INTEGER NOT NULL,
    start_index INTEGER NOT NULL,
    end_index INTEGER NOT NULL,
    signature TEXT NOT NULL DEFAULT '',
    PRIMARY KEY(session_id, segment_index)
);

CREATE TABLE IF NOT EXISTS goals (
    session_id TEXT NOT NULL,
    segment_index INTEGER NOT NULL,
    category TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    confidence REAL NOT NULL CHECK(confidence >= 0 AND confidence <= 1),
    PRIMARY KEY(session_id, segment_index)
);

CREATE TABLE IF NOT EXISTS prototypes (
    pattern_key TEXT PRIMARY KEY,
    display_name TEXT NOT NULL,
    output_dir TEXT NOT NULL,
    mode TEXT NOT NULL CHECK(mode IN ('cursor','gpt','both')),
    frequency INTEGER NOT NULL DEFAULT 1,
    first_seen TEXT NOT NULL DEFAULT '',
    last_seen TEXT NOT NULL DEFAULT '',
    event_count INTEGER NOT NULL DEFAULT 0,
    has_report INTEGER NOT NULL DEFAULT 0,
    has_prompt INTEGER NOT NULL DEFAULT 0,
    created_at DATETIME NOT NULL DEFAULT (datetime('now')),
    updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS audit_entries (
    id TEXT PRIMARY KEY,
    timestamp DATETIME NOT NULL DEFAULT (datetime('now')),
    actor TEXT NOT NULL,
    action TEXT NOT NULL,
    session_id TEXT NOT NULL DEFAULT '',
    store TEXT NOT NULL DEFAULT '',
    summary TEXT NOT NULL DEFAULT '',
    rows_affected INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_entries(timestamp);
CREATE INDEX IF NOT EXISTS idx_audit_session ON audit_entries(session_id);
CREATE INDEX IF NOT EXISTS idx_audit_action ON audit_entries(action);
`,
}
