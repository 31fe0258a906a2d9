package db

// Timestamps are stored as RFC3339 text so both drivers scan them the same way.
var schemas = map[string]string{
	"postgres": `
	CREATE TABLE IF NOT EXISTS documents (
		id VARCHAR(36) PRIMARY KEY,
		owner_id TEXT NOT NULL,
		title VARCHAR(255) NOT NULL DEFAULT '',
		content TEXT NOT NULL DEFAULT '',
		initial_content TEXT NOT NULL DEFAULT '',
		version BIGINT NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_documents_owner ON documents(owner_id);
	CREATE INDEX IF NOT EXISTS idx_documents_updated_at ON documents(updated_at);

	CREATE TABLE IF NOT EXISTS permissions (
		document_id VARCHAR(36) NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
		user_id TEXT NOT NULL,
		role TEXT NOT NULL,
		PRIMARY KEY (document_id, user_id)
	);

	CREATE TABLE IF NOT EXISTS op_log (
		id BIGSERIAL PRIMARY KEY,
		document_id VARCHAR(36) NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
		user_id TEXT NOT NULL,
		base_version BIGINT NOT NULL,
		op_type TEXT NOT NULL,
		position BIGINT NOT NULL,
		payload TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_op_log_document ON op_log(document_id, base_version);

	CREATE TABLE IF NOT EXISTS snapshots (
		id BIGSERIAL PRIMARY KEY,
		document_id VARCHAR(36) NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
		created_by TEXT NOT NULL,
		version BIGINT NOT NULL,
		snapshot_text TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_snapshots_document ON snapshots(document_id);
	`,

	"sqlite": `
	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL DEFAULT '',
		initial_content TEXT NOT NULL DEFAULT '',
		version INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_documents_owner ON documents(owner_id);
	CREATE INDEX IF NOT EXISTS idx_documents_updated_at ON documents(updated_at);

	CREATE TABLE IF NOT EXISTS permissions (
		document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
		user_id TEXT NOT NULL,
		role TEXT NOT NULL,
		PRIMARY KEY (document_id, user_id)
	);

	CREATE TABLE IF NOT EXISTS op_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
		user_id TEXT NOT NULL,
		base_version INTEGER NOT NULL,
		op_type TEXT NOT NULL,
		position INTEGER NOT NULL,
		payload TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_op_log_document ON op_log(document_id, base_version);

	CREATE TABLE IF NOT EXISTS snapshots (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
		created_by TEXT NOT NULL,
		version INTEGER NOT NULL,
		snapshot_text TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_snapshots_document ON snapshots(document_id);
	`,
}

// migrate creates the tables if they don't exist
func (s *Store) migrate() error {
	schema, ok := schemas[s.driver]
	if !ok {
		return ErrUnsupportedDriver
	}
	_, err := s.db.Exec(schema)
	return err
}
