package store

// schema is idempotent; it runs on every Open.
const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	root_path TEXT NOT NULL,
	source_path TEXT NOT NULL,
	destination_path TEXT NOT NULL,
	depth INTEGER NOT NULL DEFAULT 0,
	UNIQUE (root_path, source_path, destination_path)
);

CREATE TABLE IF NOT EXISTS task_event (
	event_id INTEGER PRIMARY KEY AUTOINCREMENT,
	task_id INTEGER NOT NULL,
	status TEXT NOT NULL CHECK (status IN ('discovered', 'progress', 'completed', 'errored')),
	change_time TEXT NOT NULL,
	claim_id TEXT NOT NULL DEFAULT '',
	FOREIGN KEY (task_id) REFERENCES tasks(id)
);

CREATE INDEX IF NOT EXISTS idx_task_event_task ON task_event(task_id, event_id);

CREATE TABLE IF NOT EXISTS task_result (
	task_id INTEGER PRIMARY KEY,
	exit_code INTEGER NOT NULL,
	stdout TEXT NOT NULL DEFAULT '',
	stderr TEXT NOT NULL DEFAULT '',
	duration_ms INTEGER NOT NULL DEFAULT 0,
	result_time TEXT NOT NULL,
	FOREIGN KEY (task_id) REFERENCES tasks(id)
);

CREATE TABLE IF NOT EXISTS state (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS runs (
	run_id TEXT PRIMARY KEY,
	source TEXT NOT NULL,
	destination TEXT NOT NULL,
	started_at TEXT NOT NULL,
	finished_at TEXT NOT NULL DEFAULT '',
	task_count INTEGER NOT NULL DEFAULT 0,
	remaining_count INTEGER NOT NULL DEFAULT 0,
	error_count INTEGER NOT NULL DEFAULT 0
);

CREATE TRIGGER IF NOT EXISTS new_task
AFTER INSERT ON tasks
BEGIN
	INSERT INTO task_event (task_id, status, change_time)
	VALUES (NEW.id, 'discovered', strftime('%Y-%m-%dT%H:%M:%fZ', 'now'));
END;

CREATE VIEW IF NOT EXISTS latest_task_event AS
SELECT
	t.id AS task_id,
	t.root_path,
	t.source_path,
	t.destination_path,
	t.depth,
	e.event_id,
	e.status,
	e.change_time
FROM tasks t
INNER JOIN task_event e ON e.event_id = (
	SELECT MAX(le.event_id) FROM task_event le WHERE le.task_id = t.id
);

CREATE VIEW IF NOT EXISTS unclaimed_task AS
SELECT * FROM latest_task_event
WHERE status = 'discovered'
ORDER BY depth DESC, task_id;

CREATE VIEW IF NOT EXISTS active_task AS
SELECT * FROM latest_task_event
WHERE status = 'progress'
ORDER BY event_id;

CREATE VIEW IF NOT EXISTS remaining_task AS
SELECT * FROM latest_task_event
WHERE status <> 'completed'
ORDER BY task_id;

CREATE VIEW IF NOT EXISTS error_task AS
SELECT * FROM latest_task_event
WHERE status = 'errored'
ORDER BY task_id;
`
