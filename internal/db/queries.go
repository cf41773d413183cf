package db

const jobColumns = `id, order_id, article, file_path, priority, seq, state, assigned_printer, attempts, created_at, assigned_at`

const completedColumns = `id, order_id, article, file_path, priority, seq, printed_on, attempts, created_at, assigned_at, completed_at`

const (
	NextSequence = `UPDATE job_sequence SET value = value + 1 WHERE id = 1`

	CurrentSequence = `SELECT value FROM job_sequence WHERE id = 1`

	JobExists = `
		SELECT EXISTS (SELECT 1 FROM print_jobs WHERE id = ?)
		    OR EXISTS (SELECT 1 FROM completed_jobs WHERE id = ?)
	`

	InsertJob = `
		INSERT INTO print_jobs (id, order_id, article, file_path, priority, seq, state, assigned_printer, attempts, created_at)
		VALUES (?, ?, ?, ?, ?, ?, 'pending', '', 0, ?)
	`

	SelectNextPending = `
		SELECT ` + jobColumns + `
		FROM print_jobs
		WHERE state = 'pending'
		ORDER BY priority ASC, seq ASC
		LIMIT 1
	`

	ClaimJob = `
		UPDATE print_jobs
		SET state = 'assigned', assigned_printer = ?, attempts = attempts + 1,
		    assigned_at = COALESCE(assigned_at, ?)
		WHERE id = ? AND state = 'pending'
	`

	SelectJobByID = `
		SELECT ` + jobColumns + `
		FROM print_jobs WHERE id = ?
	`

	SelectAssignedJob = `
		SELECT ` + jobColumns + `
		FROM print_jobs WHERE id = ? AND state = 'assigned' AND assigned_printer = ?
	`

	ArchiveJob = `
		INSERT INTO completed_jobs (` + completedColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	ReturnJob = `
		UPDATE print_jobs
		SET state = 'pending', assigned_printer = '', seq = ?
		WHERE id = ? AND state = 'assigned'
	`

	DeleteJob = `DELETE FROM print_jobs WHERE id = ?`

	DeleteCompletedJob = `DELETE FROM completed_jobs WHERE id = ?`

	SelectCompletedByID = `
		SELECT ` + completedColumns + `
		FROM completed_jobs WHERE id = ?
	`

	ListActiveJobs = `
		SELECT ` + jobColumns + `
		FROM print_jobs
		ORDER BY priority ASC, seq ASC
	`

	ListCompletedJobs = `
		SELECT ` + completedColumns + `
		FROM completed_jobs
		ORDER BY completed_at ASC, rowid ASC
	`
)

const (
	ListPoolPrinters = `
		SELECT name, metadata_json, registered_at
		FROM pool_printers ORDER BY rowid ASC
	`

	UpsertPoolPrinter = `
		INSERT INTO pool_printers (name, metadata_json, registered_at)
		VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET metadata_json = excluded.metadata_json
	`

	DeletePoolPrinter = `DELETE FROM pool_printers WHERE name = ?`
)
