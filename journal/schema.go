package journal

const Schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id TEXT PRIMARY KEY,
	created DATETIME NOT NULL,
	symbol TEXT NOT NULL,
	interval TEXT NOT NULL DEFAULT '',
	dataset TEXT NOT NULL DEFAULT '',
	strategy TEXT NOT NULL DEFAULT '',
	config TEXT NOT NULL DEFAULT '',
	risk_pct REAL NOT NULL,
	start_time DATETIME,
	end_time DATETIME,
	start_equity REAL NOT NULL,
	final_equity REAL NOT NULL,
	trades INTEGER NOT NULL,
	legs INTEGER NOT NULL,
	metrics TEXT NOT NULL DEFAULT '',
	notes TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS legs (
	leg_id TEXT PRIMARY KEY,
	run_id TEXT NOT NULL,
	seq INTEGER NOT NULL,
	symbol TEXT NOT NULL,
	side TEXT NOT NULL,
	entry REAL NOT NULL,
	entry_fill REAL NOT NULL,
	stop REAL NOT NULL,
	take_profit REAL NOT NULL,
	size REAL NOT NULL,
	open_time DATETIME NOT NULL,
	init_risk REAL NOT NULL,
	entry_atr REAL,
	mfe_r REAL NOT NULL,
	mae_r REAL NOT NULL,
	adds INTEGER NOT NULL,
	exit_price REAL NOT NULL,
	exit_time DATETIME NOT NULL,
	reason TEXT NOT NULL,
	pnl REAL NOT NULL,
	exit_atr REAL
);

CREATE TABLE IF NOT EXISTS equity (
	run_id TEXT NOT NULL,
	seq INTEGER NOT NULL,
	time DATETIME NOT NULL,
	equity REAL NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_legs_run ON legs(run_id, seq);
CREATE INDEX IF NOT EXISTS idx_equity_run ON equity(run_id, seq);
`
