package timescaledb

var createTablesSQL = []string{
	`CREATE TABLE IF NOT EXISTS atmcorr_runs (
    id text PRIMARY KEY,
    kind text NOT NULL,
    dataset text NOT NULL,
    created_at timestamp WITH TIME ZONE NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS atmcorr_decisions (
    run_id text NOT NULL REFERENCES atmcorr_runs(id),
    seq integer NOT NULL,
    field integer NOT NULL,
    fit_status text NOT NULL,
    payload bytea NOT NULL,
    PRIMARY KEY (run_id, seq)
)`,
	`CREATE TABLE IF NOT EXISTS tsys_contamination_reports (
    run_id text NOT NULL REFERENCES atmcorr_runs(id),
    seq integer NOT NULL,
    spw integer NOT NULL,
    field integer NOT NULL,
    payload bytea NOT NULL,
    PRIMARY KEY (run_id, seq)
)`,
	`CREATE INDEX IF NOT EXISTS atmcorr_runs_created_idx ON atmcorr_runs (created_at)`,
}
