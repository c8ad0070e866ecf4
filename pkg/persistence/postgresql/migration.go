package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE workflows (
				id VARCHAR(255) NOT NULL,
				version INTEGER NOT NULL,
				name VARCHAR(255) NOT NULL,
				definition JSONB NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				PRIMARY KEY (id, version)
			);

			CREATE INDEX idx_workflows_created_at ON workflows(created_at);

			CREATE TABLE executions (
				id VARCHAR(255) PRIMARY KEY,
				workflow_id VARCHAR(255) NOT NULL,
				workflow_version INTEGER NOT NULL,
				status VARCHAR(50) NOT NULL,
				start_time TIMESTAMP WITH TIME ZONE NOT NULL,
				end_time TIMESTAMP WITH TIME ZONE,
				record JSONB NOT NULL,
				revision BIGINT NOT NULL
			);

			CREATE INDEX idx_executions_workflow_id ON executions(workflow_id);
			CREATE INDEX idx_executions_status ON executions(status);
		`,
		2: `
			CREATE TABLE execution_snapshots (
				execution_id VARCHAR(255) NOT NULL,
				sequence BIGINT NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				record JSONB NOT NULL,
				PRIMARY KEY (execution_id, sequence)
			);
		`,
	}
}
