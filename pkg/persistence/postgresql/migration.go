package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE flows (
				id VARCHAR(255) NOT NULL,
				version INTEGER NOT NULL CHECK (version >= 1),
				name VARCHAR(255) NOT NULL,
				active BOOLEAN NOT NULL DEFAULT false,
				definition JSONB NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				PRIMARY KEY (id, version)
			);

			CREATE TABLE conversations (
				id VARCHAR(255) PRIMARY KEY,
				flow_id VARCHAR(255) NOT NULL,
				flow_version INTEGER NOT NULL,
				channel_id VARCHAR(255) NOT NULL,
				channel_type VARCHAR(50) NOT NULL,
				external_user_id VARCHAR(255) NOT NULL,
				current_node_id VARCHAR(255) NOT NULL,
				waiting_for VARCHAR(20) NOT NULL DEFAULT 'none',
				wait_token VARCHAR(255) NOT NULL DEFAULT '',
				resume_at TIMESTAMP WITH TIME ZONE,
				attempts INTEGER NOT NULL DEFAULT 0,
				status VARCHAR(20) NOT NULL CHECK (status IN ('active', 'ended', 'failed')),
				end_reason VARCHAR(100) NOT NULL DEFAULT '',
				variables JSONB NOT NULL DEFAULT '{}',
				processed_events JSONB NOT NULL DEFAULT '[]',
				idle_deadline TIMESTAMP WITH TIME ZONE,
				started_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				ended_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_conversations_active_user ON conversations(channel_id, external_user_id) WHERE status = 'active';
			CREATE INDEX idx_conversations_idle_deadline ON conversations(idle_deadline) WHERE status = 'active';

			CREATE TABLE messages (
				seq BIGSERIAL PRIMARY KEY,
				id VARCHAR(255) NOT NULL UNIQUE,
				conversation_id VARCHAR(255) NOT NULL,
				node_id VARCHAR(255) NOT NULL DEFAULT '',
				direction VARCHAR(3) NOT NULL CHECK (direction IN ('in', 'out')),
				content TEXT NOT NULL DEFAULT '',
				media_url TEXT NOT NULL DEFAULT '',
				metadata JSONB,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_messages_conversation_id ON messages(conversation_id, seq);
		`,
		2: `
			CREATE TABLE timers (
				conversation_id VARCHAR(255) PRIMARY KEY,
				token VARCHAR(255) NOT NULL,
				due_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_timers_due_at ON timers(due_at);
		`,
	}
}
