package database

const schema = `
CREATE TABLE IF NOT EXISTS reviews (
	id                 BIGSERIAL PRIMARY KEY,
	run_id             UUID        NOT NULL,
	product_path       TEXT        NOT NULL,
	product_identifier TEXT,
	product_name       TEXT,
	title              TEXT,
	date               TEXT,
	review_text        TEXT,
	rating             TEXT,
	reviewer           TEXT,
	helpful_count      TEXT,
	verified_badge     TEXT,
	review_page_index  INTEGER     NOT NULL,
	search_page_index  INTEGER     NOT NULL,
	harvested_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_reviews_product ON reviews (product_identifier);
CREATE INDEX IF NOT EXISTS idx_reviews_run ON reviews (run_id);

CREATE TABLE IF NOT EXISTS outbox_event (
	id                UUID PRIMARY KEY,
	aggregate_type    TEXT        NOT NULL,
	aggregate_id      TEXT        NOT NULL,
	event_type        TEXT        NOT NULL,
	payload           JSONB       NOT NULL,
	target_stream     TEXT        NOT NULL,
	status            TEXT        NOT NULL DEFAULT 'pending',
	attempts          INTEGER     NOT NULL DEFAULT 0,
	last_error        TEXT,
	stream_message_id TEXT,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	published_at      TIMESTAMPTZ,
	next_attempt_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_outbox_due ON outbox_event (status, next_attempt_at);
`
