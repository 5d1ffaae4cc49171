package sqlstore

// Schema for the validation_requests table. change_id carries the natural-key
// uniqueness that backs idempotent receipt; verdict and raw_payload are JSON
// columns so check sets can vary by component type without migrations.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS validation_requests (
    id                     VARCHAR(36)  NOT NULL,
    change_id              VARCHAR(64)  NOT NULL,
    change_number          VARCHAR(64)  NOT NULL DEFAULT '',
    component_type         VARCHAR(64)  NOT NULL DEFAULT '',
    component_id           VARCHAR(64)  NOT NULL DEFAULT '',
    raw_payload            JSON         NULL,
    request_signature      VARCHAR(255) NOT NULL DEFAULT '',
    requested_by           VARCHAR(255) NOT NULL DEFAULT '',
    status                 VARCHAR(16)  NOT NULL,
    verdict                JSON         NULL,
    failure_reason         TEXT         NULL,
    processing_duration_ms BIGINT       NULL,
    retry_count            INT          NOT NULL DEFAULT 0,
    created_at             TIMESTAMP(6) NOT NULL,
    updated_at             TIMESTAMP(6) NOT NULL,
    processed_at           TIMESTAMP(6) NULL,
    PRIMARY KEY (id),
    UNIQUE KEY uq_validation_requests_change_id (change_id),
    KEY idx_validation_requests_updated_at (updated_at)
);
`
