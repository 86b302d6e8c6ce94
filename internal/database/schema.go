package database

var schema = []string{
	`CREATE TABLE IF NOT EXISTS user_credits (
    user_id VARCHAR(64) NOT NULL PRIMARY KEY,
    credits INT NOT NULL DEFAULT 0,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
    CONSTRAINT chk_user_credits_non_negative CHECK (credits >= 0)
)`,
	`CREATE TABLE IF NOT EXISTS generations (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    user_id VARCHAR(64) NULL,
    guest_id VARCHAR(128) NULL,
    prompt TEXT NOT NULL,
    model VARCHAR(64) NOT NULL,
    mode VARCHAR(32) NOT NULL,
    image_url TEXT NOT NULL,
    credits_used INT NOT NULL DEFAULT 0,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    INDEX idx_generations_user (user_id, created_at),
    INDEX idx_generations_guest (guest_id, created_at),
    CONSTRAINT chk_generations_owner CHECK ((user_id IS NULL) <> (guest_id IS NULL))
)`,
	`CREATE TABLE IF NOT EXISTS transactions (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    user_id VARCHAR(64) NOT NULL,
    amount DECIMAL(12,2) NOT NULL,
    currency VARCHAR(8) NOT NULL,
    status VARCHAR(16) NOT NULL,
    plan_id VARCHAR(16) NOT NULL,
    credits_added INT NOT NULL,
    provider VARCHAR(16) NOT NULL,
    provider_transaction_id VARCHAR(191) NOT NULL,
    metadata JSON,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    UNIQUE KEY uniq_provider_transaction (provider_transaction_id),
    INDEX idx_transactions_user (user_id)
)`,
	`CREATE TABLE IF NOT EXISTS feedback (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    message TEXT NOT NULL,
    user_id VARCHAR(64) NULL,
    status VARCHAR(16) NOT NULL DEFAULT 'new',
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
)`,
}
