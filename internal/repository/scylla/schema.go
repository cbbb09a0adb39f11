package scylla

var schema = []string{
	`CREATE TABLE IF NOT EXISTS admin_accounts (
        id text PRIMARY KEY,
        email text,
        display_name text,
        password_hash text,
        is_active boolean,
        two_factor_enabled boolean,
        failed_login_attempts int,
        locked_until timestamp,
        last_login timestamp,
        created_at timestamp,
        updated_at timestamp
    )`,
	`CREATE TABLE IF NOT EXISTS admin_accounts_by_email (
        email text PRIMARY KEY,
        account_id text
    )`,
	`CREATE TABLE IF NOT EXISTS admin_sessions (
        token_hash text PRIMARY KEY,
        id text,
        account_id text,
        created_at timestamp,
        last_activity timestamp,
        expires_at timestamp,
        ip_address text,
        user_agent text
    )`,
	`CREATE TABLE IF NOT EXISTS admin_sessions_by_account (
        account_id text,
        token_hash text,
        expires_at timestamp,
        PRIMARY KEY ((account_id), token_hash)
    )`,
	`CREATE TABLE IF NOT EXISTS admin_two_factor_codes (
        account_id text,
        code_hash text,
        id text,
        expires_at timestamp,
        used boolean,
        created_at timestamp,
        PRIMARY KEY ((account_id), code_hash)
    )`,
	`CREATE TABLE IF NOT EXISTS admin_password_reset_tokens (
        token_hash text PRIMARY KEY,
        account_id text,
        expires_at timestamp,
        created_at timestamp
    )`,
	`CREATE TABLE IF NOT EXISTS admin_reset_by_account (
        account_id text PRIMARY KEY,
        token_hash text
    )`,
}
