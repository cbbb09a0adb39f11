package redis

import goredis "github.com/redis/go-redis/v9"

// All timestamps inside Redis are unix milliseconds so Lua can compare them.

var createIfAbsentScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 or redis.call('EXISTS', KEYS[2]) == 1 then
    return 0
end
redis.call('HSET', KEYS[1], unpack(ARGV, 2))
redis.call('SET', KEYS[2], ARGV[1])
return 1
`)

var updateIfExistsScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
    return 0
end
redis.call('HSET', KEYS[1], unpack(ARGV))
return 1
`)

var recordFailedLoginScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
    return false
end
local attempts = redis.call('HINCRBY', KEYS[1], 'failed_login_attempts', 1)
if attempts >= tonumber(ARGV[1]) then
    redis.call('HSET', KEYS[1], 'locked_until', ARGV[2])
end
redis.call('HSET', KEYS[1], 'updated_at', ARGV[3])
return {attempts, redis.call('HGET', KEYS[1], 'locked_until') or ''}
`)

var clearExpiredLockScript = goredis.NewScript(`
local locked = redis.call('HGET', KEYS[1], 'locked_until')
if not locked or locked == '' then
    return 0
end
if tonumber(locked) > tonumber(ARGV[1]) then
    return 0
end
redis.call('HSET', KEYS[1], 'failed_login_attempts', 0, 'locked_until', '', 'updated_at', ARGV[1])
return 1
`)

// KEYS: session, account sessions set, expiry index
// ARGV: token hash, ttl ms, expires_at ms, field pairs...
var createSessionScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
    return 0
end
redis.call('HSET', KEYS[1], unpack(ARGV, 4))
redis.call('PEXPIRE', KEYS[1], ARGV[2])
redis.call('SADD', KEYS[2], ARGV[1])
redis.call('ZADD', KEYS[3], ARGV[3], ARGV[1])
return 1
`)

var touchSessionScript = goredis.NewScript(`
local expires = redis.call('HGET', KEYS[1], 'expires_at')
if not expires or tonumber(expires) <= tonumber(ARGV[1]) then
    return 0
end
local last = tonumber(redis.call('HGET', KEYS[1], 'last_activity'))
if tonumber(ARGV[1]) > last then
    redis.call('HSET', KEYS[1], 'last_activity', ARGV[1])
end
return 1
`)

// KEYS: session, expiry index. ARGV: token hash, account sessions key prefix
var deleteSessionScript = goredis.NewScript(`
local account = redis.call('HGET', KEYS[1], 'account_id')
if account then
    redis.call('SREM', ARGV[2] .. account, ARGV[1])
end
redis.call('ZREM', KEYS[2], ARGV[1])
return redis.call('DEL', KEYS[1])
`)

// KEYS: account sessions set, expiry index. ARGV: session key prefix, hash to keep
var revokeSessionsScript = goredis.NewScript(`
local n = 0
for _, hash in ipairs(redis.call('SMEMBERS', KEYS[1])) do
    if hash ~= ARGV[2] then
        n = n + redis.call('DEL', ARGV[1] .. hash)
        redis.call('ZREM', KEYS[2], hash)
        redis.call('SREM', KEYS[1], hash)
    end
end
return n
`)

// KEYS: expiry index. ARGV: now ms, session key prefix, account sessions key prefix
var sweepSessionsScript = goredis.NewScript(`
local n = 0
for _, hash in ipairs(redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])) do
    local key = ARGV[2] .. hash
    local account = redis.call('HGET', key, 'account_id')
    if account then
        redis.call('SREM', ARGV[3] .. account, hash)
    end
    n = n + redis.call('DEL', key)
    redis.call('ZREM', KEYS[1], hash)
end
return n
`)

// KEYS: code, account codes set, expiry index. ARGV: code hash, ttl ms, expires_at ms, member, field pairs...
var createCodeScript = goredis.NewScript(`
redis.call('HSET', KEYS[1], unpack(ARGV, 5))
redis.call('PEXPIRE', KEYS[1], ARGV[2])
redis.call('SADD', KEYS[2], ARGV[1])
redis.call('ZADD', KEYS[3], ARGV[3], ARGV[4])
return 1
`)

var consumeCodeScript = goredis.NewScript(`
local expires = redis.call('HGET', KEYS[1], 'expires_at')
if not expires then
    return false
end
if redis.call('HGET', KEYS[1], 'used') == '1' or tonumber(expires) <= tonumber(ARGV[1]) then
    return false
end
redis.call('HSET', KEYS[1], 'used', '1')
return redis.call('HGETALL', KEYS[1])
`)

// KEYS: account codes set. ARGV: code key prefix for the account
var invalidateCodesScript = goredis.NewScript(`
for _, hash in ipairs(redis.call('SMEMBERS', KEYS[1])) do
    redis.call('DEL', ARGV[1] .. hash)
end
return redis.call('DEL', KEYS[1])
`)

// KEYS: expiry index. ARGV: now ms, code key prefix, account codes key prefix
var sweepCodesScript = goredis.NewScript(`
local n = 0
for _, member in ipairs(redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])) do
    local account, hash = string.match(member, '^([^:]+):(.+)$')
    n = n + redis.call('DEL', ARGV[2] .. member)
    if account then
        redis.call('SREM', ARGV[3] .. account, hash)
    end
    redis.call('ZREM', KEYS[1], member)
end
return n
`)

// KEYS: reset token, account pointer, expiry index
// ARGV: token hash, ttl ms, expires_at ms, reset key prefix, field pairs...
var replaceResetScript = goredis.NewScript(`
local previous = redis.call('GET', KEYS[2])
if previous then
    redis.call('DEL', ARGV[4] .. previous)
    redis.call('ZREM', KEYS[3], previous)
end
redis.call('HSET', KEYS[1], unpack(ARGV, 5))
redis.call('PEXPIRE', KEYS[1], ARGV[2])
redis.call('SET', KEYS[2], ARGV[1], 'PX', ARGV[2])
redis.call('ZADD', KEYS[3], ARGV[3], ARGV[1])
return 1
`)

// The DEL of the token is the single point where a redemption wins.
// KEYS: reset token, reset expiry index, session expiry index
// ARGV: now ms, new hash, key prefix, token hash
var redeemResetScript = goredis.NewScript(`
local account = redis.call('HGET', KEYS[1], 'account_id')
if not account then
    return false
end
local expires = tonumber(redis.call('HGET', KEYS[1], 'expires_at'))
redis.call('DEL', KEYS[1])
redis.call('ZREM', KEYS[2], ARGV[4])
if expires <= tonumber(ARGV[1]) then
    return false
end
local accountKey = ARGV[3] .. 'account:' .. account
if redis.call('EXISTS', accountKey) == 0 then
    return false
end
redis.call('DEL', ARGV[3] .. 'account_reset:' .. account)
redis.call('HSET', accountKey, 'password_hash', ARGV[2], 'failed_login_attempts', 0, 'locked_until', '', 'updated_at', ARGV[1])

local sessions = ARGV[3] .. 'account_sessions:' .. account
for _, hash in ipairs(redis.call('SMEMBERS', sessions)) do
    redis.call('DEL', ARGV[3] .. 'session:' .. hash)
    redis.call('ZREM', KEYS[3], hash)
end
redis.call('DEL', sessions)

local codes = ARGV[3] .. 'account_two_factor:' .. account
for _, hash in ipairs(redis.call('SMEMBERS', codes)) do
    redis.call('DEL', ARGV[3] .. 'two_factor:' .. account .. ':' .. hash)
end
redis.call('DEL', codes)
return account
`)

// KEYS: expiry index. ARGV: now ms, reset key prefix, account pointer prefix
var sweepResetScript = goredis.NewScript(`
local n = 0
for _, hash in ipairs(redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])) do
    local key = ARGV[2] .. hash
    local account = redis.call('HGET', key, 'account_id')
    if account and redis.call('GET', ARGV[3] .. account) == hash then
        redis.call('DEL', ARGV[3] .. account)
    end
    n = n + redis.call('DEL', key)
    redis.call('ZREM', KEYS[1], hash)
end
return n
`)
