package redis

import "github.com/redis/go-redis/v9"

// createScript stores a job Hash unless it exists and indexes it.
//
// KEYS: job hash, created zset, eligible zset
// ARGV: job id, created ms, run_at ms, eligible flag, field/value pairs...
var createScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return 0
end
redis.call('HSET', KEYS[1], unpack(ARGV, 5))
redis.call('ZADD', KEYS[2], ARGV[2], ARGV[1])
if ARGV[4] == '1' then
	redis.call('ZADD', KEYS[3], ARGV[3], ARGV[1])
end
return 1
`)

// acquireScript locks a job that is neither locked nor complete and
// returns the locked Hash as a flat field/value array. An empty array
// means the job was not acquired.
//
// KEYS: job hash, eligible zset, locked zset
// ARGV: job id, lock id, now (RFC3339Nano), now ms
var acquireScript = redis.NewScript(`
local st = redis.call('HMGET', KEYS[1], 'id', 'locked', 'complete')
if not st[1] or st[2] == '1' or st[3] == '1' then
	return {}
end
redis.call('HSET', KEYS[1], 'locked', '1', 'locked_at', ARGV[3], 'lock_id', ARGV[2], 'updated_at', ARGV[3])
redis.call('ZREM', KEYS[2], ARGV[1])
redis.call('ZADD', KEYS[3], ARGV[4], ARGV[1])
return redis.call('HGETALL', KEYS[1])
`)

// abandonScript unlocks a job whose acquire could not hand it back,
// provided lock id still holds it, and makes it eligible again.
//
// KEYS: job hash, eligible zset, locked zset
// ARGV: job id, lock id
var abandonScript = redis.NewScript(`
local st = redis.call('HMGET', KEYS[1], 'locked', 'complete', 'lock_id', 'run_at_ms')
if st[1] ~= '1' or st[2] == '1' or st[3] ~= ARGV[2] then
	return 0
end
redis.call('HSET', KEYS[1], 'locked', '0', 'locked_at', '', 'lock_id', '')
redis.call('ZREM', KEYS[3], ARGV[1])
redis.call('ZADD', KEYS[2], st[4], ARGV[1])
return 1
`)

// releaseScript writes the outcome and unlocks, provided the caller still
// holds the lock and the job is not complete.
//
// KEYS: job hash, eligible zset, locked zset
// ARGV: job id, lock id, run_at ms, complete flag, field/value pairs...
var releaseScript = redis.NewScript(`
local st = redis.call('HMGET', KEYS[1], 'locked', 'complete', 'lock_id')
if st[1] ~= '1' or st[2] == '1' or st[3] ~= ARGV[2] then
	return 0
end
redis.call('HSET', KEYS[1], 'locked', '0', 'locked_at', '', 'lock_id', '', unpack(ARGV, 5))
redis.call('ZREM', KEYS[3], ARGV[1])
if ARGV[4] ~= '1' then
	redis.call('ZADD', KEYS[2], ARGV[3], ARGV[1])
end
return 1
`)

// reclaimScript unlocks incomplete jobs locked before the cutoff.
//
// KEYS: locked zset, eligible zset
// ARGV: cutoff ms, job key prefix, now (RFC3339Nano)
var reclaimScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', '(' .. ARGV[1])
local n = 0
for _, id in ipairs(ids) do
	local key = ARGV[2] .. id
	local st = redis.call('HMGET', key, 'locked', 'complete', 'run_at_ms')
	if st[1] == '1' and st[2] ~= '1' then
		redis.call('HSET', key, 'locked', '0', 'locked_at', '', 'lock_id', '', 'updated_at', ARGV[3])
		redis.call('ZADD', KEYS[2], st[3], id)
		n = n + 1
	end
	redis.call('ZREM', KEYS[1], id)
end
return n
`)
