package queue

import "github.com/redis/go-redis/v9"

// retainLua keeps the newest finished jobs of a set and deletes older hashes.
const retainLua = `
local function retain(set, jobKey, id, keep, now, jobPrefix)
  if keep <= 0 then
    redis.call("DEL", jobKey)
    return
  end
  redis.call("ZADD", set, now, id)
  local excess = redis.call("ZCARD", set) - keep
  if excess > 0 then
    local old = redis.call("ZRANGE", set, 0, excess - 1)
    for _, oid in ipairs(old) do
      redis.call("DEL", jobPrefix .. oid)
    end
    redis.call("ZREMRANGEBYRANK", set, 0, excess - 1)
  end
end
`

// KEYS: wait, job
// ARGV: id, data, attempts, backoff_base_ms, backoff_cap_ms, timeout_ms, remove_on_complete, remove_on_fail, now
var submitScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[2]) == 1 then
  return 0
end
redis.call("HSET", KEYS[2],
  "data", ARGV[2], "attempts", ARGV[3], "backoff_base", ARGV[4], "backoff_cap", ARGV[5],
  "timeout", ARGV[6], "remove_on_complete", ARGV[7], "remove_on_fail", ARGV[8],
  "created_at", ARGV[9], "failures", 0, "stalls", 0, "deliveries", 0, "state", "waiting")
redis.call("LPUSH", KEYS[1], ARGV[1])
return 1
`)

// KEYS: wait, delayed, active
// ARGV: job_prefix, now, lock_ms, token
var reserveScript = redis.NewScript(`
local due = redis.call("ZRANGEBYSCORE", KEYS[2], "-inf", ARGV[2])
for _, id in ipairs(due) do
  redis.call("ZREM", KEYS[2], id)
  redis.call("LPUSH", KEYS[1], id)
  redis.call("HSET", ARGV[1] .. id, "state", "waiting")
end
while true do
  local id = redis.call("RPOP", KEYS[1])
  if not id then
    return false
  end
  local jk = ARGV[1] .. id
  if redis.call("EXISTS", jk) == 1 then
    local deliveries = redis.call("HINCRBY", jk, "deliveries", 1)
    redis.call("HSET", jk, "token", ARGV[4], "state", "active", "reserved_at", ARGV[2])
    redis.call("ZADD", KEYS[3], tonumber(ARGV[2]) + tonumber(ARGV[3]), id)
    local h = redis.call("HMGET", jk, "data", "attempts", "failures", "stalls", "backoff_base", "backoff_cap", "timeout")
    return {id, tostring(deliveries), h[1], h[2], h[3], h[4], h[5], h[6], h[7]}
  end
end
`)

// KEYS: active, job
// ARGV: id, token, expiry_ms
var renewScript = redis.NewScript(`
if redis.call("HGET", KEYS[2], "token") ~= ARGV[2] then
  return 0
end
if not redis.call("ZSCORE", KEYS[1], ARGV[1]) then
  return 0
end
redis.call("ZADD", KEYS[1], ARGV[3], ARGV[1])
return 1
`)

// KEYS: active, completed, job
// ARGV: id, token, now, outcome, job_prefix
var completeScript = redis.NewScript(retainLua + `
if redis.call("HGET", KEYS[3], "token") ~= ARGV[2] then
  return 0
end
redis.call("ZREM", KEYS[1], ARGV[1])
redis.call("HDEL", KEYS[3], "token")
redis.call("HSET", KEYS[3], "state", "completed", "outcome", ARGV[4], "finished_at", ARGV[3])
local keep = tonumber(redis.call("HGET", KEYS[3], "remove_on_complete") or "0")
retain(KEYS[2], KEYS[3], ARGV[1], keep, ARGV[3], ARGV[5])
return 1
`)

// KEYS: active, delayed, dead, job
// ARGV: id, token, now, reason, retry, delay_ms, job_prefix
// Returns -1 when the lock is lost, 1 when the job was scheduled for retry, 0 when dead.
var failScript = redis.NewScript(retainLua + `
if redis.call("HGET", KEYS[4], "token") ~= ARGV[2] then
  return -1
end
redis.call("ZREM", KEYS[1], ARGV[1])
redis.call("HDEL", KEYS[4], "token")
local failures = redis.call("HINCRBY", KEYS[4], "failures", 1)
local attempts = tonumber(redis.call("HGET", KEYS[4], "attempts") or "1")
redis.call("HSET", KEYS[4], "failed_reason", ARGV[4])
if ARGV[5] == "1" and failures < attempts then
  redis.call("HSET", KEYS[4], "state", "delayed")
  redis.call("ZADD", KEYS[2], tonumber(ARGV[3]) + tonumber(ARGV[6]), ARGV[1])
  return 1
end
redis.call("HSET", KEYS[4], "state", "dead", "finished_at", ARGV[3])
local keep = tonumber(redis.call("HGET", KEYS[4], "remove_on_fail") or "0")
retain(KEYS[3], KEYS[4], ARGV[1], keep, ARGV[3], ARGV[7])
return 0
`)

// KEYS: wait, delayed, job
// ARGV: id
var cancelScript = redis.NewScript(`
local removed = redis.call("LREM", KEYS[1], 0, ARGV[1]) + redis.call("ZREM", KEYS[2], ARGV[1])
if removed > 0 then
  redis.call("DEL", KEYS[3])
  return 1
end
return 0
`)

// KEYS: active, wait, dead
// ARGV: now, max_stalls, job_prefix, reason
var stalledScript = redis.NewScript(retainLua + `
local expired = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
local requeued = {}
local dead = {}
for _, id in ipairs(expired) do
  redis.call("ZREM", KEYS[1], id)
  local jk = ARGV[3] .. id
  if redis.call("EXISTS", jk) == 1 then
    redis.call("HDEL", jk, "token")
    local stalls = redis.call("HINCRBY", jk, "stalls", 1)
    if stalls > tonumber(ARGV[2]) then
      redis.call("HSET", jk, "state", "dead", "failed_reason", ARGV[4], "finished_at", ARGV[1])
      local keep = tonumber(redis.call("HGET", jk, "remove_on_fail") or "0")
      retain(KEYS[3], jk, id, keep, ARGV[1], ARGV[3])
      table.insert(dead, id)
    else
      redis.call("HSET", jk, "state", "waiting")
      redis.call("RPUSH", KEYS[2], id)
      table.insert(requeued, id)
    end
  end
end
return {requeued, dead}
`)
