package redis

// releaseLease deletes KEYS[1] only while it still holds the owner token ARGV[1].
const releaseLease = `if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

// extendLease resets the TTL of KEYS[1] to ARGV[2] milliseconds while the
// owner token ARGV[1] still holds it.
const extendLease = `if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`

// fixedWindow counts a hit in the window keyed by KEYS[1]. The expiry is set
// in the same script as the first increment so a counter can never outlive
// its window.
const fixedWindow = `local count = redis.call("INCR", KEYS[1])
if count == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count`
