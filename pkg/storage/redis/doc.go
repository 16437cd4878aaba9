// Package redis implements core.Storage on Redis.
//
// Every transition runs as one Lua script, so concurrent workers, producers
// and schedulers never observe a half-applied move. Per queue the store uses
// these keys under "<prefix>:<queue>:":
//
//	id                 numeric id counter
//	meta               queue settings (paused flag, priority counter)
//	wait, paused       lists, oldest job on the right
//	active             list of leased jobs
//	prioritized        sorted set scored by priority then insertion
//	delayed            sorted set scored by due time in milliseconds
//	waiting-children   sorted set of parents with pending children
//	completed, failed  sorted sets scored by finish time
//	marker             wakes blocked workers
//	<id>               job hash
//	<id>:lock          lease token, expires with the lease
//	<id>:dependencies  pending children of a parent
//	<id>:processed     return values of completed children
//	<id>:tombstone     left for a day when a parent is auto-removed
//
// Events are published on "<prefix>:<queue>:events" and never stored.
//
// Scripts derive keys of flow parents in other queues at run time, so the
// store expects a single Redis node or a client that routes all queues to
// one slot.
//
// Usage:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	s := redisstore.New(client)
//	if err := s.Ping(ctx); err != nil { ... }
package redis
