// Package redis implements store.Store on Redis with go-redis/v9.
//
// Each job is a Hash at delayed:job:{id}. Three Sorted Sets index it:
// jobs:created (creation order), jobs:eligible (unlocked and incomplete,
// scored by run_at) and jobs:locked (scored by locked_at, for reclaim).
// Create, acquire, release and reclaim are Lua scripts, which Redis runs
// atomically, so the acquire script is the mutual exclusion between
// replicas.
//
// The scripts address job keys they derive from IDs, so all keys must live
// on one node; use a single instance or a sentinel setup, not Cluster.
//
// The caller owns the client lifecycle:
//
//	client := goredis.NewClient(&goredis.Options{Addr: "localhost:6379"})
//	s := redisstore.New(client)
//	if err := s.Ping(ctx); err != nil { ... }
package redis
