// Package redis implements job.Store on Redis using go-redis/v9.
//
// Each job is a Hash. Sorted Sets index jobs by status (and status plus
// type), by owning entity, by processing deadline and by pending expiry.
// Writes run as Lua scripts so that the compare-and-set on status and the
// index maintenance apply atomically. Deadline queries read the server
// clock with TIME so that every reaper agrees on "now".
//
// The scripts touch index keys that are not declared up front, so the
// store targets a standalone or sentinel-managed Redis rather than
// Redis Cluster.
//
//	client := goredis.NewClient(&goredis.Options{Addr: "localhost:6379"})
//	s := redisstore.New(client)
//	if err := s.Ping(ctx); err != nil { ... }
package redis
