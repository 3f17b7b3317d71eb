/*
Package redisstats publishes worker pool counters to Redis.

A Publisher takes a snapshot of a pool's Stats and writes it to a hash under
"<prefix>:<name>:stats", refreshing a TTL on every write so a crashed process
stops being reported once the key expires. The ID of each publishing process
is kept in the "<prefix>:<name>:instances" set.

	rdb := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	pub, err := redisstats.NewPublisher(rdb, pool, redisstats.Config{
		Interval: time.Second,
	})
	if err != nil {
		log.Fatal(err)
	}
	go pub.Run(ctx)

Another process reads the latest snapshot with Load:

	snap, err := redisstats.Load(ctx, rdb, "taskpool", "frames")

Load returns an error wrapping errors.ErrNotFound when nothing has been
published or the snapshot has expired.
*/
package redisstats
