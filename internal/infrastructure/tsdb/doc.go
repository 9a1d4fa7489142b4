// Package tsdb streams instrument property values to InfluxDB.
//
// This package manages:
//   - Connection to an InfluxDB v2 server with token authentication
//   - Non-blocking, batched writes of property measurements
//   - A sink goroutine that consumes instrument events
//
// Writes are fire-and-forget: points are buffered by the client and
// flushed in batches. Write failures are delivered asynchronously via
// the error callback, never to the caller.
//
// Usage:
//
//	client, err := tsdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	sink := tsdb.NewSink(client)
//	events, cancel := driver.Events().Subscribe(64)
//	defer cancel()
//	go sink.Run(ctx, events)
package tsdb
