// Package replication replicates PostgreSQL tables into a PostgreSQL target.
//
// A task is described by a [config.Config] and executed through one of three
// strategies:
//
//   - full_load copies every configured table once through a Parquet staging
//     file, running the table's filters and transformations on the way.
//   - cdc runs a producer that captures committed changes from a logical
//     replication slot and publishes them to RabbitMQ, and a consumer that
//     applies them to the target in default, upsert or scd2 mode.
//   - full_load_and_cdc runs the full load to completion, then cdc.
//
// # Basic usage
//
//	cfg, err := config.Load("task.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	r, err := replication.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer r.Close()
//	err = r.Strategy().Execute(ctx)
//
// The producer and the consumer can also run as separate processes with
// [Replicator.CDC] and [RoleProducer] or [RoleConsumer]. They share nothing
// but the broker topology and the task state record in the metadata store.
//
// # Metrics
//
// Pass [WithPrometheusRegisterer] to register publisher, consumer and apply
// counters under the "data_replication" namespace.
package replication
