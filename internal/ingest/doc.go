// Package ingest feeds identities from source connectors into the store.
//
// Each run is guarded by the source's sync watermark: a run that finds the
// lock held is skipped, a successful run records the connector's next cursor,
// and a failed run records its error so the next run can take over. Record
// level upsert failures are counted and logged without failing the run.
package ingest
