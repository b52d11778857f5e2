// Package eventlog provides storage backends and forwarding sinks for
// security events produced by the engine.
//
// Stores ([MemoryStore], [GormStore], [ElasticStore]) implement audit.Store
// and answer newest-first queries. Sinks ([KafkaSink], [JSONWriterSink])
// only forward. [MultiSink] fans one event out to several destinations.
package eventlog
