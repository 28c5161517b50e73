/*
Package s3 stores mirror state (folder/file metadata records, cached
bodies, patch blobs) in a single S3 bucket behind a pooled, CargoShip-style
transport client, standing in for the "revision-mirrored remote" the rest
of the module is written against.

# Architecture

	┌─────────────────────────────────────────────┐
	│            internal/transport.Client          │
	│           (s3transport.Client adapts)        │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│                 s3.Backend                   │
	│   GetObject / PutObject / HeadObject / List   │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│      pooled *s3.Client (connection pool)      │
	└─────────────────────────────────────────────┘
	                      │
	              AWS S3 Service

Backend.HealthCheck backs pkg/recovery's reconnect loop; the backend itself
holds no retry or circuit-breaker logic — that lives one layer up, in
internal/transport/resilient, which wraps the transport.Client this
package's client feeds.
*/
package s3
