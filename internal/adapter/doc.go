/*
Package adapter is the composition root that wires a concrete transport
(currently S3-backed) to the mirror core — directory tree, reconciler,
content cache, open-file registry — and a platform FUSE mount.

Start brings components up in dependency order: connection-managed S3
backend, resilient transport, tree + initial full rebuild, content cache,
open-file registry, FUSE mount, background refresh scheduler, and
(optionally, when configured) a local HTTP status endpoint. Stop unwinds
in reverse.
*/
package adapter
