/*
Package config loads the mount's configuration from layered sources —
compiled-in defaults, an optional YAML file, OBJECTFS_* environment
variables, then command-line flags applied by cmd/objectfs-mount — in
that order of increasing precedence.

Configuration groups the remote mount's five recognized options
(RemoteConfig: server, username, password, app ID, API key) alongside
the ambient Global, Performance, Cache, Network, Security, Monitoring,
and Feature sections carried over from the wider ObjectFS configuration
surface. Validate checks the whole tree before Start uses it.
*/
package config
