/*
Package types holds the object metadata record (ObjectInfo) shared by the
S3 backend and the transport that lists objects through it. It carries no
interfaces and no behavior — just the shape internal/storage/s3 and
internal/transport/s3transport pass around.
*/
package types
