package common

// DefaultChunkSize is the chunk size used by the client when splitting a file
// (5 MiB).
const DefaultChunkSize = 5 * 1024 * 1024

// PasswordHeaderName is the gRPC metadata key that may carry the artifact
// password instead of the request body.
const PasswordHeaderName = "x-artifact-password"
