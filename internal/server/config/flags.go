package config

import (
	"flag"
	"io"
	"os"

	"github.com/dmitrijs2005/gophdrop/internal/flagx"
)

// parseFlags populates Config fields from command-line flags.
//
// Supported flags:
//
//	-a string                HTTP bind address (e.g., ":5001")
//	-grpc string             gRPC bind address (e.g., ":50051")
//	-frontend string         CORS origin, empty allows any
//	-store string            session store: memory, postgres or badger
//	-d string                PostgreSQL DSN
//	-badger-dir string       badger data directory
//	-blob string             blob backend: fs or s3
//	-staging-dir string      fs directory for staged chunks
//	-final-dir string        fs directory for merged artifacts
//	-u string                S3 root user
//	-p string                S3 root password
//	-b string                S3 bucket name
//	-g string                S3 region
//	-e string                S3 base endpoint
//	-action-log string       action log file, empty disables it
//	-max-chunk-bytes int     per-chunk size limit, 0 disables it
//	-max-chunks int          upper bound for totalChunks, 0 disables it
//	-shutdown-timeout dur    graceful shutdown budget
//	-log-level string        debug, info, warn or error
//
// Only these flags are read from os.Args; -c and -env are handled by the
// JSON and dotenv layers.
func parseFlags(config *Config) error {
	fs := flag.NewFlagSet("main", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&config.EndpointAddrHTTP, "a", config.EndpointAddrHTTP, "HTTP address and port to run server")
	fs.StringVar(&config.EndpointAddrGRPC, "grpc", config.EndpointAddrGRPC, "gRPC address and port to run server")
	fs.StringVar(&config.FrontendURL, "frontend", config.FrontendURL, "allowed CORS origin")
	fs.StringVar(&config.SessionStore, "store", config.SessionStore, "session store")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.BadgerDir, "badger-dir", config.BadgerDir, "badger directory")
	fs.StringVar(&config.BlobBackend, "blob", config.BlobBackend, "blob backend")
	fs.StringVar(&config.StagingDir, "staging-dir", config.StagingDir, "staging directory")
	fs.StringVar(&config.FinalDir, "final-dir", config.FinalDir, "final artifact directory")
	fs.StringVar(&config.S3RootUser, "u", config.S3RootUser, "S3 root user")
	fs.StringVar(&config.S3RootPassword, "p", config.S3RootPassword, "S3 root password")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 bucket")
	fs.StringVar(&config.S3Region, "g", config.S3Region, "S3 region")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")
	fs.StringVar(&config.ActionLogPath, "action-log", config.ActionLogPath, "action log path")
	fs.Int64Var(&config.MaxChunkBytes, "max-chunk-bytes", config.MaxChunkBytes, "max chunk size in bytes")
	fs.IntVar(&config.MaxTotalChunks, "max-chunks", config.MaxTotalChunks, "max chunks per upload")
	fs.DurationVar(&config.ShutdownTimeout, "shutdown-timeout", config.ShutdownTimeout, "graceful shutdown timeout")
	fs.StringVar(&config.LogLevel, "log-level", config.LogLevel, "log level")

	var names []string
	fs.VisitAll(func(f *flag.Flag) {
		names = append(names, "-"+f.Name, "--"+f.Name)
	})

	// Filter args to include only the flags handled here.
	return fs.Parse(flagx.FilterArgs(os.Args[1:], names))
}
