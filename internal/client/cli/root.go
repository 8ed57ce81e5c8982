// Package cli implements the gophdrop command-line client: upload, resume,
// download and status against the HTTP API.
package cli

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/dmitrijs2005/gophdrop/internal/client/client"
	"github.com/dmitrijs2005/gophdrop/internal/client/config"
	"github.com/dmitrijs2005/gophdrop/internal/shared"
	"github.com/spf13/cobra"
)

const passwordEnv = "GOPHDROP_PASSWORD"

type App struct {
	config *config.Config
	client *client.Client
	out    io.Writer

	configPath string
	password   string
	flags      config.Config
}

// NewRootCmd builds the command tree. out receives user-facing output.
func NewRootCmd(out io.Writer) *cobra.Command {
	app := &App{out: out}

	root := &cobra.Command{
		Use:   "gophdrop",
		Short: "Upload and download password-protected files in chunks",
		Long: `gophdrop splits a file into chunks, uploads them in parallel and asks
the server to merge them. The password both protects the download and keys
the client-side transform applied to the bytes.

Examples:
  # Upload a file
  gophdrop upload ./video.mp4

  # Finish an interrupted upload
  gophdrop resume <file-id> ./video.mp4

  # Download into ./downloads
  gophdrop download <file-id>

  # Inspect progress
  gophdrop status <file-id>`,
		SilenceUsage:      true,
		PersistentPreRunE: app.setup,
	}
	root.SetOut(out)
	root.SetErr(out)

	pf := root.PersistentFlags()
	pf.StringVarP(&app.configPath, "config", "c", "", "JSON config file")
	pf.StringVarP(&app.flags.ServerURL, "server", "a", "", "server base URL")
	pf.StringVar(&app.password, "password", "", "password (default: $"+passwordEnv+" or prompt)")
	pf.Int64Var(&app.flags.ChunkSize, "chunk-size", 0, "chunk size in bytes")
	pf.IntVarP(&app.flags.Parallelism, "parallel", "j", 0, "concurrent chunk uploads")

	root.AddCommand(app.newUploadCmd(), app.newResumeCmd(), app.newDownloadCmd(), app.newStatusCmd())
	return root
}

func (a *App) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	f := cmd.Flags()
	if f.Changed("server") {
		cfg.ServerURL = a.flags.ServerURL
	}
	if f.Changed("chunk-size") {
		cfg.ChunkSize = a.flags.ChunkSize
	}
	if f.Changed("parallel") {
		cfg.Parallelism = a.flags.Parallelism
	}
	a.config = cfg
	a.client = client.New(cfg.ServerURL, client.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}))
	return nil
}

func (a *App) transferOptions() client.TransferOptions {
	return client.TransferOptions{
		ChunkSize:   a.config.ChunkSize,
		Parallelism: a.config.Parallelism,
		Progress: func(index, total int) {
			fmt.Fprintf(a.out, "chunk %d sent (%d in this batch)\n", index, total)
		},
	}
}

// withPassword resolves the password from the flag, the environment or a
// prompt, and wipes the prompted bytes after fn returns.
func (a *App) withPassword(prompt string, fn func(password string) error) error {
	if a.password != "" {
		return fn(a.password)
	}
	if pw := os.Getenv(passwordEnv); pw != "" {
		return fn(pw)
	}
	pw, err := GetPassword(a.out, prompt)
	if err != nil {
		return err
	}
	defer shared.WipeByteArray(pw)
	return fn(string(pw))
}

func (a *App) explain(err error) error {
	if err != nil && client.IsRetryable(err) {
		return fmt.Errorf("%w (safe to retry)", err)
	}
	return err
}

// Execute runs the CLI with os.Args.
func Execute(ctx context.Context) error {
	return NewRootCmd(os.Stdout).ExecuteContext(ctx)
}
