package cli

import (
	"fmt"
	"strings"

	"github.com/dmitrijs2005/gophdrop/internal/filex"
	"github.com/spf13/cobra"
)

func (a *App) newUploadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "upload <file>",
		Short: "Upload a file and print its id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withPassword("Choose a password: ", func(pw string) error {
				id, err := a.client.UploadFile(cmd.Context(), args[0], pw, a.transferOptions())
				if err != nil {
					if id != "" {
						fmt.Fprintf(a.out, "upload incomplete; resume with: gophdrop resume %s %s\n", id, args[0])
					}
					return a.explain(err)
				}
				fmt.Fprintf(a.out, "File uploaded and merged successfully!\nid: %s\n", id)
				return nil
			})
		},
	}
}

func (a *App) newResumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume <file-id> <file>",
		Short: "Upload the missing chunks of an interrupted upload and finish it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withPassword("Password: ", func(pw string) error {
				if err := a.client.ResumeFile(cmd.Context(), args[0], args[1], pw, a.transferOptions()); err != nil {
					return a.explain(err)
				}
				fmt.Fprintf(a.out, "File uploaded and merged successfully!\nid: %s\n", args[0])
				return nil
			})
		},
	}
}

func (a *App) newDownloadCmd() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "download <file-id>",
		Short: "Download a file and reverse the transform",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := dir
			if target == "" {
				target = a.config.DownloadDir
			}
			out, err := filex.DownloadDir(target)
			if err != nil {
				return err
			}
			return a.withPassword("Password: ", func(pw string) error {
				path, err := a.client.DownloadFile(cmd.Context(), args[0], pw, out)
				if err != nil {
					return a.explain(err)
				}
				fmt.Fprintf(a.out, "saved %s\n", path)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&dir, "output-dir", "o", "", "directory to write into (default: config download_dir)")
	return cmd
}

func (a *App) newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <file-id>",
		Short: "Show an upload's progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.client.Status(cmd.Context(), args[0])
			if err != nil {
				return a.explain(err)
			}
			fmt.Fprintf(a.out, "id:       %s\nname:     %s\nstatus:   %s\nchunks:   %d/%d\n",
				st.SessionID, st.FileName, st.Status, st.StagedChunks, st.TotalChunks)
			if len(st.MissingChunks) > 0 {
				fmt.Fprintf(a.out, "missing:  %s\n", formatIndices(st.MissingChunks))
			}
			return nil
		},
	}
}

// formatIndices collapses sorted indices into ranges, e.g. "0-2,5".
func formatIndices(idx []int) string {
	var b strings.Builder
	for i := 0; i < len(idx); {
		j := i
		for j+1 < len(idx) && idx[j+1] == idx[j]+1 {
			j++
		}
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		if i == j {
			fmt.Fprintf(&b, "%d", idx[i])
		} else {
			fmt.Fprintf(&b, "%d-%d", idx[i], idx[j])
		}
		i = j + 1
	}
	return b.String()
}
