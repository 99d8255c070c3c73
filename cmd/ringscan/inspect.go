package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/pithecene-io/ringscan/export"
	exports3 "github.com/pithecene-io/ringscan/export/s3"
)

// s3Opener builds the store behind an S3 export.
type s3Opener func(ctx context.Context, cfg exports3.ClientConfig, store exports3.Config) (export.Store, error)

func openS3(ctx context.Context, cfg exports3.ClientConfig, store exports3.Config) (export.Store, error) {
	return exports3.NewStore(ctx, cfg, store)
}

func newInspectCmd(open s3Opener) *cobra.Command {
	var (
		bucket string
		client exports3.ClientConfig
		root   string
	)
	cmd := &cobra.Command{
		Use:   "inspect (<dir> [prefix] | --bucket <bucket> [prefix])",
		Short: "Print the manifest of an export in a directory or an S3 bucket",
		Long: `Print the manifest of a committed export.

With a directory, the first argument is the export root and the optional
second one the export prefix. With --bucket, the only argument is the prefix.
S3 credentials come from the default AWS chain unless the access key flags
are set.`,
		Args: func(cmd *cobra.Command, args []string) error {
			if bucket != "" {
				return cobra.MaximumNArgs(1)(cmd, args)
			}
			return cobra.RangeArgs(1, 2)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			var (
				store    export.Store
				location string
				prefix   string
				err      error
			)
			if bucket != "" {
				store, err = open(ctx, client, exports3.Config{Bucket: bucket, Prefix: root})
				location = "s3://" + bucket
				if len(args) == 1 {
					prefix = args[0]
				}
			} else {
				store, err = export.NewFS(args[0])
				location = args[0]
				if len(args) == 2 {
					prefix = args[1]
				}
			}
			if err != nil {
				return err
			}

			exp, err := export.Open(ctx, store, prefix)
			if export.IsNotCommitted(err) {
				return fmt.Errorf("no committed export at %s (missing %s)", location, export.ManifestFile)
			}
			if err != nil {
				return err
			}
			return printManifest(cmd.OutOrStdout(), exp.Manifest)
		},
	}

	f := cmd.Flags()
	f.StringVar(&bucket, "bucket", "", "read the export from this S3 bucket")
	f.StringVar(&root, "s3-prefix", "", "key prefix the export store was rooted at")
	f.StringVar(&client.Region, "region", "us-east-1", "S3 region")
	f.StringVar(&client.Endpoint, "endpoint", "", "S3-compatible endpoint URL")
	f.BoolVar(&client.UsePathStyle, "path-style", false, "use path-style addressing")
	f.StringVar(&client.AccessKeyID, "access-key-id", "", "static access key ID")
	f.StringVar(&client.SecretAccessKey, "secret-access-key", "", "static secret access key")
	return cmd
}

func printManifest(out io.Writer, m *export.Manifest) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "run:\t%s\n", m.RunID)
	fmt.Fprintf(tw, "table:\t%s.%s\n", m.Keyspace, m.Table)
	fmt.Fprintf(tw, "created:\t%s\n", m.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(tw, "format:\t%s v%s, codec %s, compressor %s\n", m.SchemaName, m.FormatVersion, m.Codec, m.Compressor)
	fmt.Fprintf(tw, "rows:\t%d\n", m.RowCount)
	fmt.Fprintf(tw, "files:\t%d\n", len(m.Files))
	for _, f := range m.Files {
		fmt.Fprintf(tw, "  %s\t%d rows\t%d bytes\n", f.Path, f.Rows, f.SizeBytes)
	}
	return tw.Flush()
}
