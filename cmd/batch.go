package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/artsearch-ingest/internal/ingest"
)

func newBatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Create and review import batches",
	}
	cmd.AddCommand(newBatchCreateCmd())
	cmd.AddCommand(newBatchDecisionCmd("approve", "Approve a batch waiting for review"))
	cmd.AddCommand(newBatchDecisionCmd("abandon", "Abandon a batch waiting for review"))
	cmd.AddCommand(newBatchShowCmd())
	return cmd
}

func newBatchCreateCmd() *cobra.Command {
	var (
		sourceID string
		kind     string
		url      string
	)
	cmd := &cobra.Command{
		Use:   "create [file]",
		Short: "Create a batch from a local file or a URL",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if sourceID == "" {
				return errors.New("--source is required")
			}
			k := ingest.BatchKind(kind)
			var b ingest.ImportBatch
			switch {
			case url != "" && len(args) == 0:
				b, err = appInstance.Creator().CreateFromURL(cmd.Context(), sourceID, k, url)
			case url == "" && len(args) == 1:
				b, err = createFromFile(cmd, appInstance, sourceID, k, args[0])
			default:
				return errors.New("pass either a file or --url")
			}
			if err != nil {
				return fmt.Errorf("create batch: %w", err)
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), b.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&sourceID, "source", "", "source id the batch belongs to")
	cmd.Flags().StringVar(&kind, "kind", string(ingest.KindMetadata), "metadata or images")
	cmd.Flags().StringVar(&url, "url", "", "download the batch file from this URL")
	return cmd
}

func createFromFile(cmd *cobra.Command, appInstance App, sourceID string, kind ingest.BatchKind, path string) (ingest.ImportBatch, error) {
	f, err := os.Open(path)
	if err != nil {
		return ingest.ImportBatch{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return appInstance.Creator().Create(cmd.Context(), kind, sourceID, filepath.Base(path), f)
}

func newBatchDecisionCmd(action, short string) *cobra.Command {
	return &cobra.Command{
		Use:   action + " <source>/<timestamp>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			decide := appInstance.Machine().Approve
			if action == "abandon" {
				decide = appInstance.Machine().Abandon
			}
			b, err := decide(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("%s batch: %w", action, err)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", b.ID, b.State)
			return nil
		},
	}
}

// batchSummary is the printable view of a batch.
type batchSummary struct {
	ID       string                `json:"id" yaml:"id"`
	Source   string                `json:"source" yaml:"source"`
	Kind     ingest.BatchKind      `json:"kind" yaml:"kind"`
	FileName string                `json:"fileName" yaml:"fileName"`
	State    ingest.State          `json:"state" yaml:"state"`
	Error    string                `json:"error,omitempty" yaml:"error,omitempty"`
	Counts   ingest.Counts         `json:"counts" yaml:"counts"`
	Items    []ingest.ImportResult `json:"items,omitempty" yaml:"items,omitempty"`
}

func newBatchShowCmd() *cobra.Command {
	var (
		output string
		items  bool
	)
	cmd := &cobra.Command{
		Use:   "show <source>/<timestamp>",
		Short: "Print a batch and its item counts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			b, err := appInstance.Store().GetBatch(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("load batch: %w", err)
			}
			summary := batchSummary{
				ID:       b.ID,
				Source:   b.Source,
				Kind:     b.Kind,
				FileName: b.FileName,
				State:    b.State,
				Error:    b.Error,
				Counts:   b.Counts(),
			}
			if items {
				summary.Items = b.Results
			}
			return writeSummary(cmd.OutOrStdout(), output, summary)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "yaml", "yaml or json")
	cmd.Flags().BoolVar(&items, "items", false, "include per-item results")
	return cmd
}

func writeSummary(w io.Writer, format string, v any) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("encode json: %w", err)
		}
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}
		if err := enc.Close(); err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
	return nil
}
