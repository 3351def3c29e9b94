package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/aikogroup/aiko-gpt-sub001/graph"
	"github.com/aikogroup/aiko-gpt-sub001/internal/pipeline"
	"github.com/aikogroup/aiko-gpt-sub001/internal/source"
)

func newStartCmd(a *app) *cobra.Command {
	var (
		company     string
		transcripts []string
		notesFile   string
		threadID    string
		settings    map[string]string
	)

	cmd := &cobra.Command{
		Use:   "start <pipeline>",
		Short: "Start a pipeline thread from interview material",
		Example: `  aiko start need_analysis --company "Acme Logistics" \
      --transcript interviews/cfo.txt --transcript interviews/ops.txt --notes notes.md`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := a.registry.Get(args[0])
			if err != nil {
				return fmt.Errorf("%w (available: %s)", err, strings.Join(a.registry.Names(), ", "))
			}
			ctx := cmd.Context()
			initial, err := readInitial(ctx, source.NewResolver(), company, transcripts, notesFile)
			if err != nil {
				return err
			}

			if err := a.open(ctx); err != nil {
				return err
			}
			e, err := a.engine(p)
			if err != nil {
				return err
			}

			cfg := a.runConfig(p.Name, settings)
			var snap graph.Snapshot
			if threadID != "" {
				snap, err = e.StartThread(ctx, threadID, initial, cfg)
			} else {
				snap, err = e.Start(ctx, initial, cfg)
			}
			if err != nil {
				return err
			}
			a.logger.Info("thread started",
				zap.String("thread_id", snap.ThreadID),
				zap.String("pipeline", p.Name),
				zap.String("status", string(snap.Status)))
			return printSnapshot(cmd.OutOrStdout(), snap)
		},
	}

	cmd.Flags().StringVar(&company, "company", "", "company name")
	cmd.Flags().StringArrayVarP(&transcripts, "transcript", "t", nil, "interview transcript file or URL (repeatable)")
	cmd.Flags().StringVar(&notesFile, "notes", "", "consultant notes file or URL")
	cmd.Flags().StringVar(&threadID, "thread", "", "thread ID to use instead of a generated one")
	cmd.Flags().StringToStringVar(&settings, "set", nil, "run configuration override, e.g. --set validated_threshold=3")
	return cmd
}

// readInitial builds the initial state from interview material. Transcripts
// and notes may be local paths or http(s) URLs.
func readInitial(ctx context.Context, r *source.Resolver, company string, transcriptRefs []string, notesRef string) (graph.Update, error) {
	var u graph.Update
	if company != "" {
		u.Set(pipeline.FieldCompanyName, company)
	}

	if len(transcriptRefs) > 0 {
		transcripts, err := r.LoadAll(ctx, transcriptRefs)
		if err != nil {
			return u, fmt.Errorf("read transcript: %w", err)
		}
		u.Set(pipeline.FieldTranscripts, transcripts)
	}

	if notesRef != "" {
		notes, err := r.Load(ctx, notesRef)
		if err != nil {
			return u, fmt.Errorf("read notes: %w", err)
		}
		u.Set(pipeline.FieldNotes, notes)
	}
	return u, nil
}
