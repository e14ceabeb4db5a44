package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/stagegrade/internal/domain"
	"github.com/felixgeelhaar/stagegrade/internal/exercise"
	"github.com/felixgeelhaar/stagegrade/internal/score"
)

var errInvalid = errors.New("invalid exercise files")

func loadExercise(path string) (*domain.Exercise, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return exercise.Parse(data)
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>...",
		Short: "Check exercise files for structural errors",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			failed := 0
			for _, path := range args {
				ex, err := loadExercise(path)
				if err != nil {
					failed++
					fmt.Fprintf(out, "FAIL %s: %v\n", path, err)
					continue
				}
				kinds := map[domain.Kind]int{}
				for _, st := range ex.Stages() {
					kinds[st.Kind]++
				}
				fmt.Fprintf(out, "ok   %s: exercise %d %q, %d stages (mc %d, fillin %d, r %d)\n",
					path, ex.ID, ex.Name, len(ex.StageIDs()),
					kinds[domain.KindMC], kinds[domain.KindFillIn], kinds[domain.KindR])
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d: %w", failed, len(args), errInvalid)
			}
			return nil
		},
	}
}

func newFmtCmd() *cobra.Command {
	var write bool
	cmd := &cobra.Command{
		Use:   "fmt <file>...",
		Short: "Rewrite exercise files in canonical form",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, path := range args {
				ex, err := loadExercise(path)
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				data, err := exercise.Marshal(ex)
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				if !write {
					cmd.OutOrStdout().Write(data)
					continue
				}
				old, _ := os.ReadFile(path)
				if bytes.Equal(old, data) {
					continue
				}
				if err := os.WriteFile(path, data, 0644); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), path)
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&write, "write", "w", false, "write result to the source file instead of stdout")
	return cmd
}

func newWeightsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "weights <file>",
		Short: "Show stage weights and the weight still ahead on the default path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ex, err := loadExercise(args[0])
			if err != nil {
				return err
			}
			suffix := score.ComputeSuffix(ex)
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "STAGE\tKIND\tNAME\tWEIGHT\tAHEAD")
			for _, st := range ex.Stages() {
				mark := ""
				if st.ID == ex.StartStage {
					mark = "*"
				}
				fmt.Fprintf(tw, "%d%s\t%s\t%s\t%g\t%g\n", st.ID, mark, st.Kind, st.InternalName, st.Weight, suffix.Of(st.ID))
			}
			return tw.Flush()
		},
	}
}
