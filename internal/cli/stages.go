package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/YuminosukeSato/sipredict/internal/config"
	"github.com/YuminosukeSato/sipredict/internal/pipeline"
	"github.com/YuminosukeSato/sipredict/pkg/log"
	"github.com/YuminosukeSato/sipredict/report"
	"github.com/YuminosukeSato/sipredict/store"
)

// session is what every stage command needs: the loaded configuration,
// an open store and a runner bound to both.
type session struct {
	cfg    *config.Config
	store  store.Store
	runner *pipeline.Runner
}

func (s *session) Close() error {
	return s.store.Close()
}

func openSession() (*session, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}
	if err := log.SetupLogger(cfg.Log.Level, cfg.Log.Format, nil); err != nil {
		return nil, err
	}
	st, err := store.Open(cfg.Store.Backend, cfg.Store.DSN)
	if err != nil {
		return nil, err
	}
	r, err := pipeline.New(cfg, st)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	return &session{cfg: cfg, store: st, runner: r}, nil
}

// stageCommand wires one pipeline stage to a subcommand.
func stageCommand(name, short string, fn func(context.Context, *session) error) *cobra.Command {
	return &cobra.Command{
		Use:   name,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			s, err := openSession()
			if err != nil {
				return err
			}
			defer func() {
				if cerr := s.Close(); cerr != nil && err == nil {
					err = cerr
				}
			}()
			if err := fn(cmd.Context(), s); err != nil {
				return err
			}
			printDone(cmd.OutOrStdout(), name)
			return nil
		},
	}
}

var predictorsCmd = stageCommand(pipeline.StagePredictors,
	"Start a new run and build the predictor table from the exports",
	func(ctx context.Context, s *session) error { return s.runner.Predictors(ctx) })

var outcomesCmd = stageCommand(pipeline.StageOutcomes,
	"Derive ideation and action labels from the KSADS exports",
	func(ctx context.Context, s *session) error { return s.runner.Outcomes(ctx) })

var assembleCmd = stageCommand(pipeline.StageAssemble,
	"Join predictors and outcomes into the subject-level analysis table",
	func(ctx context.Context, s *session) error { return s.runner.Assemble(ctx) })

var splitCmd = stageCommand(pipeline.StageSplit,
	"Split subjects into train and test and fit the imputer",
	func(ctx context.Context, s *session) error { return s.runner.Split(ctx) })

var trainCmd = stageCommand(pipeline.StageTrain,
	"Balance, select features and train every model family",
	func(ctx context.Context, s *session) error { return s.runner.Train(ctx) })

var evaluateCmd = &cobra.Command{
	Use:   pipeline.StageEvaluate,
	Short: "Score the test set, calibrate thresholds and write the report",
	Args:  cobra.NoArgs,
	RunE:  reportRunE(pipeline.StageEvaluate, (*pipeline.Runner).Evaluate),
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run every stage in order under a new run",
	Args:  cobra.NoArgs,
	RunE:  reportRunE("run", (*pipeline.Runner).Run),
}

func reportRunE(name string, fn func(*pipeline.Runner, context.Context) (*report.Files, error)) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		s, err := openSession()
		if err != nil {
			return err
		}
		defer func() {
			if cerr := s.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}()
		out := cmd.OutOrStdout()
		if name == "run" {
			printHeader(out, "🧪 sipredict run")
		}
		files, err := fn(s.runner, cmd.Context())
		if err != nil {
			return err
		}
		printDone(out, name)
		printFiles(out, files)
		return nil
	}
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		printHeader(cmd.OutOrStdout(), "🏷️ sipredict Version")
		fmt.Fprintf(cmd.OutOrStdout(), "Version: %s\n", version)
	},
}
