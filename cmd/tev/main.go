// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"os"

	"github.com/datawire/dlib/dgroup"
	"github.com/datawire/dlib/dlog"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/steamrec/tev/lib/textui"
)

type logLevelFlag struct {
	logrus.Level
}

func (lvl *logLevelFlag) Type() string { return "loglevel" }
func (lvl *logLevelFlag) Set(str string) error {
	var err error
	lvl.Level, err = logrus.ParseLevel(str)
	return err
}

var _ pflag.Value = (*logLevelFlag)(nil)

// withLogging wraps run so that every subcommand gets a dlog-backed
// context installed from the --verbosity flag, and runs inside a
// signal-handling dgroup.
func withLogging(levelFlag *logLevelFlag, run func(ctx context.Context, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		logger := logrus.New()
		logger.SetLevel(levelFlag.Level)
		ctx := dlog.WithLogger(cmd.Context(), dlog.WrapLogrus(logger))

		grp := dgroup.NewGroup(ctx, dgroup.GroupConfig{
			EnableSignalHandling: true,
		})
		grp.Go("main", func(ctx context.Context) error {
			return run(ctx, args)
		})
		return grp.Wait()
	}
}

func main() {
	levelFlag := logLevelFlag{Level: logrus.InfoLevel}

	root := &cobra.Command{
		Use:           "tev {[flags]|SUBCOMMAND}",
		Short:         "Browse and verify Steam game backups",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.PersistentFlags().Var(&levelFlag, "verbosity", "set the verbosity")

	root.AddCommand(newInspectCommand(&levelFlag))
	root.AddCommand(newBackupCommand(&levelFlag))

	if err := root.ExecuteContext(context.Background()); err != nil {
		textui.Fprintf(os.Stderr, "%v: error: %v\n", root.CommandPath(), err)
		os.Exit(1)
	}
}
