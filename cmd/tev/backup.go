// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/steamrec/tev/lib/mount"
	"github.com/steamrec/tev/lib/verify"
)

func newBackupCommand(levelFlag *logLevelFlag) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup {[flags]|SUBCOMMAND}",
		Short: "Verify or mount a Steam game backup",
	}
	cmd.AddCommand(newBackupVerifyCommand(levelFlag))
	cmd.AddCommand(newBackupMountCommand(levelFlag))
	return cmd
}

// baseDirOf accepts either the backup directory itself or any file
// inside it, resolving to the directory.
func baseDirOf(path string) (string, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if fi.IsDir() {
		return path, nil
	}
	return filepath.Dir(path), nil
}

func newBackupVerifyCommand(levelFlag *logLevelFlag) *cobra.Command {
	var manifestDir string
	cmd := &cobra.Command{
		Use:   "verify <path>",
		Short: "Verify a backup's chunkstores against its SKU and depot manifests",
		Args:  cobra.ExactArgs(1),
		RunE: withLogging(levelFlag, func(ctx context.Context, args []string) error {
			baseDir, err := baseDirOf(args[0])
			if err != nil {
				return err
			}
			return verify.Run(ctx, baseDir, manifestDir, os.Stdout)
		}),
	}
	cmd.Flags().StringVar(&manifestDir, "manifest-dir", "", "directory containing depot manifest files")
	return cmd
}

func newBackupMountCommand(levelFlag *logLevelFlag) *cobra.Command {
	var manifestDir string
	cmd := &cobra.Command{
		Use:   "mount <path> <mountpoint>",
		Short: "Mount a backup read-only",
		Args:  cobra.ExactArgs(2),
		RunE: withLogging(levelFlag, func(ctx context.Context, args []string) error {
			if manifestDir == "" {
				return fmt.Errorf("--manifest-dir is required")
			}
			baseDir, err := baseDirOf(args[0])
			if err != nil {
				return err
			}
			fs, err := mount.Prepare(baseDir, manifestDir)
			if err != nil {
				return err
			}
			defer fs.Close()
			return mountPlatform(ctx, fs, args[1])
		}),
	}
	cmd.Flags().StringVar(&manifestDir, "manifest-dir", "", "directory containing depot manifest files")
	return cmd
}
