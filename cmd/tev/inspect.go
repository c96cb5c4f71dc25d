// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/davecgh/go-spew/spew"
	"github.com/spf13/cobra"

	"github.com/steamrec/tev/lib/csm"
	"github.com/steamrec/tev/lib/manifest"
	"github.com/steamrec/tev/lib/sku"
	"github.com/steamrec/tev/lib/textui"
)

// Pointer addresses are noise for a one-shot CLI dump.
var dumper = func() spew.ConfigState {
	cfg := spew.NewDefaultConfig()
	cfg.DisablePointerAddresses = true
	return *cfg
}()

func newInspectCommand(levelFlag *logLevelFlag) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <path>",
		Short: "Print a human-readable summary of a backup container file",
		Args:  cobra.ExactArgs(1),
		RunE:  withLogging(levelFlag, runInspect),
	}
}

func runInspect(_ context.Context, args []string) error {
	path := args[0]
	switch strings.ToLower(filepath.Ext(path)) {
	case ".sis":
		s, err := sku.Read(path)
		if err != nil {
			return err
		}
		dumper.Dump(s)
	case ".csm":
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		m, err := csm.Parse(data)
		if err != nil {
			return err
		}
		dumper.Dump(m)
	case ".manifest":
		m, err := manifest.Read(path)
		if err != nil {
			return err
		}
		dumper.Dump(m)
	case ".csd":
		fi, err := os.Stat(path)
		if err != nil {
			return err
		}
		textui.Fprintf(os.Stdout, "%s: %d bytes (%v)\n", path, fi.Size(), textui.IEC(fi.Size(), "B"))
	default:
		return fmt.Errorf("don't know how to inspect %q: unrecognised extension", path)
	}
	return nil
}
