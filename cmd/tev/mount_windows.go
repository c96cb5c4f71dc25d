// SPDX-License-Identifier: GPL-2.0-or-later

//go:build windows

package main

import (
	"context"

	"github.com/steamrec/tev/lib/mount"
)

func mountPlatform(ctx context.Context, fs *mount.BackupFs, mountpoint string) error {
	return mount.MountWindows(ctx, fs, mountpoint)
}
