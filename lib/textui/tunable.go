// Copyright (C) 2022  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package textui

import "time"

// Tunable marks a progress-log interval as a value someone may want to
// adjust once real-world verify runs show whether the log is too chatty
// or too quiet — today it's wired straight through.
//
// TODO(lukeshu): Have Tunable be runtime-configurable.
func Tunable(d time.Duration) time.Duration {
	return d
}
