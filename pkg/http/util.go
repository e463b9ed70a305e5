package http

import (
	"time"

	xutil "TapeFlow/pkg/util"
)

// Query parameter helpers re-exported so handlers only import this
// package.

func ParseIntDefault(s string, def int) int { return xutil.ParseIntDefault(s, def) }

func ParseTime(s string) (time.Time, bool) { return xutil.ParseTime(s) }

func ParseTimeDefault(s string, def time.Time) time.Time { return xutil.ParseTimeDefault(s, def) }
