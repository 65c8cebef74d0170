package merger

import (
	"io"
	"log"
	"os"
	"time"
)

// BuildInfo can contain compile-time information about the build
type BuildInfo struct {
	Version string
	Githash string
	Gitdate string
	Date    string
	Summary string
	Host    string
}

// Build is a global holding compile-time information about the build
var Build = BuildInfo{
	Version: "0.3.0",
	Githash: "no git hash computed",
	Gitdate: "no git date computed",
	Date:    "no build date computed",
	Summary: "build summary not computed",
}

// StartTime is a global holding the time init() was run. grawmerge reports
// the time elapsed since then when it finishes.
var StartTime time.Time

// ProblemLogger will log warning messages to a file
var ProblemLogger *log.Logger

// UpdateLogger will log progress messages (runs opened, events written, totals)
var UpdateLogger *log.Logger

// DebugLogger logs per-frame detail. It is silent unless Verbose output is requested.
var DebugLogger *log.Logger

func init() {
	StartTime = time.Now()

	// The grawmerge program will override these, but at least initialize with sensible values
	ProblemLogger = log.New(os.Stderr, "", log.LstdFlags)
	UpdateLogger = log.New(os.Stdout, "", log.LstdFlags)
	DebugLogger = log.New(io.Discard, "", log.LstdFlags)
}
