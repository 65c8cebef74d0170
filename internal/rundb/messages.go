package rundb

import (
	"time"

	"github.com/attpc/merger"
)

// The composite types used for messages to the ClickHouse database.

// RunMessage is the information for the mergeruns table.
type RunMessage struct {
	ID        string
	Hostname  string
	Githash   string
	Version   string
	GoVersion string
	CPUs      int
	Inputs    int
	Output    string
	Start     time.Time
	End       time.Time
	Stats     merger.StatsSnapshot
}

// FileMessage is the information required to make an entry in the files table.
type FileMessage struct {
	RunID    string
	Filename string
	Filetype string // "graw" for inputs, "evt" for the output
	Source   int    // input order, or -1 for the output
	Records  int64  // frames read, or events written
	Size     int64
	Start    time.Time
	End      time.Time
}

const timeFormat = "2006-01-02 15:04:05.000000"
