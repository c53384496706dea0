// Command trailmap plays position data as a map: replayed bucket by bucket or
// polled live, written as renderer calls to stdout. It can also record and
// publish positions for later playback.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// build info, set via ldflags
var (
	CurrentVersion = "0.0.1"
	BuildDate      = "unknown"
)

const appName = "trailmap"

var sessionStart = time.Now()

func usage() {
	fmt.Fprintf(os.Stderr, `usage: %s <command> [flags] [args]

commands:
  play <source>      render a source as newline-delimited renderer calls
  record <source>    store positions from a source under a session
  publish <source>   write the latest positions of a source to redis
  sessions           list recorded sessions
  dump <path>        copy the sqlite store to path
  version            print version information

sources:
  path.json|path.yaml       rows from a file
  http(s)://...             rows fetched from a JSON endpoint
  gtfsrt:<url>              vehicle positions from a GTFS-realtime feed
  redis:[key]               latest positions from a redis hash
  store:<session>[:latest]  recorded positions
`, appName)
}

func main() {
	_ = godotenv.Load(".env")

	args := os.Args[1:]
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	var err error
	switch strings.ToLower(args[0]) {
	case "play":
		err = runPlay(args[1:])
	case "record":
		err = runRecord(args[1:])
	case "publish":
		err = runPublish(args[1:])
	case "sessions":
		err = runSessions(args[1:])
	case "dump":
		err = runDump(args[1:])
	case "version":
		fmt.Printf("%s %s (built %s)\n", appName, CurrentVersion, BuildDate)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", args[0])
		usage()
		os.Exit(2)
	}

	if err != nil {
		if Logger != nil {
			Logger.Error("command failed", "command", args[0], "error", err)
		}
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// Logger is set up by each command once config is loaded.
var Logger *slog.Logger
