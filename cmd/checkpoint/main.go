package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/felixgeelhaar/checkpoint/internal/config"
)

// Version is set at build time via ldflags
var Version = "dev"

const pidFile = "checkpointd.pid"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "start":
		err = cmdStart()
	case "stop":
		err = cmdStop()
	case "status":
		err = cmdStatus()
	case "logs":
		err = cmdLogs()
	case "config":
		err = cmdConfig()
	case "lesson":
		err = cmdLesson(os.Args[2:])
	case "progress":
		err = cmdProgress(os.Args[2:])
	case "mcp":
		err = cmdMCP(os.Args[2:])
	case "migrate":
		err = cmdMigrate(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	case "version", "-v", "--version":
		fmt.Printf("checkpoint %s\n", Version)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Checkpoint - Interactive lesson exercises

Usage:
  checkpoint <command> [arguments]

Daemon Commands:
  start                     Start the Checkpoint daemon
  stop                      Stop the Checkpoint daemon
  status                    Show daemon status
  logs                      View daemon logs
  config                    Show current configuration

Lesson Commands:
  lesson list               List imported lessons
  lesson segments <id>      Show how a lesson splits into markup and exercises
  lesson audit <id>         Check markers against exercise records
  lesson import <dir>       Import YAML lesson files into the store

Progress Commands:
  progress                  Show completions and XP
  progress <lesson>         Show completions for one lesson
  progress reset <lesson>   Forget completions for one lesson

Storage Commands:
  migrate [up|down|version] Manage the postgres schema

Integration Commands:
  mcp [--http addr]         Start MCP server (stdio by default)

Other:
  help                      Show this help message
  version                   Show version information`)
}

// daemonAddr builds the daemon base URL from the configured bind and port
func daemonAddr() string {
	cfg, err := config.LoadLocalConfig()
	if err != nil {
		cfg = config.DefaultLocalConfig()
	}
	bind := cfg.Daemon.Bind
	if bind == "" || bind == "0.0.0.0" {
		bind = "127.0.0.1"
	}
	return fmt.Sprintf("http://%s:%d", bind, cfg.Daemon.Port)
}

// renderProgressBar creates a visual progress bar
func renderProgressBar(value float64, width int) string {
	filled := int(value * float64(width))
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}
	return "[" + strings.Repeat("█", filled) + strings.Repeat("░", width-filled) + "]"
}
