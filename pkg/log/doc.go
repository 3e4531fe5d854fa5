/*
Package log provides structured logging for Hive using zerolog.

The package wraps a global zerolog logger with component-specific child
loggers, configurable levels and a Hub that retains recent lines for the
node_logs stream.

# Architecture

	┌──────────────────── LOGGING SYSTEM ──────────────────────┐
	│                                                            │
	│  log.Init(Config)                                          │
	│        │                                                   │
	│        ▼                                                   │
	│  ┌──────────────┐   MultiLevelWriter   ┌───────────────┐  │
	│  │ console/JSON │◄─────────────────────│ global Logger │  │
	│  │   output     │                      └───────┬───────┘  │
	│  └──────────────┘                              │          │
	│                                                ▼          │
	│                                        ┌───────────────┐  │
	│                                        │      Hub      │  │
	│                                        │ ring + subs   │──┼──► node_logs
	│                                        └───────────────┘  │
	└────────────────────────────────────────────────────────────┘

The Hub always receives the raw JSON encoding of each event, so log streams
served by the gateway are machine readable regardless of the console format.

# Usage

	hub := log.NewHub(log.DefaultHubSize)
	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: false, Hub: hub})

	logger := log.WithComponent("monitor")
	pathLog := log.WithPath(logger, "prod/svc/web")
	pathLog.Info().Str("state", "starting").Msg("transition")

Component names used across the daemon: "daemon", "replication", "monitor",
"orchestrator", "status", "api", "storage".
*/
package log
