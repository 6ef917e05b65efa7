/*
Package log provides rover's structured logging on top of zerolog.

A single global Logger is configured once at startup with Init. Console
output is the default; JSONOutput switches to one JSON object per line.
When File is set the same events are also written as JSON to a rotated
file (lumberjack), bounded by MaxSizeMB, MaxBackups and MaxAgeDays:

	log.Init(log.Config{
		Level:     log.InfoLevel,
		Output:    os.Stderr,
		File:      "/var/log/rover/rover.log",
		MaxSizeMB: 50,
	})
	defer log.Close()

Packages take child loggers rather than writing to Logger directly:

	logger := log.WithComponent("supervisor")
	logger.Warn().Str("module", "act").Float64("score", 42).Msg("Module degraded")

	modLog := log.WithModule("sense")     // component=module module=sense
	busLog := log.WithNamespace("robot_state")

SetLevel changes the global level in place; the config watcher uses it to
apply a new log level without restarting the controller.

Levels map as debug, info, warn and error. Unknown level strings fall back
to info. Messages start with a capital letter and carry their context as
fields, not formatted into the text.
*/
package log
