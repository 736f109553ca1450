// Package exitcode centralizes Kairoi's fatal exit paths. Every call
// site that terminates the process — invalid configuration, a corrupt
// or unwritable journal, a Controller Front or Admin HTTP bind failure —
// goes through Fatal so the exit code for each failure mode is asserted
// in one place instead of scattered log.Fatalf calls each defaulting to 1.
package exitcode

import (
	"log/slog"
	"os"
)

const (
	// OK is a normal, requested shutdown.
	OK = 0
	// ConfigInvalid covers a missing, unparsable, or validation-failing
	// configuration file.
	ConfigInvalid = 2
	// JournalCorrupt covers a journal whose header or a record fails to
	// decode on replay.
	JournalCorrupt = 3
	// JournalWriteFailure covers an append or fsync failure on the
	// journal's single writer.
	JournalWriteFailure = 4
	// BindFailure covers the Controller Front or Admin HTTP listener
	// failing to bind its configured address.
	BindFailure = 5
)

// Fatal logs err at Error level alongside msg and code, then exits the
// process with code. It never returns.
func Fatal(logger *slog.Logger, code int, msg string, err error) {
	logger.Error(msg, "error", err, "exit_code", code)
	os.Exit(code)
}
