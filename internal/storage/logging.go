package storage

import log "github.com/sirupsen/logrus"

// defaultLog is the package-level logger. transaction.go uses it for
// the journal-recovery warning in OpenFile and the warning logged by
// Rollback on an in-memory database. No constructor in this package
// takes a caller-supplied logger.
var defaultLog = log.StandardLogger()
