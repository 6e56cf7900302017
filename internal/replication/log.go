package replication

import "github.com/kuewdb/replicator/internal/logging"

var log = logging.Get("replication")
