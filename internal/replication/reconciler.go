package replication

import (
	"fmt"

	"github.com/kuewdb/replicator/internal/clusterconfig"
)

// Reconciler is the membership reconciler (component C7): on startup it
// ensures the local node appears in every cluster's partition list,
// claiming a $newNode sentinel slot if necessary and republishing the
// configuration (SPEC_FULL.md §4.7).
type Reconciler struct {
	admin clusterconfig.Admin
}

// NewReconciler constructs a Reconciler bound to admin.
func NewReconciler(admin clusterconfig.Admin) *Reconciler {
	return &Reconciler{admin: admin}
}

// Reconcile runs the §4.7 procedure for database, returning whether the
// configuration was mutated and republished.
func (r *Reconciler) Reconcile(database string) (bool, error) {
	local := r.admin.LocalNodeName()

	cfg, ok := r.admin.DatabaseConfiguration(database)
	if !ok {
		return false, ConfigError(fmt.Sprintf("no distributed configuration published for database %q", database))
	}

	if cfg.ContainsNode(local) {
		return false, nil
	}

	dirty := false
	for ci := range cfg.Clusters {
		for pi := range cfg.Clusters[ci].Partitions {
			part := &cfg.Clusters[ci].Partitions[pi]
			if part.HasSentinel() {
				if part.ClaimSentinel(local) {
					dirty = true
				}
			}
		}
	}

	if !dirty {
		return false, nil
	}

	if err := r.admin.PublishDatabaseConfiguration(cfg); err != nil {
		return false, fmt.Errorf("replication: publish reconciled configuration for %s: %w", database, err)
	}
	log.Infof("reconciler: claimed a $newNode slot for %s in database %s", local, database)
	return true, nil
}

// ReconcileAll runs Reconcile for each named database in order, stopping at
// the first error.
func (r *Reconciler) ReconcileAll(databases []string) error {
	for _, db := range databases {
		if _, err := r.Reconcile(db); err != nil {
			return err
		}
	}
	return nil
}
