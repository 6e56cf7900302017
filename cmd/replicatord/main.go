// Command replicatord is the process entrypoint embedding the replication
// coordinator: a "serve" daemon, plus "configure" and "recover" one-shot
// operations mapping onto the core's configure_database/shutdown lifecycle
// (SPEC_FULL.md §9).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kuewdb/replicator/internal/clusterconfig"
	"github.com/kuewdb/replicator/internal/logging"
	"github.com/kuewdb/replicator/internal/message"
	"github.com/kuewdb/replicator/internal/partitioner"
	"github.com/kuewdb/replicator/internal/replication"
	"github.com/kuewdb/replicator/internal/store"
)

var log = logging.Get("replicatord")

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "replicatord",
		Short: "Per-database distributed replication coordinator daemon",
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "replicatord.yaml", "path to the daemon configuration document")

	root.AddCommand(serveCmd(), configureCmd(), recoverCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func defaultRegistry() *partitioner.Registry {
	return partitioner.NewRegistry(
		partitioner.NewMD5Strategy(),
		partitioner.NewRoundRobinStrategy(),
		partitioner.NewAllNodesStrategy(),
	)
}

// serveCmd starts the daemon: wires the configured substrate, publishes
// every database's distributed configuration, starts one receiver per
// database, and blocks until SIGINT/SIGTERM before running the coordinator's
// cancel->wait->close shutdown sequence.
func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the coordinator daemon until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadDaemonConfig(configPath)
			if err != nil {
				return err
			}

			sub, closeSub, err := buildSubstrate(cfg.Backend)
			if err != nil {
				return err
			}
			if closeSub != nil {
				defer closeSub.Close()
			}

			admin := clusterconfig.NewStaticAdmin(cfg.Node)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			coord, err := replication.NewCoordinator(ctx, replication.Config{
				Admin:        admin,
				Strategies:   defaultRegistry(),
				Substrate:    sub,
				QueueTimeout: cfg.QueueTimeout,
			})
			if err != nil {
				return fmt.Errorf("replicatord: start coordinator: %w", err)
			}

			for _, db := range cfg.Databases {
				dbCfg, err := loadDatabaseConfiguration(db.ConfigFile)
				if err != nil {
					return err
				}
				if err := admin.PublishDatabaseConfiguration(dbCfg); err != nil {
					return fmt.Errorf("replicatord: publish configuration for %s: %w", db.Name, err)
				}
				if err := coord.ConfigureDatabase(ctx, db.Name, store.NewMemEngine()); err != nil {
					return fmt.Errorf("replicatord: configure %s: %w", db.Name, err)
				}
				log.Infof("database %s configured, receiver running", db.Name)
			}

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
			<-stop

			log.Infof("shutdown signal received, stopping receivers")
			coord.Shutdown()
			return nil
		},
	}
}

// configureCmd runs a one-shot publish-and-reconcile pass for a single
// database's distributed configuration document, the maintenance operation
// an operator runs before a node's first "serve" or after editing a
// cluster's partition layout by hand.
func configureCmd() *cobra.Command {
	var database, clusterFile string
	cmd := &cobra.Command{
		Use:   "configure",
		Short: "Publish a database's distributed configuration and reconcile local membership",
		RunE: func(cmd *cobra.Command, args []string) error {
			daemon, err := loadDaemonConfig(configPath)
			if err != nil {
				return err
			}
			dbCfg, err := loadDatabaseConfiguration(clusterFile)
			if err != nil {
				return err
			}

			admin := clusterconfig.NewStaticAdmin(daemon.Node)
			if err := admin.PublishDatabaseConfiguration(dbCfg); err != nil {
				return fmt.Errorf("replicatord: publish configuration: %w", err)
			}

			reconciler := replication.NewReconciler(admin)
			dirty, err := reconciler.Reconcile(database)
			if err != nil {
				return fmt.Errorf("replicatord: reconcile %s: %w", database, err)
			}
			if dirty {
				log.Infof("node %s claimed a partition slot in %s", daemon.Node, database)
			} else {
				log.Infof("node %s already a member of %s, nothing to do", daemon.Node, database)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&database, "database", "", "database name the configuration document applies to")
	cmd.Flags().StringVar(&clusterFile, "cluster-file", "", "path to the cluster/partition layout YAML document")
	cmd.MarkFlagRequired("database")
	cmd.MarkFlagRequired("cluster-file")
	return cmd
}

// recoverCmd runs crash recovery for a single (node, database) pair outside
// of "serve", useful for inspecting or forcing replay of a stranded request
// without bringing the receiver's normal drain loop up.
func recoverCmd() *cobra.Command {
	var database string
	cmd := &cobra.Command{
		Use:   "recover",
		Short: "Replay this node's stranded undo-slot request for a database, if any",
		RunE: func(cmd *cobra.Command, args []string) error {
			daemon, err := loadDaemonConfig(configPath)
			if err != nil {
				return err
			}

			sub, closeSub, err := buildSubstrate(daemon.Backend)
			if err != nil {
				return err
			}
			if closeSub != nil {
				defer closeSub.Close()
			}

			bus := message.New(sub, daemon.Node)
			if err := bus.Start(context.Background()); err != nil {
				return fmt.Errorf("replicatord: start message bus: %w", err)
			}
			defer bus.Stop()

			replication.RecoverUndoSlot(context.Background(), daemon.Node, database, store.NewMemEngine(), bus, sub, daemon.QueueTimeout)
			return nil
		},
	}
	cmd.Flags().StringVar(&database, "database", "", "database name to run crash recovery for")
	cmd.MarkFlagRequired("database")
	return cmd
}

func loadDatabaseConfiguration(path string) (*clusterconfig.DatabaseConfiguration, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("replicatord: read cluster file %s: %w", path, err)
	}
	cfg, err := clusterconfig.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("replicatord: parse cluster file %s: %w", path, err)
	}
	return cfg, nil
}
