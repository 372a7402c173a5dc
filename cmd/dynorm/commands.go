package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jacentio/dynorm/config"
	"github.com/jacentio/dynorm/datastore"
	"github.com/jacentio/dynorm/dbapi"
	"github.com/jacentio/dynorm/schema"
	"github.com/jacentio/dynorm/store"
)

var createTablesCmd = &cobra.Command{
	Use:   "create-tables",
	Short: "Create the DynamoDB tables",
	Long: `Create-tables provisions the entity, sequence and cache tables named
in the settings and enables expiry on the cache table. Existing tables are
left untouched.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if settings.Backend != config.BackendDynamoDB {
			return fmt.Errorf("create-tables needs the dynamodb backend, have %q", settings.Backend)
		}
		client, err := newDynamoClient(cmd.Context(), settings.DynamoDB)
		if err != nil {
			return err
		}
		cfg := settings.StoreConfig()
		if err := store.CreateTables(cmd.Context(), client, cfg); err != nil {
			return err
		}
		logger.Info("tables ready",
			"entities", cfg.EntityTable,
			"sequences", cfg.SequenceTable,
			"cache", cfg.CacheTable,
		)
		return nil
	},
}

var kindsCmd = &cobra.Command{
	Use:   "kinds",
	Short: "List the kinds the store holds",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := openBackend(cmd.Context(), settings)
		if err != nil {
			return err
		}
		defer b.close()

		kinds, err := b.store.Kinds(cmd.Context())
		if err != nil {
			return err
		}
		for _, kind := range kinds {
			fmt.Fprintln(cmd.OutOrStdout(), kind)
		}
		return nil
	},
}

var getCmd = &cobra.Command{
	Use:   "get <kind> <id|name>",
	Short: "Print a stored record",
	Long: `Get reads one record by kind and identity and prints its properties as
JSON. Numeric identities are read as ids, anything else as a name.

Example:
  dynorm get app_user 42
  dynorm get app_tag golang`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := openBackend(cmd.Context(), settings)
		if err != nil {
			return err
		}
		defer b.close()

		key := parseKey(args[0], args[1])
		e, err := b.store.Get(cmd.Context(), key)
		if errors.Is(err, datastore.ErrNoSuchEntity) {
			return fmt.Errorf("no record %s", key)
		}
		if err != nil {
			return err
		}

		output, err := json.MarshalIndent(map[string]any{
			"key":        key.String(),
			"properties": e.Properties,
		}, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal record: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(output))
		return nil
	},
}

func parseKey(kind, identity string) datastore.Key {
	if id, err := strconv.ParseInt(identity, 10, 64); err == nil && id > 0 {
		return datastore.IDKey(kind, id)
	}
	return datastore.NameKey(kind, identity)
}

var flushComplete bool

var flushCmd = &cobra.Command{
	Use:   "flush [table...]",
	Short: "Delete every record of the given tables",
	Long: `Flush deletes every record stored for the given tables. Tables of the
loaded schema map to their store kind; other names are taken as kinds.

With --complete every kind in the store is flushed. This marks the run as a
test environment and is meant for development stores; against the dynamodb
backend it is refused unless flush.complete_while_testing is set.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 && !flushComplete {
			return errors.New("name at least one table, or pass --complete")
		}
		if flushComplete && settings.Backend == config.BackendDynamoDB && !settings.Flush.CompleteWhileTesting {
			return errors.New("--complete against the dynamodb backend needs flush.complete_while_testing")
		}
		b, err := openBackend(cmd.Context(), settings)
		if err != nil {
			return err
		}
		defer b.close()

		env, err := newEnv(settings, b)
		if err != nil {
			return err
		}
		if flushComplete {
			env.Options.CompleteFlush = true
			env.Options.TestEnvironment = true
		}

		n, err := dbapi.Open(env).Flush(cmd.Context(), args)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "flushed %d records\n", n)
		return nil
	},
}

func init() {
	flushCmd.Flags().BoolVar(&flushComplete, "complete", false, "flush every kind in the store")
}

var schemaCmd = &cobra.Command{
	Use:   "schema <file>",
	Short: "Validate a schema file and print its models",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := schema.LoadFile(args[0])
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, m := range reg.Models() {
			fmt.Fprintf(out, "%s (table %s, kind %s)\n", m.Name, m.Table, reg.Kind(m))
			for _, f := range m.Fields {
				var flags []string
				if f.PrimaryKey {
					flags = append(flags, "pk")
				}
				if f.Unique {
					flags = append(flags, "unique")
				}
				if f.Null {
					flags = append(flags, "null")
				}
				flags = append(flags, f.Indexes...)
				fmt.Fprintf(out, "  %-20s %-16s %s\n", f.Column, f.TypeName, strings.Join(flags, ","))
			}
			for _, cols := range reg.UniqueCombinations(m) {
				fmt.Fprintf(out, "  unique: %s\n", strings.Join(cols, "+"))
			}
		}
		return nil
	},
}
