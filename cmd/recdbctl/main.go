// Command recdbctl inspects a recdb database file using the schema saved in it.
package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/andreyvit/recdb"
)

var (
	dbPath  string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:           "recdbctl",
	Short:         "Inspect recdb databases",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var storesCmd = &cobra.Command{
	Use:   "stores",
	Short: "List stores, their fields and record counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(func(db *recdb.DB) error {
			return db.Read(context.Background(), func(tx *recdb.Tx) error {
				for _, st := range db.Schema().Stores() {
					n, err := tx.Length(st)
					if err != nil {
						return err
					}
					fmt.Printf("%s (%d records) key=%s\n", st.Name(), n, strings.Join(st.Keys(), ","))
					for _, f := range st.Fields() {
						fmt.Printf("  %s %v\n", f.Name(), f.FieldType)
					}
					for _, l := range st.ParentLinks() {
						fmt.Printf("  -> %s (%s)\n", l.Child().Name(), l.Name())
					}
				}
				return nil
			})
		})
	},
}

var dumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Dump records and indices",
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := recdb.DumpStoreHeaders | recdb.DumpRecords
		if v, _ := cmd.Flags().GetBool("indices"); v {
			flags |= recdb.DumpIndices | recdb.DumpIndexRows
		}
		if v, _ := cmd.Flags().GetBool("stats"); v {
			flags |= recdb.DumpStats
		}
		return withDB(func(db *recdb.DB) error {
			return db.Read(context.Background(), func(tx *recdb.Tx) error {
				s, err := tx.Dump(flags)
				if err != nil {
					return err
				}
				fmt.Print(s)
				return nil
			})
		})
	},
}

var getCmd = &cobra.Command{
	Use:   "get <store> <field=value>...",
	Short: "Look up a record by its key",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(func(db *recdb.DB) error {
			st, err := storeNamed(db, args[0])
			if err != nil {
				return err
			}
			keys, err := parseRecord(st, args[1:])
			if err != nil {
				return err
			}
			return db.Read(context.Background(), func(tx *recdb.Tx) error {
				rec, err := tx.Lookup(st, keys)
				if err != nil {
					return err
				}
				return printRecord(rec)
			})
		})
	},
}

var filterCmd = &cobra.Command{
	Use:   "filter <store> [field=value]...",
	Short: "List records matching equality filters",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		explain, _ := cmd.Flags().GetBool("explain")
		return withDB(func(db *recdb.DB) error {
			st, err := storeNamed(db, args[0])
			if err != nil {
				return err
			}
			values, err := parseRecord(st, args[1:])
			if err != nil {
				return err
			}
			filters := make(map[string]recdb.Filter, len(values))
			for k, v := range values {
				filters[k] = recdb.Eq(v)
			}
			return db.Read(context.Background(), func(tx *recdb.Tx) error {
				if explain {
					index, pinned, err := tx.Explain(st, filters)
					if err != nil {
						return err
					}
					fmt.Fprintf(os.Stderr, "scanning %s, %d pinned\n", index, pinned)
				}
				recs, err := tx.Filter(st, recdb.FilterOptions{Filters: filters, Limit: limit})
				if err != nil {
					return err
				}
				for _, rec := range recs {
					if err := printRecord(rec); err != nil {
						return err
					}
				}
				return nil
			})
		})
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <store> <query>",
	Short: "Run a ranked text search",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		field, _ := cmd.Flags().GetString("field")
		return withDB(func(db *recdb.DB) error {
			st, err := storeNamed(db, args[0])
			if err != nil {
				return err
			}
			return db.Read(context.Background(), func(tx *recdb.Tx) error {
				var hits []recdb.SearchHit
				if field != "" {
					hits, err = tx.SearchField(st, field, args[1], nil, limit)
				} else {
					hits, err = tx.Search(st, args[1], nil, limit)
				}
				if err != nil {
					return err
				}
				for _, h := range hits {
					data, err := json.Marshal(h.Record)
					if err != nil {
						return err
					}
					fmt.Printf("%.3f (%d/%d) %s\n", h.Rank(), h.Matched, h.Total, data)
				}
				return nil
			})
		})
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show storage statistics per store",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(func(db *recdb.DB) error {
			return db.Read(context.Background(), func(tx *recdb.Tx) error {
				for _, st := range db.Schema().Stores() {
					s, err := tx.StoreStats(st)
					if err != nil {
						return err
					}
					fmt.Printf("%s: records=%d index_rows=%d size=%d alloc=%d\n", st.Name(), s.Records, s.IndexRows, s.TotalSize(), s.TotalAlloc())
				}
				return nil
			})
		})
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Database file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log database operations")
	_ = rootCmd.MarkPersistentFlagRequired("db")

	dumpCmd.Flags().Bool("indices", false, "Include index entries")
	dumpCmd.Flags().Bool("stats", false, "Include storage statistics")

	filterCmd.Flags().Int("limit", 0, "Maximum number of records")
	filterCmd.Flags().Bool("explain", false, "Print the chosen index")

	searchCmd.Flags().Int("limit", 20, "Maximum number of hits")
	searchCmd.Flags().String("field", "", "Search only this field")

	rootCmd.AddCommand(storesCmd, dumpCmd, getCmd, filterCmd, searchCmd, statsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "recdbctl: %v\n", err)
		os.Exit(1)
	}
}

func withDB(f func(db *recdb.DB) error) error {
	logger := zap.NewNop()
	if verbose {
		l, err := zap.NewDevelopment()
		if err != nil {
			return err
		}
		logger = l
		defer logger.Sync()
	}
	db, err := recdb.OpenExisting(dbPath, recdb.Options{
		Logger:  logger,
		Verbose: verbose,
	})
	if err != nil {
		return err
	}
	defer db.Close()
	return f(db)
}

func storeNamed(db *recdb.DB, name string) (*recdb.Store, error) {
	st := db.Schema().StoreNamed(name)
	if st == nil {
		return nil, fmt.Errorf("unknown store %q", name)
	}
	return st, nil
}

// parseRecord parses field=value arguments according to the field kinds.
// The value "null" stands for a null, and binary values are hex.
func parseRecord(st *recdb.Store, args []string) (recdb.Record, error) {
	rec := make(recdb.Record, len(args))
	for _, arg := range args {
		name, s, ok := strings.Cut(arg, "=")
		if !ok {
			return nil, fmt.Errorf("invalid argument %q, wanted field=value", arg)
		}
		f := st.Field(name)
		if f == nil {
			return nil, fmt.Errorf("%s has no field %q", st.Name(), name)
		}
		v, err := parseValue(f.Kind(), s)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		rec[name] = v
	}
	return rec, nil
}

func parseValue(kind recdb.Kind, s string) (any, error) {
	if s == "null" {
		return nil, nil
	}
	switch kind {
	case recdb.KindInteger:
		return strconv.ParseInt(s, 10, 64)
	case recdb.KindNumber:
		return strconv.ParseFloat(s, 64)
	case recdb.KindBoolean:
		return strconv.ParseBool(s)
	case recdb.KindBinary:
		return hex.DecodeString(s)
	default:
		return s, nil
	}
}

func printRecord(rec recdb.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
