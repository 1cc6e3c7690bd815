package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/tendant/simple-entity/pkg/simpleentity"
	"github.com/tendant/simple-entity/pkg/simpleentity/config"
	"github.com/tendant/simple-entity/pkg/simpleentity/scan"
	"gopkg.in/yaml.v3"
)

// NewRootCommand creates the admin command tree
func NewRootCommand() *cobra.Command {
	var (
		configFile string
		output     string
		agent      string
	)

	rootCmd := &cobra.Command{
		Use:   "admin",
		Short: "Simple Entity Admin CLI",
		Long: `Simple Entity Admin CLI

Inspects and maintains an entity repository directly through the configured
stores. Configuration comes from the environment (and a .env file in the
current directory), optionally layered over a YAML config file.`,
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "YAML config file (optional)")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "yaml", "output format: yaml or json")
	rootCmd.PersistentFlags().StringVar(&agent, "agent", "", "agent name recorded for changes")

	env := &environment{configFile: &configFile, output: &output, agent: &agent}
	rootCmd.AddCommand(newEntityCommand(env))
	rootCmd.AddCommand(newContentModelCommand(env))
	rootCmd.AddCommand(newDBCommand(env))
	rootCmd.AddCommand(newEnvCommand())
	return rootCmd
}

// environment carries the persistent flags into subcommands
type environment struct {
	configFile *string
	output     *string
	agent      *string
}

func (e *environment) config() (*config.ServerConfig, error) {
	return config.Load(config.WithConfigFile(*e.configFile), config.WithEnv(), config.WithMetrics(false))
}

// withService builds the service, runs fn and releases the stores
func (e *environment) withService(cmd *cobra.Command, fn func(ctx context.Context, svc simpleentity.Service) error) error {
	cfg, err := e.config()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if *e.agent != "" {
		ctx = simpleentity.WithAgent(ctx, *e.agent)
	}

	built, err := cfg.BuildService(ctx)
	if err != nil {
		return err
	}
	defer built.Close()
	return fn(ctx, built.Service)
}

func (e *environment) print(w io.Writer, v any) error {
	switch strings.ToLower(*e.output) {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml", "":
		return printYAML(w, v)
	default:
		return fmt.Errorf("unknown output format %q", *e.output)
	}
}

// printYAML renders v through its JSON form so field names match the API
func printYAML(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return err
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(doc)
}

func newEntityCommand(env *environment) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "entity",
		Aliases: []string{"entities"},
		Short:   "Inspect and change entities",
	}

	var getVersion int
	get := &cobra.Command{
		Use:   "get <id>",
		Short: "Print an entity, optionally at an earlier version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return env.withService(cmd, func(ctx context.Context, svc simpleentity.Service) error {
				var (
					e   *simpleentity.Entity
					err error
				)
				if getVersion > 0 {
					e, err = svc.RetrieveVersion(ctx, args[0], getVersion)
				} else {
					e, err = svc.Retrieve(ctx, args[0])
				}
				if err != nil {
					return err
				}
				return env.print(cmd.OutOrStdout(), e)
			})
		},
	}
	get.Flags().IntVar(&getVersion, "version", 0, "version number (default: current)")

	var q simpleentity.SearchQuery
	var state string
	search := &cobra.Command{
		Use:   "search",
		Short: "Search entities",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q.State = simpleentity.State(strings.ToUpper(state))
			return env.withService(cmd, func(ctx context.Context, svc simpleentity.Service) error {
				result, err := svc.Search(ctx, q)
				if err != nil {
					return err
				}
				return env.print(cmd.OutOrStdout(), result)
			})
		},
	}
	search.Flags().StringVar(&q.ContentModelID, "content-model", "", "filter by content model id")
	search.Flags().StringVar(&q.ParentID, "parent", "", "filter by parent id")
	search.Flags().StringVar(&state, "state", "", "filter by state")
	search.Flags().StringVar(&q.Label, "label", "", "filter by label substring")
	search.Flags().IntVar(&q.Offset, "offset", 0, "pagination offset")
	search.Flags().IntVar(&q.Limit, "limit", simpleentity.DefaultSearchLimit, "maximum results")

	versions := &cobra.Command{
		Use:   "versions <id>",
		Short: "List the snapshots of an entity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return env.withService(cmd, func(ctx context.Context, svc simpleentity.Service) error {
				list, err := svc.OldVersions(ctx, args[0])
				if err != nil {
					return err
				}
				return env.print(cmd.OutOrStdout(), list)
			})
		},
	}

	var auditOffset, auditCount int
	audit := &cobra.Command{
		Use:   "audit <id>",
		Short: "Print the audit log of an entity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return env.withService(cmd, func(ctx context.Context, svc simpleentity.Service) error {
				records, err := svc.AuditRecords(ctx, args[0], auditOffset, auditCount)
				if err != nil {
					return err
				}
				return env.print(cmd.OutOrStdout(), records)
			})
		},
	}
	audit.Flags().IntVar(&auditOffset, "offset", 0, "pagination offset")
	audit.Flags().IntVar(&auditCount, "count", 100, "maximum records")

	hierarchy := &cobra.Command{
		Use:   "hierarchy <id>",
		Short: "Print the level-1 and level-2 ancestors of an entity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return env.withService(cmd, func(ctx context.Context, svc simpleentity.Service) error {
				h, err := svc.Hierarchy(ctx, args[0])
				if err != nil {
					return err
				}
				return env.print(cmd.OutOrStdout(), h)
			})
		},
	}

	transition := func(use, short string, fn func(simpleentity.Service) func(context.Context, string) error) *cobra.Command {
		return &cobra.Command{
			Use:   use + " <id>",
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return env.withService(cmd, func(ctx context.Context, svc simpleentity.Service) error {
					if err := fn(svc)(ctx, args[0]); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Entity %s: %s\n", args[0], use)
					return nil
				})
			},
		}
	}

	del := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an entity and its descendants",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return env.withService(cmd, func(ctx context.Context, svc simpleentity.Service) error {
				if err := svc.Delete(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Entity %s deleted\n", args[0])
				return nil
			})
		},
	}

	cmd.AddCommand(get, search, versions, audit, hierarchy, del, newBulkCommand(env),
		transition("publish", "Publish an entity", func(s simpleentity.Service) func(context.Context, string) error { return s.Publish }),
		transition("withdraw", "Withdraw an entity", func(s simpleentity.Service) func(context.Context, string) error { return s.Withdraw }),
	)
	return cmd
}

// bulkActions are the per-entity changes the bulk command can apply
var bulkActions = map[string]func(simpleentity.Service) func(context.Context, string) error{
	"submit":   func(s simpleentity.Service) func(context.Context, string) error { return s.Submit },
	"pending":  func(s simpleentity.Service) func(context.Context, string) error { return s.Pending },
	"publish":  func(s simpleentity.Service) func(context.Context, string) error { return s.Publish },
	"withdraw": func(s simpleentity.Service) func(context.Context, string) error { return s.Withdraw },
	"delete":   func(s simpleentity.Service) func(context.Context, string) error { return s.Delete },
}

func newBulkCommand(env *environment) *cobra.Command {
	var (
		q         simpleentity.SearchQuery
		state     string
		batchSize int
		dryRun    bool
	)
	cmd := &cobra.Command{
		Use:   "bulk <submit|pending|publish|withdraw|delete>",
		Short: "Apply a change to every entity matching the filters",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			action, ok := bulkActions[strings.ToLower(args[0])]
			if !ok {
				return fmt.Errorf("unknown bulk action %q", args[0])
			}
			q.State = simpleentity.State(strings.ToUpper(state))
			return env.withService(cmd, func(ctx context.Context, svc simpleentity.Service) error {
				apply := action(svc)
				result, err := scan.New(svc, nil).Scan(ctx, scan.Options{
					Query:     q,
					BatchSize: batchSize,
					DryRun:    dryRun,
					Processor: scan.ProcessorFunc(func(ctx context.Context, e *simpleentity.Entity) error {
						return apply(ctx, e.ID)
					}),
					OnProgress: func(processed, total int) {
						fmt.Fprintf(cmd.ErrOrStderr(), "Processed %d/%d\n", processed, total)
					},
				})
				if err != nil {
					return err
				}
				return env.print(cmd.OutOrStdout(), result)
			})
		},
	}
	cmd.Flags().StringVar(&q.ContentModelID, "content-model", "", "filter by content model id")
	cmd.Flags().StringVar(&q.ParentID, "parent", "", "filter by parent id")
	cmd.Flags().StringVar(&state, "state", "", "filter by state")
	cmd.Flags().StringVar(&q.Label, "label", "", "filter by label substring")
	cmd.Flags().IntVar(&batchSize, "batch-size", scan.DefaultBatchSize, "entities per batch")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "list the matches without changing them")
	return cmd
}

func newContentModelCommand(env *environment) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "content-models",
		Aliases: []string{"models"},
		Short:   "Manage the content-model catalog",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List content models",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return env.withService(cmd, func(ctx context.Context, svc simpleentity.Service) error {
				models, err := svc.ContentModels(ctx)
				if err != nil {
					return err
				}
				return env.print(cmd.OutOrStdout(), models)
			})
		},
	}

	var name string
	var parents []string
	create := &cobra.Command{
		Use:   "create <id>",
		Short: "Create a content model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return env.withService(cmd, func(ctx context.Context, svc simpleentity.Service) error {
				m := &simpleentity.ContentModel{ID: args[0], Name: name, AllowedParentContentModels: parents}
				if err := svc.CreateContentModel(ctx, m); err != nil {
					return err
				}
				return env.print(cmd.OutOrStdout(), m)
			})
		},
	}
	create.Flags().StringVar(&name, "name", "", "display name (default: the id)")
	create.Flags().StringSliceVar(&parents, "parents", nil, "allowed parent content model ids; empty makes a root model")

	del := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an unused content model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return env.withService(cmd, func(ctx context.Context, svc simpleentity.Service) error {
				if err := svc.DeleteContentModel(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Content model %s deleted\n", args[0])
				return nil
			})
		},
	}

	cmd.AddCommand(list, create, del)
	return cmd
}

func newDBCommand(env *environment) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database maintenance",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "ping",
		Short: "Check connectivity to the configured postgres database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := env.config()
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == config.StoreMemory {
				return fmt.Errorf("DATABASE_URL is not a postgres URL")
			}
			if err := config.PingPostgres(cfg.DatabaseURL, cfg.DBSchema); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Database reachable")
			return nil
		},
	})
	return cmd
}

func newEnvCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "env",
		Short: "Describe the environment variables the stores are configured with",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			usage, err := config.Usage()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), usage)
			return nil
		},
	}
}
