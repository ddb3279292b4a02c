package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"facet/internal/config"
	"facet/internal/db"
	"facet/internal/descriptor"
	"facet/internal/migrate"
	"facet/internal/naming"
	"facet/internal/platform"
	"facet/internal/provisioner"
	"facet/internal/repo"
	"facet/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "facet",
	Short: "Facet analytics workspace provisioner",
	Long: `Facet provisions analytics workspaces for data product components.
It validates data product descriptors, derives the deterministic workspace
identity, and converges the remote analytics platform toward the declared
state: workspace existence, permissions, declarative layout, and user data
filters. It also walks the other way (reverse provisioning) by exporting
live workspace state back into descriptor form.`,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("FACET")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().String("state-dir", ".", "state directory for the task store")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	_ = viper.BindPFlag("state-dir", rootCmd.PersistentFlags().Lookup("state-dir"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(validateCmd())
	rootCmd.AddCommand(resolveCmd())
	rootCmd.AddCommand(tasksCmd())
	rootCmd.AddCommand(logCmd())
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var dev bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the provisioner HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			stateDir := viper.GetString("state-dir")
			var cfg *config.Config
			var client platform.Client
			if dev {
				cfg = config.Dev(stateDir)
				client = platform.NewMem()
			} else {
				loaded, err := config.Load()
				if err != nil {
					return err
				}
				loaded.StateDir = stateDir
				if err := loaded.Validate(); err != nil {
					return err
				}
				cfg = loaded
				client = platform.NewREST(cfg.Platform.BaseURL, cfg.Platform.Token, cfg.Platform.Timeout)
			}
			conn, err := db.Open(db.Config{StateDir: cfg.StateDir})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			e := provisioner.New(conn, client, cfg)
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Facet API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	cmd.Flags().BoolVar(&dev, "dev", false, "use the in-memory platform backend")
	return cmd
}

func validateCmd() *cobra.Command {
	var file, componentID string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a descriptor file",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			dp, err := descriptor.Parse(data)
			if err != nil {
				return printValidation([]string{err.Error()})
			}
			req := descriptor.ProvisioningRequest{DataProduct: dp, ComponentID: componentID}
			intent, err := req.Validate()
			if err != nil {
				var ve *descriptor.ValidationError
				if errors.As(err, &ve) {
					return printValidation(ve.Errors)
				}
				return err
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{
					"valid":       true,
					"workspaceId": intent.Workspace,
				})
			}
			fmt.Printf("descriptor OK, workspace id %s\n", intent.Workspace)
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "path to descriptor YAML")
	cmd.Flags().StringVar(&componentID, "component", "", "component id to validate")
	_ = cmd.MarkFlagRequired("file")
	_ = cmd.MarkFlagRequired("component")
	return cmd
}

func printValidation(errs []string) error {
	if viper.GetBool("json") {
		return printJSON(map[string]any{"valid": false, "errors": errs})
	}
	fmt.Println("descriptor INVALID:")
	for _, e := range errs {
		fmt.Println("  -", e)
	}
	return fmt.Errorf("validation failed")
}

func resolveCmd() *cobra.Command {
	var domain, name, version string
	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Resolve the workspace id for a product identity",
		RunE: func(cmd *cobra.Command, args []string) error {
			major, err := descriptor.MajorVersion(version)
			if err != nil {
				return err
			}
			id := naming.Resolve(domain, name, major)
			if viper.GetBool("json") {
				return printJSON(map[string]any{"workspaceId": id})
			}
			fmt.Println(id)
			return nil
		},
	}
	cmd.Flags().StringVar(&domain, "domain", "", "product domain")
	cmd.Flags().StringVar(&name, "name", "", "product name")
	cmd.Flags().StringVar(&version, "version", "", "product version (e.g. 1.2.0)")
	_ = cmd.MarkFlagRequired("domain")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("version")
	return cmd
}

func tasksCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "List recent async tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListTasks(ctx, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Token", "Op", "State", "Workspace", "Created"})
				for _, t := range items {
					ws := ""
					if t.WorkspaceID != nil {
						ws = *t.WorkspaceID
					}
					tw.AppendRow(table.Row{t.Token, t.Op, t.State, ws, t.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "n", 20, "number of tasks")
	return cmd
}

func logCmd() *cobra.Command {
	var n int
	var evtType, workspaceID string
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Tail the audit event log",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(func(ctx context.Context, r repo.Repo) error {
				items, err := r.LatestEvents(ctx, n, workspaceID, evtType)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"TS", "Type", "Workspace", "Entity"})
				for _, e := range items {
					ws := ""
					if e.WorkspaceID != nil {
						ws = *e.WorkspaceID
					}
					entity := e.EntityKind
					if e.EntityID != nil {
						entity += "/" + *e.EntityID
					}
					tw.AppendRow(table.Row{e.TS, e.Type, ws, entity})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&workspaceID, "workspace", "", "workspace id filter")
	return cmd
}

// --- helpers ---

func withRepo(fn func(context.Context, repo.Repo) error) error {
	stateDir := viper.GetString("state-dir")
	conn, err := db.Open(db.Config{StateDir: stateDir})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(context.Background(), repo.Repo{DB: conn})
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
