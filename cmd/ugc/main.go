package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"ugchub/internal/app"
	"ugchub/internal/engine/auth"
)

func main() {
	cobra.OnInitialize(initConfig)
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "ugc",
		Short: "UGC Hub marketplace backend",
		Long: `UGC Hub connects brand analysts with content creators.
- Opportunities: briefs published by analysts; creators apply with a pitch.
- Applications: approved applications become projects and open a conversation.
- Templates: named deliverable plans; applying one creates every deliverable with chained due dates, or none.
- Deliverables: stored status moves pending -> in_progress -> submitted -> approved/rejected; "overdue" is derived, never stored.
- Threads: conversations between the same analyst and creator are shown as one thread.

Settings come from <workspace>/ugchub.yml, overridden by UGCHUB_* environment variables and flags.`,
		SilenceUsage: true,
	}
	addPersistentFlags(root)
	root.AddCommand(migrateCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(configCmd())
	root.AddCommand(templateCmd())
	root.AddCommand(opportunityCmd())
	root.AddCommand(applicationCmd())
	root.AddCommand(deliverableCmd())
	root.AddCommand(projectCmd())
	root.AddCommand(threadCmd())
	root.AddCommand(onboardingCmd())
	root.AddCommand(apikeyCmd())
	root.AddCommand(sweepCmd())
	root.AddCommand(tokenCmd())
	return root
}

func initConfig() {
	viper.SetEnvPrefix("UGCHUB")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags(root *cobra.Command) {
	pf := root.PersistentFlags()
	pf.StringP("workspace", "w", ".", "workspace directory")
	pf.Bool("json", false, "output JSON")
	pf.String("actor-id", auth.System.ID, "act as this actor")
	pf.String("role", auth.System.Role, "role of --actor-id (creator, analyst or system)")
	pf.String("db-driver", "", "database driver (sqlite or postgres)")
	pf.String("dsn", "", "database DSN (postgres)")
	pf.String("log-level", "", "log level")
	_ = viper.BindPFlag("workspace", pf.Lookup("workspace"))
	_ = viper.BindPFlag("json", pf.Lookup("json"))
	_ = viper.BindPFlag("actor-id", pf.Lookup("actor-id"))
	_ = viper.BindPFlag("role", pf.Lookup("role"))
	_ = viper.BindPFlag("database.driver", pf.Lookup("db-driver"))
	_ = viper.BindPFlag("database.dsn", pf.Lookup("dsn"))
	_ = viper.BindPFlag("log.level", pf.Lookup("log-level"))
}

func actor() auth.Actor {
	return auth.Actor{ID: viper.GetString("actor-id"), Role: viper.GetString("role")}
}

// withSession opens the workspace database, applies pending migrations and
// hands the session to fn.
func withSession(ctx context.Context, fn func(context.Context, *app.Session) error) error {
	s, err := app.Open(ctx, app.Options{
		Workspace: viper.GetString("workspace"),
		Overrides: viper.GetViper(),
		Migrate:   true,
	})
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(ctx, s)
}

func printJSONOrTable(out io.Writer, v any) error {
	if viper.GetBool("json") {
		return printJSON(out, v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Fprintln(out, string(b))
	return nil
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printTable renders rows with go-pretty unless --json is set, in which case
// v is printed instead.
func printTable(out io.Writer, v any, header table.Row, rows []table.Row) error {
	if viper.GetBool("json") {
		return printJSON(out, v)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(out)
	tw.AppendHeader(header)
	tw.AppendRows(rows)
	tw.Render()
	return nil
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
