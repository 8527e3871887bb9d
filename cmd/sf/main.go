package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"signoff/internal/audit"
	"signoff/internal/config"
	"signoff/internal/db"
	"signoff/internal/domain"
	"signoff/internal/engine"
	"signoff/internal/migrate"
	"signoff/internal/server"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

type env struct {
	eng engine.Engine
	cfg config.Config
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "sf",
		Short:         "signoff is a hierarchical data approval engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("workspace", ".", "workspace directory")
	root.PersistentFlags().Bool("json", false, "print raw JSON instead of tables")
	root.PersistentFlags().String("actor", "", "uid of the user performing the action")

	viper.SetEnvPrefix("SIGNOFF")
	viper.AutomaticEnv()
	viper.BindPFlag("workspace", root.PersistentFlags().Lookup("workspace"))
	viper.BindPFlag("actor", root.PersistentFlags().Lookup("actor"))

	root.AddCommand(initCmd(), levelCmd(), workflowCmd(), orgUnitCmd(), userCmd(),
		actionCmd("approve"), actionCmd("unapprove"), actionCmd("accept"), actionCmd("unaccept"),
		statusCmd(), auditCmd(), serveCmd())
	return root
}

func workspaceDir() string {
	return viper.GetString("workspace")
}

func openEnv(log zerolog.Logger) (env, error) {
	ws := workspaceDir()
	cfgPath := filepath.Join(ws, ".signoff", "signoff.yml")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return env{}, err
	}
	d, err := db.Open(filepath.Join(ws, ".signoff", "signoff.db"))
	if err != nil {
		return env{}, err
	}
	if err := migrate.Apply(context.Background(), d); err != nil {
		return env{}, err
	}
	return env{eng: engine.New(d, cfg.Settings, log), cfg: cfg}, nil
}

func actor(cmd *cobra.Command, e env) (domain.User, error) {
	uid := viper.GetString("actor")
	if uid == "" {
		return domain.User{}, fmt.Errorf("--actor is required")
	}
	return e.eng.User(cmd.Context(), uid)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func wantJSON(cmd *cobra.Command) bool {
	ok, _ := cmd.Root().PersistentFlags().GetBool("json")
	return ok
}

func newTable(header ...any) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row(header))
	return t
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize a workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			ws := workspaceDir()
			cfgPath := filepath.Join(ws, ".signoff", "signoff.yml")
			if _, err := os.Stat(cfgPath); err == nil {
				return fmt.Errorf("workspace already initialized at %s", cfgPath)
			}
			if err := config.Save(cfgPath, config.Default()); err != nil {
				return err
			}
			if _, err := openEnv(zerolog.Nop()); err != nil {
				return err
			}
			fmt.Println("initialized workspace in", filepath.Join(ws, ".signoff"))
			return nil
		},
	}
}

func levelCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "level", Short: "Manage the approval level registry"}

	add := &cobra.Command{
		Use:   "add",
		Short: "Add an approval level",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(zerolog.Nop())
			if err != nil {
				return err
			}
			name, _ := cmd.Flags().GetString("name")
			ouLevel, _ := cmd.Flags().GetInt("org-unit-level")
			cogs, _ := cmd.Flags().GetString("cogs")
			var cogsPtr *string
			if cogs != "" {
				cogsPtr = &cogs
			}
			lv, err := e.eng.AddLevel(cmd.Context(), name, ouLevel, cogsPtr)
			if err != nil {
				return err
			}
			if wantJSON(cmd) {
				return printJSON(lv)
			}
			fmt.Printf("level %s added at position %d\n", lv.UID, lv.Level)
			return nil
		},
	}
	add.Flags().String("name", "", "level name")
	add.Flags().Int("org-unit-level", 0, "org unit tree depth the level binds to")
	add.Flags().String("cogs", "", "category option group set uid")
	add.MarkFlagRequired("name")
	add.MarkFlagRequired("org-unit-level")

	ls := &cobra.Command{
		Use:   "ls",
		Short: "List approval levels",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(zerolog.Nop())
			if err != nil {
				return err
			}
			levels, err := e.eng.Levels(cmd.Context())
			if err != nil {
				return err
			}
			if wantJSON(cmd) {
				return printJSON(levels)
			}
			t := newTable("LEVEL", "UID", "NAME", "ORG UNIT LEVEL")
			for _, lv := range levels {
				t.AppendRow(table.Row{lv.Level, lv.UID, lv.Name, lv.OrgUnitLevel})
			}
			t.Render()
			return nil
		},
	}

	rm := &cobra.Command{
		Use:   "rm <uid>",
		Short: "Delete an approval level",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(zerolog.Nop())
			if err != nil {
				return err
			}
			return e.eng.DeleteLevel(cmd.Context(), args[0])
		},
	}

	moveUp := &cobra.Command{
		Use:   "move-up <uid>",
		Short: "Swap a level with the one above it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(zerolog.Nop())
			if err != nil {
				return err
			}
			return e.eng.MoveLevelUp(cmd.Context(), args[0])
		},
	}

	moveDown := &cobra.Command{
		Use:   "move-down <uid>",
		Short: "Swap a level with the one below it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(zerolog.Nop())
			if err != nil {
				return err
			}
			return e.eng.MoveLevelDown(cmd.Context(), args[0])
		},
	}

	cmd.AddCommand(add, ls, rm, moveUp, moveDown)
	return cmd
}

func workflowCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "workflow", Short: "Manage approval workflows"}

	add := &cobra.Command{
		Use:   "add",
		Short: "Create a workflow over existing levels",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(zerolog.Nop())
			if err != nil {
				return err
			}
			name, _ := cmd.Flags().GetString("name")
			periodType, _ := cmd.Flags().GetString("period-type")
			levels, _ := cmd.Flags().GetString("levels")
			var uids []string
			if levels != "" {
				uids = strings.Split(levels, ",")
			}
			wf, err := e.eng.CreateWorkflow(cmd.Context(), name, periodType, uids)
			if err != nil {
				return err
			}
			if wantJSON(cmd) {
				return printJSON(wf)
			}
			fmt.Println("workflow", wf.UID, "created")
			return nil
		},
	}
	add.Flags().String("name", "", "workflow name")
	add.Flags().String("period-type", domain.PeriodMonthly, "period type")
	add.Flags().String("levels", "", "comma-separated level uids")
	add.MarkFlagRequired("name")

	ls := &cobra.Command{
		Use:   "ls",
		Short: "List workflows",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(zerolog.Nop())
			if err != nil {
				return err
			}
			wfs, err := e.eng.Repo.ListWorkflows(cmd.Context())
			if err != nil {
				return err
			}
			if wantJSON(cmd) {
				return printJSON(wfs)
			}
			t := newTable("UID", "NAME", "PERIOD TYPE", "LEVELS")
			for _, wf := range wfs {
				t.AppendRow(table.Row{wf.UID, wf.Name, wf.PeriodType, len(wf.Levels)})
			}
			t.Render()
			return nil
		},
	}

	cmd.AddCommand(add, ls)
	return cmd
}

func orgUnitCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "orgunit", Short: "Manage the org unit hierarchy"}

	add := &cobra.Command{
		Use:   "add",
		Short: "Add an org unit",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(zerolog.Nop())
			if err != nil {
				return err
			}
			name, _ := cmd.Flags().GetString("name")
			parent, _ := cmd.Flags().GetString("parent")
			var parentPtr *string
			if parent != "" {
				parentPtr = &parent
			}
			ou, err := e.eng.CreateOrgUnit(cmd.Context(), name, parentPtr)
			if err != nil {
				return err
			}
			if wantJSON(cmd) {
				return printJSON(ou)
			}
			fmt.Printf("org unit %s added at depth %d\n", ou.UID, ou.Level)
			return nil
		},
	}
	add.Flags().String("name", "", "org unit name")
	add.Flags().String("parent", "", "parent org unit uid")
	add.MarkFlagRequired("name")

	ls := &cobra.Command{
		Use:   "ls",
		Short: "List org units",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(zerolog.Nop())
			if err != nil {
				return err
			}
			ous, err := e.eng.Repo.ListOrgUnits(cmd.Context())
			if err != nil {
				return err
			}
			if wantJSON(cmd) {
				return printJSON(ous)
			}
			t := newTable("UID", "NAME", "DEPTH", "PATH")
			for _, ou := range ous {
				t.AppendRow(table.Row{ou.UID, ou.Name, ou.Level, ou.Path})
			}
			t.Render()
			return nil
		},
	}

	rm := &cobra.Command{
		Use:   "rm <uid>",
		Short: "Remove an org unit subtree and its approvals",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(zerolog.Nop())
			if err != nil {
				return err
			}
			return e.eng.DeleteOrgUnit(cmd.Context(), args[0])
		},
	}

	clear := &cobra.Command{
		Use:   "clear-approvals <uid>",
		Short: "Remove the approvals of an org unit subtree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(zerolog.Nop())
			if err != nil {
				return err
			}
			n, err := e.eng.DeleteApprovalsForOrgUnit(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Println(n, "approvals removed")
			return nil
		},
	}

	cmd.AddCommand(add, ls, rm, clear)
	return cmd
}

func userCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "user", Short: "Manage users"}

	add := &cobra.Command{
		Use:   "add",
		Short: "Register a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(zerolog.Nop())
			if err != nil {
				return err
			}
			name, _ := cmd.Flags().GetString("name")
			ou, _ := cmd.Flags().GetString("org-unit")
			auths, _ := cmd.Flags().GetStringSlice("authority")
			access, _ := cmd.Flags().GetStringSlice("access")
			var ouPtr *string
			if ou != "" {
				ouPtr = &ou
			}
			u, err := e.eng.CreateUser(cmd.Context(), name, ouPtr, auths, access)
			if err != nil {
				return err
			}
			if wantJSON(cmd) {
				return printJSON(u)
			}
			fmt.Println("user", u.UID, "created")
			return nil
		},
	}
	add.Flags().String("name", "", "user name")
	add.Flags().String("org-unit", "", "org unit the user belongs to")
	add.Flags().StringSlice("authority", nil, "authority to grant, repeatable")
	add.Flags().StringSlice("access", nil, "org unit subtree the user can reach, repeatable")
	add.MarkFlagRequired("name")

	ls := &cobra.Command{
		Use:   "ls",
		Short: "List users",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(zerolog.Nop())
			if err != nil {
				return err
			}
			users, err := e.eng.Repo.ListUsers(cmd.Context())
			if err != nil {
				return err
			}
			if wantJSON(cmd) {
				return printJSON(users)
			}
			t := newTable("UID", "NAME", "ORG UNIT")
			for _, u := range users {
				ou := ""
				if u.OrgUnitUID != nil {
					ou = *u.OrgUnitUID
				}
				t.AppendRow(table.Row{u.UID, u.Name, ou})
			}
			t.Render()
			return nil
		},
	}

	apikey := &cobra.Command{
		Use:   "apikey <uid>",
		Short: "Issue an api key for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(zerolog.Nop())
			if err != nil {
				return err
			}
			label, _ := cmd.Flags().GetString("label")
			key, err := e.eng.IssueAPIKey(cmd.Context(), args[0], label)
			if err != nil {
				return err
			}
			fmt.Println(key)
			return nil
		},
	}
	apikey.Flags().String("label", "", "key label")

	cmd.AddCommand(add, ls, apikey)
	return cmd
}

func selectionFlags(cmd *cobra.Command) {
	cmd.Flags().String("wf", "", "workflow uid")
	cmd.Flags().String("pe", "", "ISO period")
	cmd.Flags().String("ou", "", "org unit uid")
	cmd.Flags().String("aoc", "", "attribute option combo")
	cmd.MarkFlagRequired("wf")
	cmd.MarkFlagRequired("pe")
	cmd.MarkFlagRequired("ou")
}

func selectionFrom(cmd *cobra.Command) domain.Selection {
	wf, _ := cmd.Flags().GetString("wf")
	pe, _ := cmd.Flags().GetString("pe")
	ou, _ := cmd.Flags().GetString("ou")
	aoc, _ := cmd.Flags().GetString("aoc")
	return domain.Selection{WorkflowUID: wf, Period: pe, OrgUnitUID: ou, AttributeOptionComboUID: aoc}
}

func actionCmd(name string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   name,
		Short: strings.ToUpper(name[:1]) + name[1:] + " a selection",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(zerolog.Nop())
			if err != nil {
				return err
			}
			user, err := actor(cmd, e)
			if err != nil {
				return err
			}
			sel := selectionFrom(cmd)
			switch name {
			case "approve":
				_, err = e.eng.Approve(cmd.Context(), user, sel)
			case "unapprove":
				err = e.eng.Unapprove(cmd.Context(), user, sel)
			case "accept":
				err = e.eng.Accept(cmd.Context(), user, sel)
			case "unaccept":
				err = e.eng.Unaccept(cmd.Context(), user, sel)
			}
			if err != nil {
				return err
			}
			fmt.Println(name, "ok")
			return nil
		},
	}
	selectionFlags(cmd)
	return cmd
}

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Resolve the approval status of a selection",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(zerolog.Nop())
			if err != nil {
				return err
			}
			user, err := actor(cmd, e)
			if err != nil {
				return err
			}
			sel := selectionFrom(cmd)
			sel.AsOf, _ = cmd.Flags().GetString("ad")
			st, err := e.eng.Status(cmd.Context(), user, sel)
			if err != nil {
				return err
			}
			if wantJSON(cmd) {
				return printJSON(st)
			}
			t := newTable("FIELD", "VALUE")
			t.AppendRow(table.Row{"state", st.State})
			if st.ApprovedLevel != nil {
				t.AppendRow(table.Row{"approved level", st.ApprovedLevel.Level})
				t.AppendRow(table.Row{"approved org unit", st.ApprovedOrgUnitUID})
			}
			if st.ActionLevel != nil {
				t.AppendRow(table.Row{"action level", st.ActionLevel.Level})
			}
			p := st.Permissions
			t.AppendRow(table.Row{"may approve", p.MayApprove})
			t.AppendRow(table.Row{"may unapprove", p.MayUnapprove})
			t.AppendRow(table.Row{"may accept", p.MayAccept})
			t.AppendRow(table.Row{"may unaccept", p.MayUnaccept})
			t.AppendRow(table.Row{"may read", p.MayReadData})
			t.Render()
			return nil
		},
	}
	selectionFlags(cmd)
	cmd.Flags().String("ad", "", "only count approvals created at or before this RFC3339 instant")
	return cmd
}

func auditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "List the approval audit trail",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(zerolog.Nop())
			if err != nil {
				return err
			}
			wf, _ := cmd.Flags().GetString("wf")
			ou, _ := cmd.Flags().GetString("ou")
			action, _ := cmd.Flags().GetString("action")
			rows, err := e.eng.Audits(cmd.Context(), audit.Filter{
				WorkflowUID: wf,
				OrgUnitUID:  ou,
				Action:      domain.AuditAction(action),
			})
			if err != nil {
				return err
			}
			if wantJSON(cmd) {
				return printJSON(rows)
			}
			t := newTable("AT", "ACTION", "WORKFLOW", "PERIOD", "ORG UNIT", "BY")
			for _, a := range rows {
				t.AppendRow(table.Row{a.CreatedAt, a.Action, a.WorkflowUID, a.Period, a.OrgUnitUID, a.CreatedBy})
			}
			t.Render()
			return nil
		},
	}
	cmd.Flags().String("wf", "", "filter by workflow uid")
	cmd.Flags().String("ou", "", "filter by org unit uid")
	cmd.Flags().String("action", "", "filter by action")
	return cmd
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := zerolog.New(os.Stderr).With().Timestamp().Logger()
			e, err := openEnv(log)
			if err != nil {
				return err
			}
			addr, _ := cmd.Flags().GetString("addr")
			if addr == "" {
				addr = e.cfg.Server.Addr
			}
			secret := e.cfg.Server.JWTSecret
			if secret == "" {
				return fmt.Errorf("server.jwt_secret must be set in signoff.yml")
			}
			srv := &http.Server{
				Addr:              addr,
				Handler:           server.New(e.eng, secret, log).Handler(),
				ReadHeaderTimeout: 5 * time.Second,
			}
			log.Info().Str("addr", addr).Msg("listening")
			return srv.ListenAndServe()
		},
	}
	cmd.Flags().String("addr", "", "listen address, defaults to server.addr from signoff.yml")
	return cmd
}
