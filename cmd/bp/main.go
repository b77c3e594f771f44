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

	"batiplan/internal/app"
	"batiplan/internal/board"
	"batiplan/internal/config"
	"batiplan/internal/db"
	"batiplan/internal/domain"
	"batiplan/internal/engine"
	"batiplan/internal/migrate"
	"batiplan/internal/progress"
	"batiplan/internal/repo"
	"batiplan/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "bp",
	Short: "Batiplan CLI",
	Long: `Batiplan manages chantiers from quote to execution.
- Workspace: a .batiplan directory holding the SQLite database, plus a batiplan.yml config.
- Project (chantier): moves through devis -> preparation -> realisation as quotes are validated.
- Devis: quotes own ouvrages which own taches; validating a quote freezes its commercial content.
- Budget: typed lines (previsionnel/reel) in four categories roll up tache -> ouvrage -> devis -> chantier.
- Planning: tasks are sliced into daily sessions inside the business window (08:00-18:00 by default).
- EDT: worker assignments, one worker per date; duplicate days are skipped, not fatal.
- Event log: every mutation is recorded, view with 'bp log tail'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
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
	viper.SetEnvPrefix("BATIPLAN")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().Bool("force", false, "force operation")
	rootCmd.PersistentFlags().String("project", "", "project id (overrides config default)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("force", rootCmd.PersistentFlags().Lookup("force"))
	_ = viper.BindPFlag("project", rootCmd.PersistentFlags().Lookup("project"))
}

func registerCommands() {
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(clientCmd())
	rootCmd.AddCommand(quoteCmd())
	rootCmd.AddCommand(invoiceCmd())
	rootCmd.AddCommand(workCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(budgetCmd())
	rootCmd.AddCommand(workerCmd())
	rootCmd.AddCommand(jobCmd())
	rootCmd.AddCommand(assignCmd())
	rootCmd.AddCommand(scheduleCmd())
	rootCmd.AddCommand(boardCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

// --- project ---

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage chantiers"}
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectCreateCmd())
	prj.AddCommand(projectShowCmd())
	prj.AddCommand(projectUpdateCmd())
	prj.AddCommand(projectDeleteCmd())
	prj.AddCommand(projectPhaseCmd())
	return prj
}

func projectListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List chantiers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListProjects(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Nom", "Phase", "Adresse"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.Name, p.Phase, p.Address})
				}
				fmt.Println(tw.Render())
				return nil
			})
		},
	}
}

func projectCreateCmd() *cobra.Command {
	var id, name, clientID, address string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create chantier",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.CreateProject(ctx, engine.ProjectCreateOptions{
					ID:       id,
					Name:     name,
					ClientID: clientID,
					Address:  address,
					ActorID:  viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "project id (generated when empty)")
	cmd.Flags().StringVar(&name, "name", "", "project name")
	cmd.Flags().StringVar(&clientID, "client", "", "client id")
	cmd.Flags().StringVar(&address, "address", "", "site address")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func projectShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show chantier with its quote tree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				p, err := r.FetchProject(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	return cmd
}

func projectUpdateCmd() *cobra.Command {
	var name, address string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update chantier",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.UpdateProject(ctx, args[0], flagPtr(cmd, "name", name), flagPtr(cmd, "address", address))
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "project name")
	cmd.Flags().StringVar(&address, "address", "", "site address")
	return cmd
}

func projectDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete chantier",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.DeleteProject(ctx, args[0], viper.GetString("actor-id"))
			})
		},
	}
}

func projectPhaseCmd() *cobra.Command {
	phase := &cobra.Command{Use: "phase", Short: "Move the chantier phase"}
	phase.AddCommand(&cobra.Command{
		Use:   "advance <id>",
		Short: "Advance phase (devis -> preparation -> realisation)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.AdvanceProjectPhase(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	})
	phase.AddCommand(&cobra.Command{
		Use:   "retreat <id>",
		Short: "Move phase back",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.RetreatProjectPhase(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	})
	return phase
}

// --- config ---

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Workspace configuration"}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show batiplan.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(config.Path(viper.GetString("workspace")))
			if err != nil {
				return err
			}
			fmt.Print(string(data))
			return nil
		},
	}
}

func configInitCmd() *cobra.Command {
	var projectID string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default batiplan.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			return os.WriteFile(path, []byte(config.GenerateDefault(projectID)), 0o644)
		},
	}
	cmd.Flags().StringVar(&projectID, "project-id", "chantier-1", "project id to seed")
	return cmd
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate batiplan.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := config.Load(viper.GetString("workspace"))
			if viper.GetBool("json") {
				out := map[string]any{"ok": err == nil}
				if err != nil {
					out["error"] = err.Error()
				}
				return printJSON(out)
			}
			if err != nil {
				return err
			}
			fmt.Println("config ok")
			return nil
		},
	}
}

// --- status ---

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Chantier status: phase, board counts, budget",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.Repo.FetchProject(ctx, e.Config.Project.ID)
				if err != nil {
					return err
				}
				counts := map[string]int{}
				for _, q := range p.Quotes {
					for _, w := range q.Works {
						for _, t := range w.Tasks {
							counts[t.State]++
						}
					}
				}
				sum, err := e.BudgetSummary(ctx, p.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{
					"project_id":       p.ID,
					"phase_projet":     p.Phase,
					"task_counts":      counts,
					"chiffre_affaires": sum.Revenue,
					"depenses":         sum.Expenses,
				})
			})
		},
	}
}

// --- clients ---

func clientCmd() *cobra.Command {
	c := &cobra.Command{Use: "client", Short: "Manage clients"}
	c.AddCommand(clientCreateCmd())
	c.AddCommand(clientListCmd())
	return c
}

func clientCreateCmd() *cobra.Command {
	var name, email, contact string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create client",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.CreateClient(ctx, engine.ClientCreateOptions{Name: name, Email: email, Contact: contact})
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "client name")
	cmd.Flags().StringVar(&email, "email", "", "email")
	cmd.Flags().StringVar(&contact, "contact", "", "contact")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func clientListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List clients",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListClients(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
}

// --- quotes ---

func quoteCmd() *cobra.Command {
	q := &cobra.Command{Use: "quote", Short: "Manage devis"}
	q.AddCommand(quoteCreateCmd())
	q.AddCommand(quoteListCmd())
	q.AddCommand(quoteShowCmd())
	q.AddCommand(quoteStateCmd("validate", "Validate devis (freezes content, advances phase)"))
	q.AddCommand(quoteStateCmd("refuse", "Refuse devis"))
	q.AddCommand(quoteStateCmd("revert", "Put devis back to en attente"))
	q.AddCommand(quoteDeleteCmd())
	return q
}

func quoteCreateCmd() *cobra.Command {
	var reference, file string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create devis, optionally from a JSON ouvrage tree",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts := engine.QuoteCreateOptions{
					ProjectID: e.Config.Project.ID,
					Reference: reference,
					ActorID:   viper.GetString("actor-id"),
				}
				if file != "" {
					data, err := os.ReadFile(file)
					if err != nil {
						return err
					}
					if err := json.Unmarshal(data, &opts.Works); err != nil {
						return fmt.Errorf("parse %s: %w", file, err)
					}
				}
				q, err := e.CreateQuote(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(q)
			})
		},
	}
	cmd.Flags().StringVar(&reference, "reference", "", "quote reference (generated when empty)")
	cmd.Flags().StringVar(&file, "file", "", "JSON file with the ouvrage tree")
	return cmd
}

func quoteListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List devis of the chantier",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListQuotes(ctx, e.Config.Project.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Reference", "Etat", "Montant"})
				for _, q := range items {
					tw.AppendRow(table.Row{q.ID, q.Reference, q.State, fmt.Sprintf("%.2f", q.MontantTotal)})
				}
				fmt.Println(tw.Render())
				return nil
			})
		},
	}
}

func quoteShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show devis with ouvrages and taches",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				q, err := r.GetQuote(ctx, args[0])
				if err != nil {
					return err
				}
				works, err := r.ListWorks(ctx, q.ID)
				if err != nil {
					return err
				}
				for i := range works {
					tasks, err := r.ListTasks(ctx, works[i].ID)
					if err != nil {
						return err
					}
					works[i].Tasks = tasks
				}
				q.Works = works
				return printJSONOrTable(q)
			})
		},
	}
}

func quoteStateCmd(verb, short string) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor := viper.GetString("actor-id")
				var (
					q   domain.Quote
					err error
				)
				switch verb {
				case "validate":
					q, err = e.ValidateQuote(ctx, args[0], actor)
				case "refuse":
					q, err = e.RefuseQuote(ctx, args[0], actor)
				default:
					q, err = e.RevertQuote(ctx, args[0], actor)
				}
				if err != nil {
					return err
				}
				return printJSONOrTable(q)
			})
		},
	}
}

func quoteDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete devis",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.DeleteQuote(ctx, args[0], viper.GetString("actor-id"))
			})
		},
	}
}

// --- invoices (factures) ---

func invoiceCmd() *cobra.Command {
	f := &cobra.Command{Use: "invoice", Short: "Manage factures"}
	var quoteID string
	create := &cobra.Command{
		Use:   "create",
		Short: "Bill a validated devis",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				inv, err := e.CreateInvoice(ctx, quoteID, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(inv)
			})
		},
	}
	create.Flags().StringVar(&quoteID, "quote", "", "devis id")
	_ = create.MarkFlagRequired("quote")
	f.AddCommand(create)
	f.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List factures of the chantier",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListInvoices(ctx, e.Config.Project.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Reference", "Devis", "Montant", "Date"})
				for _, inv := range items {
					devisID := ""
					if inv.QuoteID != nil {
						devisID = *inv.QuoteID
					}
					tw.AppendRow(table.Row{inv.ID, inv.Reference, devisID, fmt.Sprintf("%.2f", inv.MontantTotal), inv.CreatedAt})
				}
				fmt.Println(tw.Render())
				return nil
			})
		},
	})
	f.AddCommand(&cobra.Command{
		Use:   "delete <id>",
		Short: "Delete facture",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.DeleteInvoice(ctx, args[0], viper.GetString("actor-id"))
			})
		},
	})
	return f
}

// --- works (ouvrages) ---

func workCmd() *cobra.Command {
	w := &cobra.Command{Use: "work", Short: "Manage ouvrages"}
	w.AddCommand(workAddCmd())
	w.AddCommand(workDeleteCmd())
	return w
}

func workAddCmd() *cobra.Command {
	var quoteID, name, description string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add ouvrage to a devis",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				w, err := e.CreateWork(ctx, quoteID, name, description, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(w)
			})
		},
	}
	cmd.Flags().StringVar(&quoteID, "quote", "", "devis id")
	cmd.Flags().StringVar(&name, "name", "", "ouvrage name")
	cmd.Flags().StringVar(&description, "description", "", "description")
	_ = cmd.MarkFlagRequired("quote")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func workDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete ouvrage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.DeleteWork(ctx, args[0], viper.GetString("actor-id"))
			})
		},
	}
}

// --- tasks ---

func taskCmd() *cobra.Command {
	t := &cobra.Command{Use: "task", Short: "Manage taches"}
	t.AddCommand(taskAddCmd())
	t.AddCommand(taskShowCmd())
	t.AddCommand(taskPlanCmd())
	t.AddCommand(taskExecuteCmd())
	t.AddCommand(taskMoveCmd())
	t.AddCommand(taskProgressCmd())
	t.AddCommand(taskDeleteCmd())
	return t
}

func taskAddCmd() *cobra.Command {
	var workID, name, description string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add tache to an ouvrage",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.CreateTask(ctx, workID, name, description, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&workID, "work", "", "ouvrage id")
	cmd.Flags().StringVar(&name, "name", "", "task name")
	cmd.Flags().StringVar(&description, "description", "", "description")
	_ = cmd.MarkFlagRequired("work")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func taskShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show tache",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				t, err := r.GetTask(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
}

func taskPlanCmd() *cobra.Command {
	var start, end string
	cmd := &cobra.Command{
		Use:   "plan <id>",
		Short: "Plan tache over a date range",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			from, to, err := parseRange(start, end)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				plan, err := e.PlanTask(ctx, args[0], from, to, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(plan)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"Date", "Debut", "Fin"})
				for _, s := range plan.Sessions {
					tw.AppendRow(table.Row{s.Date, s.Start, s.End})
				}
				fmt.Println(tw.Render())
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&start, "start", "", "range start (2006-01-02 or 2006-01-02T15:04)")
	cmd.Flags().StringVar(&end, "end", "", "range end")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")
	return cmd
}

func taskExecuteCmd() *cobra.Command {
	var actualStart, actualEnd string
	cmd := &cobra.Command{
		Use:   "execute <id>",
		Short: "Record actual execution dates",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.ExecuteTask(ctx, args[0],
					flagPtr(cmd, "actual-start", actualStart),
					flagPtr(cmd, "actual-end", actualEnd),
					viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&actualStart, "actual-start", "", "actual start date (2006-01-02, empty to clear)")
	cmd.Flags().StringVar(&actualEnd, "actual-end", "", "actual end date (2006-01-02, empty to clear)")
	return cmd
}

func taskMoveCmd() *cobra.Command {
	var to string
	cmd := &cobra.Command{
		Use:   "move <id>",
		Short: "Move tache to another state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.MoveTask(ctx, args[0], to, viper.GetBool("force"), viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "target state: en attente | en cours | termine")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func taskProgressCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "progress <id>",
		Short: "Estimated completion percent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				pct, err := e.TaskProgress(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]int{"percent": pct})
			})
		},
	}
}

func taskDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete tache",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.DeleteTask(ctx, args[0], viper.GetString("actor-id"))
			})
		},
	}
}

// --- budget ---

func budgetCmd() *cobra.Command {
	b := &cobra.Command{Use: "budget", Short: "Budget lines and rollups"}
	b.AddCommand(budgetAddCmd())
	b.AddCommand(budgetLinesCmd())
	b.AddCommand(budgetDeleteCmd())
	b.AddCommand(budgetSummaryCmd())
	return b
}

func budgetAddCmd() *cobra.Command {
	var taskID, kind, category string
	var unitPrice, quantity float64
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add budget line to a tache",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				l, err := e.AddBudgetLine(ctx, taskID, engine.LineInput{
					Kind:      kind,
					Category:  category,
					UnitPrice: unitPrice,
					Quantity:  quantity,
				}, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(l)
			})
		},
	}
	cmd.Flags().StringVar(&taskID, "task", "", "tache id")
	cmd.Flags().StringVar(&kind, "type", "previsionnel", "previsionnel | reel")
	cmd.Flags().StringVar(&category, "category", "", "mo | materiaux | materiels | sous_traitance")
	cmd.Flags().Float64Var(&unitPrice, "unit-price", 0, "unit price")
	cmd.Flags().Float64Var(&quantity, "quantity", 1, "quantity (>= 1)")
	_ = cmd.MarkFlagRequired("task")
	_ = cmd.MarkFlagRequired("category")
	return cmd
}

func budgetLinesCmd() *cobra.Command {
	var taskID string
	cmd := &cobra.Command{
		Use:   "lines",
		Short: "List budget lines of a tache",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				lines, err := e.ListBudgetLines(ctx, taskID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(lines)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Type", "Categorie", "PU", "Qte", "Montant"})
				for _, l := range lines {
					tw.AppendRow(table.Row{l.ID, l.Kind, l.Category,
						fmt.Sprintf("%.2f", l.UnitPrice), fmt.Sprintf("%g", l.Quantity), fmt.Sprintf("%.2f", l.Amount())})
				}
				fmt.Println(tw.Render())
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&taskID, "task", "", "tache id")
	_ = cmd.MarkFlagRequired("task")
	return cmd
}

func budgetDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <line-id>",
		Short: "Delete budget line",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.DeleteBudgetLine(ctx, args[0], viper.GetString("actor-id"))
			})
		},
	}
}

func budgetSummaryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "summary",
		Short: "Chantier budget rollup",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				sum, err := e.BudgetSummary(ctx, e.Config.Project.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(sum)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"", "MO", "Materiaux", "Materiels", "Sous-traitance", "Total"})
				tw.AppendRow(table.Row{"Previsionnel",
					fmt.Sprintf("%.2f", sum.Previsionnel.MO), fmt.Sprintf("%.2f", sum.Previsionnel.Materiaux),
					fmt.Sprintf("%.2f", sum.Previsionnel.Materiels), fmt.Sprintf("%.2f", sum.Previsionnel.SousTraitance),
					fmt.Sprintf("%.2f", sum.Previsionnel.Total())})
				tw.AppendRow(table.Row{"Reel",
					fmt.Sprintf("%.2f", sum.Reel.MO), fmt.Sprintf("%.2f", sum.Reel.Materiaux),
					fmt.Sprintf("%.2f", sum.Reel.Materiels), fmt.Sprintf("%.2f", sum.Reel.SousTraitance),
					fmt.Sprintf("%.2f", sum.Reel.Total())})
				fmt.Println(tw.Render())
				fmt.Printf("chiffre d'affaires: %.2f  depenses: %.2f\n", sum.Revenue, sum.Expenses)
				return nil
			})
		},
	}
}

// --- workers and jobs ---

func workerCmd() *cobra.Command {
	w := &cobra.Command{Use: "worker", Short: "Manage ouvriers"}
	w.AddCommand(workerCreateCmd())
	w.AddCommand(workerListCmd())
	return w
}

func workerCreateCmd() *cobra.Command {
	var name, firstname, jobID string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create ouvrier",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				w, err := e.CreateWorker(ctx, engine.WorkerCreateOptions{Name: name, Firstname: firstname, JobID: jobID})
				if err != nil {
					return err
				}
				return printJSONOrTable(w)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "last name")
	cmd.Flags().StringVar(&firstname, "firstname", "", "first name")
	cmd.Flags().StringVar(&jobID, "job", "", "metier id")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("firstname")
	return cmd
}

func workerListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List ouvriers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListWorkers(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
}

func jobCmd() *cobra.Command {
	j := &cobra.Command{Use: "job", Short: "Manage metiers"}
	var name string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create metier",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				job, err := e.CreateJob(ctx, "", name)
				if err != nil {
					return err
				}
				return printJSONOrTable(job)
			})
		},
	}
	create.Flags().StringVar(&name, "name", "", "metier name")
	_ = create.MarkFlagRequired("name")
	j.AddCommand(create)
	j.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List metiers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListJobs(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	})
	return j
}

// --- assignments ---

func assignCmd() *cobra.Command {
	var taskID, start, end string
	var workers []string
	cmd := &cobra.Command{
		Use:   "assign",
		Short: "Assign ouvriers to a tache over a date range",
		RunE: func(cmd *cobra.Command, args []string) error {
			from, to, err := parseRange(start, end)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.AssignWorkers(ctx, taskID, workers, from, to, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("attempted %d, created %d, skipped %d\n", res.Attempted, res.Created, len(res.Skipped))
				for _, s := range res.Skipped {
					fmt.Printf("  skipped: %s on %s (already assigned)\n", s.WorkerID, s.Date)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&taskID, "task", "", "tache id")
	cmd.Flags().StringSliceVar(&workers, "worker", nil, "ouvrier id (repeatable)")
	cmd.Flags().StringVar(&start, "start", "", "range start")
	cmd.Flags().StringVar(&end, "end", "", "range end")
	_ = cmd.MarkFlagRequired("task")
	_ = cmd.MarkFlagRequired("worker")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")
	return cmd
}

func scheduleCmd() *cobra.Command {
	s := &cobra.Command{Use: "schedule", Short: "EDT entries"}
	var taskID, workerID, from, to, status string
	list := &cobra.Command{
		Use:   "list",
		Short: "List EDT entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListSchedule(ctx, repo.ScheduleFilter{
					TaskID: taskID, WorkerID: workerID, From: from, To: to, Status: status,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Tache", "Ouvrier", "Date", "Debut", "Fin", "Status"})
				for _, entry := range items {
					tw.AppendRow(table.Row{entry.ID, entry.TaskID, entry.WorkerID, entry.Date, entry.StartTime, entry.EndTime, entry.Status})
				}
				fmt.Println(tw.Render())
				return nil
			})
		},
	}
	list.Flags().StringVar(&taskID, "task", "", "tache id")
	list.Flags().StringVar(&workerID, "worker", "", "ouvrier id")
	list.Flags().StringVar(&from, "from", "", "from date")
	list.Flags().StringVar(&to, "to", "", "to date")
	list.Flags().StringVar(&status, "status", "", "status filter")
	s.AddCommand(list)
	s.AddCommand(&cobra.Command{
		Use:   "cancel <entry-id>",
		Short: "Cancel EDT entry (frees the day)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				entry, err := e.CancelAssignment(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(entry)
			})
		},
	})
	s.AddCommand(&cobra.Command{
		Use:   "complete <entry-id>",
		Short: "Mark EDT entry completed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				entry, err := e.CompleteAssignment(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(entry)
			})
		},
	})
	return s
}

// --- board ---

func boardCmd() *cobra.Command {
	b := &cobra.Command{Use: "board", Short: "Kanban board"}
	b.AddCommand(boardShowCmd())
	b.AddCommand(boardMoveCmd())
	return b
}

func boardShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the chantier board",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				kb := board.New(e, e.Config.Project.ID)
				if err := kb.Load(ctx); err != nil {
					return err
				}
				cols := kb.Columns()
				if viper.GetBool("json") {
					return printJSON(cols)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"Etat", "ID", "Tache", "Avancement"})
				now := time.Now()
				appendCol := func(label string, tasks []domain.Task) {
					for _, t := range tasks {
						tw.AppendRow(table.Row{label, t.ID, t.Name, fmt.Sprintf("%d%%", progress.Estimate(t, now))})
					}
				}
				appendCol("en attente", cols.Pending)
				appendCol("en cours", cols.InProgress)
				appendCol("termine", cols.Done)
				fmt.Println(tw.Render())
				return nil
			})
		},
	}
}

func boardMoveCmd() *cobra.Command {
	var to string
	cmd := &cobra.Command{
		Use:   "move <task-id>",
		Short: "Move a tache between columns",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				kb := board.New(e, e.Config.Project.ID)
				if err := kb.Load(ctx); err != nil {
					return err
				}
				if err := kb.Move(ctx, args[0], to, viper.GetBool("force")); err != nil && !errors.Is(err, board.ErrSameColumn) {
					return err
				}
				return printJSONOrTable(kb.Columns())
			})
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "target state: en attente | en cours | termine")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

// --- api keys ---

func apikeyCmd() *cobra.Command {
	k := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	var actorID, name, key string
	create := &cobra.Command{
		Use:   "create",
		Short: "Store an API key (hashed)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				rec := domain.APIKey{
					ID:      newKeyID(),
					ActorID: actorID,
					Name:    name,
					KeyHash: repo.HashAPIKey(key),
				}
				if err := r.InsertAPIKey(ctx, nil, rec); err != nil {
					return err
				}
				return printJSONOrTable(rec)
			})
		},
	}
	create.Flags().StringVar(&actorID, "actor", "", "actor id the key authenticates as")
	create.Flags().StringVar(&name, "name", "", "key label")
	create.Flags().StringVar(&key, "key", "", "raw key value")
	_ = create.MarkFlagRequired("actor")
	_ = create.MarkFlagRequired("key")
	k.AddCommand(create)
	k.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				keys, err := r.ListAPIKeys(ctx, "")
				if err != nil {
					return err
				}
				return printJSONOrTable(keys)
			})
		},
	})
	k.AddCommand(&cobra.Command{
		Use:   "delete <id>",
		Short: "Delete API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, args[0])
			})
		},
	})
	return k
}

// --- log ---

func logCmd() *cobra.Command {
	l := &cobra.Command{Use: "log", Short: "Event log"}
	var n int
	var evtType, entityKind, entityID string
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.LatestEvents(ctx, n, e.Config.Project.ID, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	tail.Flags().IntVar(&n, "n", 20, "number of events")
	tail.Flags().StringVar(&evtType, "type", "", "event type filter")
	tail.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	tail.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	l.AddCommand(tail)
	return l
}

// --- serve ---

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			r := repo.Repo{DB: conn}
			_, cfg, err := app.ResolveProjectAndConfig(cmd.Context(), workspace, viper.GetString("project"), viper.GetString("actor-id"), r)
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			authCfg := server.AuthConfig{JWTSecret: os.Getenv("BATIPLAN_JWT_SECRET")}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("BATIPLAN_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
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
			fmt.Printf("Serving Batiplan API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	r := repo.Repo{DB: conn}
	_, cfg, err := app.ResolveProjectAndConfig(ctx, workspace, viper.GetString("project"), viper.GetString("actor-id"), r)
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg)
	return fn(ctx, e)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable() table.Writer {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleLight)
	return tw
}

// flagPtr returns a pointer to the flag value only when the flag was
// set, so PATCH-style updates can distinguish "leave alone" from
// "set to empty".
func flagPtr(cmd *cobra.Command, name, value string) *string {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	return &value
}

// parseRange accepts dates or date-times for planning ranges.
func parseRange(start, end string) (time.Time, time.Time, error) {
	parse := func(s string) (time.Time, error) {
		for _, layout := range []string{"2006-01-02T15:04", time.RFC3339, "2006-01-02"} {
			if t, err := time.Parse(layout, s); err == nil {
				return t, nil
			}
		}
		return time.Time{}, fmt.Errorf("invalid date %q", s)
	}
	from, err := parse(start)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	to, err := parse(end)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return from, to, nil
}

func newKeyID() string {
	return fmt.Sprintf("key-%d", time.Now().UnixNano())
}
