package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"ugchub/internal/app"
	"ugchub/internal/engine"
	"ugchub/internal/engine/auth"
	"ugchub/internal/onboarding"
	"ugchub/internal/repo"
)

func templateCmd() *cobra.Command {
	tpl := &cobra.Command{Use: "template", Short: "Deliverable templates"}
	tpl.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List templates",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s *app.Session) error {
				items := s.Engine.Catalog.List()
				rows := make([]table.Row, 0, len(items))
				for _, t := range items {
					rows = append(rows, table.Row{t.ID, t.Name, len(t.Specs)})
				}
				return printTable(cmd.OutOrStdout(), items, table.Row{"ID", "Name", "Deliverables"}, rows)
			})
		},
	})
	tpl.AddCommand(&cobra.Command{
		Use:   "show <id>",
		Short: "Show a template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s *app.Session) error {
				t, err := s.Engine.Catalog.Get(args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(cmd.OutOrStdout(), t)
			})
		},
	})
	return tpl
}

func opportunityCmd() *cobra.Command {
	opp := &cobra.Command{Use: "opportunity", Short: "Manage opportunities"}

	var in engine.CreateOpportunityOptions
	create := &cobra.Command{
		Use:   "create",
		Short: "Publish an opportunity as the --actor-id analyst",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s *app.Session) error {
				o, err := s.Engine.CreateOpportunity(ctx, actor(), in)
				if err != nil {
					return err
				}
				return printJSONOrTable(cmd.OutOrStdout(), o)
			})
		},
	}
	create.Flags().StringVar(&in.ID, "id", "", "opportunity id (generated when empty)")
	create.Flags().StringVar(&in.Title, "title", "", "title")
	create.Flags().StringVar(&in.Description, "description", "", "description")
	create.Flags().Int64Var(&in.BudgetCents, "budget-cents", 0, "budget in cents")
	create.Flags().StringVar(&in.Deadline, "deadline", "", "deadline YYYY-MM-DD")
	_ = create.MarkFlagRequired("title")
	opp.AddCommand(create)

	var f repo.OpportunityFilters
	list := &cobra.Command{
		Use:   "list",
		Short: "List opportunities",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s *app.Session) error {
				items, err := s.Engine.ListOpportunities(ctx, f)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(items))
				for _, o := range items {
					rows = append(rows, table.Row{o.ID, o.Title, o.AnalystID, o.Status, o.BudgetCents, o.Deadline})
				}
				return printTable(cmd.OutOrStdout(), items, table.Row{"ID", "Title", "Analyst", "Status", "Budget (cents)", "Deadline"}, rows)
			})
		},
	}
	list.Flags().StringVar(&f.AnalystID, "analyst", "", "analyst id filter")
	list.Flags().StringVar(&f.Status, "status", "", "status filter (open|closed)")
	list.Flags().IntVar(&f.Limit, "limit", 0, "max rows")
	opp.AddCommand(list)
	return opp
}

func applicationCmd() *cobra.Command {
	apps := &cobra.Command{Use: "application", Short: "Manage applications"}

	var in engine.ApplyOptions
	create := &cobra.Command{
		Use:   "create",
		Short: "Apply to an opportunity as the --actor-id creator",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s *app.Session) error {
				a, err := s.Engine.Apply(ctx, actor(), in)
				if err != nil {
					return err
				}
				return printJSONOrTable(cmd.OutOrStdout(), a)
			})
		},
	}
	create.Flags().StringVar(&in.OpportunityID, "opportunity", "", "opportunity id")
	create.Flags().StringVar(&in.Pitch, "pitch", "", "pitch")
	_ = create.MarkFlagRequired("opportunity")
	apps.AddCommand(create)

	var decide engine.DecideOptions
	decideCmd := &cobra.Command{
		Use:   "decide <application-id> approved|rejected",
		Short: "Approve or reject an application",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			decide.ApplicationID, decide.Decision = args[0], args[1]
			return withSession(cmd.Context(), func(ctx context.Context, s *app.Session) error {
				a, err := s.Engine.DecideApplication(ctx, actor(), decide)
				if err != nil {
					return err
				}
				return printJSONOrTable(cmd.OutOrStdout(), a)
			})
		},
	}
	apps.AddCommand(decideCmd)

	var oppID string
	list := &cobra.Command{
		Use:   "list",
		Short: "List applications of an opportunity",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s *app.Session) error {
				items, err := s.Engine.ListApplications(ctx, actor(), oppID)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(items))
				for _, a := range items {
					rows = append(rows, table.Row{a.ID, a.CreatorID, a.Status, a.CreatedAt})
				}
				return printTable(cmd.OutOrStdout(), items, table.Row{"ID", "Creator", "Status", "Created"}, rows)
			})
		},
	}
	list.Flags().StringVar(&oppID, "opportunity", "", "opportunity id")
	_ = list.MarkFlagRequired("opportunity")
	apps.AddCommand(list)
	return apps
}

func deliverableCmd() *cobra.Command {
	del := &cobra.Command{Use: "deliverable", Short: "Manage deliverables"}

	var apply engine.ApplyTemplateOptions
	applyCmd := &cobra.Command{
		Use:   "apply",
		Short: "Create every deliverable of a template for an approved application",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s *app.Session) error {
				items, err := s.Engine.ApplyTemplate(ctx, actor(), apply)
				if err != nil {
					return err
				}
				return printDeliverables(cmd, items)
			})
		},
	}
	applyCmd.Flags().StringVar(&apply.ApplicationID, "application", "", "approved application id")
	applyCmd.Flags().StringVar(&apply.TemplateID, "template", "", "template id")
	applyCmd.Flags().StringVar(&apply.StartDate, "start", "", "start date YYYY-MM-DD (default today)")
	_ = applyCmd.MarkFlagRequired("application")
	_ = applyCmd.MarkFlagRequired("template")
	del.AddCommand(applyCmd)

	var q engine.DeliverableQuery
	list := &cobra.Command{
		Use:   "list",
		Short: "List deliverables with derived status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s *app.Session) error {
				items, err := s.Engine.ListDeliverables(ctx, actor(), q)
				if err != nil {
					return err
				}
				return printDeliverables(cmd, items)
			})
		},
	}
	list.Flags().StringVar(&q.ApplicationID, "application", "", "application id")
	list.Flags().StringSliceVar(&q.Statuses, "status", nil, "stored status filter")
	del.AddCommand(list)

	var status, feedback string
	var priority int
	var tags []string
	update := &cobra.Command{
		Use:   "update <id>",
		Short: "Update status, feedback, priority or tags",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.UpdateDeliverableOptions{ID: args[0]}
			if cmd.Flags().Changed("status") {
				opts.Status = optionalString(status)
			}
			if cmd.Flags().Changed("feedback") {
				opts.Feedback = &feedback
			}
			if cmd.Flags().Changed("priority") {
				opts.Priority = &priority
			}
			if cmd.Flags().Changed("tags") {
				opts.Tags = &tags
			}
			return withSession(cmd.Context(), func(ctx context.Context, s *app.Session) error {
				d, err := s.Engine.UpdateDeliverable(ctx, actor(), opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(cmd.OutOrStdout(), d)
			})
		},
	}
	update.Flags().StringVar(&status, "status", "", "pending|in_progress|submitted|approved|rejected")
	update.Flags().StringVar(&feedback, "feedback", "", "feedback text")
	update.Flags().IntVar(&priority, "priority", 0, "priority 1 (highest) to 5")
	update.Flags().StringSliceVar(&tags, "tags", nil, "tags (replaces existing)")
	del.AddCommand(update)
	return del
}

func printDeliverables(cmd *cobra.Command, items []engine.DeliverableView) error {
	rows := make([]table.Row, 0, len(items))
	for _, d := range items {
		dep := ""
		if d.DependsOn != nil {
			dep = *d.DependsOn
		}
		rows = append(rows, table.Row{d.ID, d.Title, d.DueDate, d.PriorityLabel, d.Status, d.DisplayStatus, dep})
	}
	return printTable(cmd.OutOrStdout(), items, table.Row{"ID", "Title", "Due", "Priority", "Status", "Display", "Depends on"}, rows)
}

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Approved applications as projects"}
	prj.AddCommand(&cobra.Command{
		Use:   "status <application-id>",
		Short: "Show the derived project status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s *app.Session) error {
				st, err := s.Engine.ProjectStatus(ctx, actor(), args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(cmd.OutOrStdout(), st)
			})
		},
	})
	return prj
}

func threadCmd() *cobra.Command {
	th := &cobra.Command{Use: "thread", Short: "Unified conversation threads"}
	th.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List the --actor-id's threads",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s *app.Session) error {
				items, err := s.Engine.ListThreads(ctx, actor())
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(items))
				for _, t := range items {
					last := ""
					if t.LastMessageAt != nil {
						last = *t.LastMessageAt
					}
					rows = append(rows, table.Row{t.RepresentativeID, t.AnalystID, t.CreatorID, len(t.ConversationIDs), len(t.Projects), t.CustomTitle, strings.Join(t.Tags, ","), last})
				}
				return printTable(cmd.OutOrStdout(), items, table.Row{"Conversation", "Analyst", "Creator", "Merged", "Projects", "Title", "Tags", "Last message"}, rows)
			})
		},
	})

	var title string
	tag := &cobra.Command{
		Use:   "tag <conversation-id> <comma-separated-tags>",
		Short: "Set a thread's custom title and tags (at most 10 kept)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s *app.Session) error {
				c, err := s.Engine.SaveThreadDetails(ctx, actor(), args[0], title, args[1])
				if err != nil {
					return err
				}
				return printJSONOrTable(cmd.OutOrStdout(), c)
			})
		},
	}
	tag.Flags().StringVar(&title, "title", "", "custom title")
	th.AddCommand(tag)

	th.AddCommand(&cobra.Command{
		Use:   "messages <analyst-id> <creator-id>",
		Short: "Show the merged history of a pair",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s *app.Session) error {
				items, err := s.Engine.ThreadMessages(ctx, actor(), args[0], args[1])
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(items))
				for _, m := range items {
					rows = append(rows, table.Row{m.CreatedAt, m.SenderID, m.Content})
				}
				return printTable(cmd.OutOrStdout(), items, table.Row{"At", "Sender", "Content"}, rows)
			})
		},
	})

	send := &cobra.Command{
		Use:   "send <conversation-id> <content>",
		Short: "Send a message as --actor-id",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s *app.Session) error {
				m, err := s.Engine.SendMessage(ctx, actor(), args[0], args[1])
				if err != nil {
					return err
				}
				return printJSONOrTable(cmd.OutOrStdout(), m)
			})
		},
	}
	th.AddCommand(send)
	return th
}

func onboardingCmd() *cobra.Command {
	ob := &cobra.Command{Use: "onboarding", Short: "Profile onboarding"}

	var in engine.ProfileInput
	submit := &cobra.Command{
		Use:   "submit",
		Short: "Submit the --actor-id's profile; failures are kept as a fallback",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s *app.Session) error {
				a := actor()
				p, err := s.Engine.SubmitOnboarding(ctx, a, in)
				if err == nil {
					return printJSONOrTable(cmd.OutOrStdout(), p)
				}
				var ve engine.ValidationError
				if errors.As(err, &ve) || auth.IsForbidden(err) {
					return err
				}
				if saveErr := s.Onboarding.Save(a.ID, in, err); saveErr != nil {
					return errors.Join(err, saveErr)
				}
				s.Logger.Warn("onboarding submission failed; fallback saved", zap.String("user_id", a.ID), zap.Error(err))
				return fmt.Errorf("submission failed, saved for recovery (ugc onboarding recover): %w", err)
			})
		},
	}
	submit.Flags().StringVar(&in.DisplayName, "name", "", "display name")
	submit.Flags().StringVar(&in.Bio, "bio", "", "bio")
	submit.Flags().StringSliceVar(&in.Niches, "niches", nil, "content niches")
	ob.AddCommand(submit)

	var mode string
	recoverCmd := &cobra.Command{
		Use:   "recover",
		Short: "Merge or discard the --actor-id's saved submission",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s *app.Session) error {
				a := actor()
				fb, err := s.Onboarding.Load(a.ID)
				if err != nil {
					return err
				}
				s.Logger.Info("recovering onboarding", zap.String("user_id", a.ID), zap.String("saved_at", fb.Timestamp), zap.String("mode", mode))
				err = s.Onboarding.Recover(ctx, a.ID, mode, func(ctx context.Context, data json.RawMessage) error {
					var p engine.ProfileInput
					if err := json.Unmarshal(data, &p); err != nil {
						return err
					}
					_, err := s.Engine.SubmitOnboarding(ctx, a, p)
					return err
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "onboarding fallback for %s resolved (%s)\n", a.ID, mode)
				return nil
			})
		},
	}
	recoverCmd.Flags().StringVar(&mode, "mode", onboarding.ModeMerge, "merge|discard")
	ob.AddCommand(recoverCmd)
	return ob
}
