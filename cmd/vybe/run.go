package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nevindra/vybe"
	"github.com/nevindra/vybe/codeagent"
)

// cliUser owns the projects the run command creates.
const cliUser = "cli"

// savePrompt stores prompt as the next user message of projectID, creating
// the project on first use.
func savePrompt(ctx context.Context, store vybe.Store, projectID, prompt string) error {
	now := vybe.NowUnix()
	msg := vybe.Message{
		ID:        vybe.NewID(),
		ProjectID: projectID,
		Role:      vybe.RoleUser,
		Kind:      vybe.KindResult,
		Content:   prompt,
		CreatedAt: now,
	}
	_, err := store.GetProject(ctx, cliUser, projectID)
	switch {
	case errors.Is(err, vybe.ErrNotFound):
		p := vybe.Project{ID: projectID, UserID: cliUser, Name: projectID, CreatedAt: now, UpdatedAt: now}
		if err := store.CreateProject(ctx, p, msg); err != nil {
			return fmt.Errorf("create project: %w", err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("get project: %w", err)
	}
	if err := store.CreateMessage(ctx, msg); err != nil {
		return fmt.Errorf("save prompt: %w", err)
	}
	return nil
}

func newRunCmd(opts *options) *cobra.Command {
	var projectID, jobID string

	cmd := &cobra.Command{
		Use:   "run \"<prompt>\"",
		Short: "Run one code generation job in the foreground and print its report",
		Long: "Run stores the prompt as a user message of the project, creating it on first use, and executes the job " +
			"without the queue or quota. Passing --job of an earlier run resumes it from its completed steps.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt := args[0]
			if strings.TrimSpace(prompt) == "" {
				return fmt.Errorf("prompt cannot be empty")
			}
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.close(context.Background())

			job := vybe.Job{ID: jobID, ProjectID: projectID, UserID: cliUser, Input: prompt}
			if job.ID == "" {
				job.ID = vybe.NewID()
				if err := savePrompt(ctx, a.store, projectID, prompt); err != nil {
					return err
				}
			}

			report, err := a.runner("cli-" + job.ID).Run(ctx, job)
			if err != nil {
				return fmt.Errorf("run %s: %w", job.RunID(), err)
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(struct {
				JobID  string `json:"job_id"`
				Failed bool   `json:"failed"`
				codeagent.Report
			}{job.ID, report.Failed(), report})
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "default", "Project whose conversation the run continues")
	cmd.Flags().StringVar(&jobID, "job", "", "Resume the job with this id")
	return cmd
}
