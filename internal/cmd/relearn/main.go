// Package relearn implements the relearn procedure commands.
package relearn

import (
	"fmt"
	"sort"

	"github.com/fatih/color"
	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"

	"scantool/internal/cmd/connect"
	"scantool/internal/relearn"
)

// List prints the available procedures.
func List(cmd *cobra.Command, args []string) error {
	fmt.Println("Available procedures:")
	for _, name := range relearn.Procedures() {
		proc, _ := relearn.Get(name)
		fmt.Printf("  %-24s %s (%s, ~%s)\n", name, proc.Title, proc.Difficulty, proc.Estimated)
	}
	fmt.Println("\nRun one with: scantool relearn run <procedure>")
	return nil
}

// Show prints the full definition of one procedure.
func Show(cmd *cobra.Command, args []string) error {
	proc, ok := relearn.Get(args[0])
	if !ok {
		return fmt.Errorf("unknown procedure %q", args[0])
	}

	fmt.Printf("%s: %s\n", color.CyanString(proc.Title), proc.Description)
	fmt.Printf("Difficulty: %s, estimated %s\n", proc.Difficulty, proc.Estimated)

	fmt.Println("\nRequirements:")
	for _, r := range proc.Requirements {
		fmt.Printf("  - %s\n", r)
	}
	fmt.Println("Preconditions:")
	for _, p := range proc.Preconditions {
		fmt.Printf("  - %s\n", p)
	}

	fmt.Println("\nSteps:")
	for _, step := range proc.Steps {
		manual := ""
		if step.Manual {
			manual = color.YellowString(" [manual]")
		}
		fmt.Printf("  %2d. %s%s\n      %s\n", step.Number, step.Description, manual, step.Instruction)
	}
	return nil
}

// Execute connects, checks preconditions and drives the procedure,
// prompting the operator at manual steps.
func Execute(cmd *cobra.Command, args []string) error {
	name := args[0]
	if _, ok := relearn.Get(name); !ok {
		return fmt.Errorf("unknown procedure %q", name)
	}

	client, err := connect.Open(cmd.Context())
	if err != nil {
		return err
	}
	defer client.Disconnect()

	runner := relearn.NewRunner(client)

	results, err := runner.CheckPreconditions(name)
	if err != nil {
		return err
	}
	failed := printPreconditions(results)
	if skip, _ := cmd.Flags().GetBool("skip-preconditions"); failed && !skip {
		return fmt.Errorf("preconditions not met (re-run with --skip-preconditions to force)")
	}

	runner.OnProgress(func(p relearn.Progress) {
		if p.Current != nil {
			fmt.Printf("[%d/%d] %s\n", p.Current.Number, p.TotalSteps, p.Current.Description)
		}
	})

	if err := runner.Start(name); err != nil {
		return err
	}
	runErr := runner.Run(confirmStep)

	progress := runner.Progress()
	switch progress.Status {
	case relearn.StatusCompleted:
		fmt.Println(color.GreenString("Procedure completed."))
	case relearn.StatusCancelled:
		fmt.Println(color.YellowString("Procedure cancelled."))
	default:
		fmt.Println(color.RedString("Procedure %s.", string(progress.Status)))
	}

	if path, _ := cmd.Flags().GetString("export"); path != "" {
		if err := runner.ExportLog(path); err != nil {
			return fmt.Errorf("export run log: %w", err)
		}
		fmt.Printf("Run log written to %s\n", path)
	}
	return runErr
}

func printPreconditions(results map[string]relearn.ConditionResult) (failed bool) {
	conds := make([]string, 0, len(results))
	for cond := range results {
		conds = append(conds, cond)
	}
	sort.Strings(conds)

	fmt.Println("Preconditions:")
	for _, cond := range conds {
		result := results[cond]
		var mark string
		switch result {
		case relearn.ConditionPassed:
			mark = color.GreenString("ok")
		case relearn.ConditionFailed:
			mark = color.RedString("FAILED")
			failed = true
		default:
			mark = color.YellowString("verify manually")
		}
		fmt.Printf("  %-45s %s\n", cond, mark)
	}
	return failed
}

// confirmStep blocks on the operator for manual steps. Answering no
// cancels the run.
func confirmStep(step relearn.Step) error {
	prompt := promptui.Prompt{
		Label:     fmt.Sprintf("Step %d: %s. Done", step.Number, step.Instruction),
		IsConfirm: true,
		Default:   "y",
	}
	if _, err := prompt.Run(); err != nil {
		return fmt.Errorf("step %d not confirmed: %w", step.Number, err)
	}
	return nil
}
