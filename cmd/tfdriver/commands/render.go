package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/openfroyo/tfdriver/pkg/command"
	"github.com/openfroyo/tfdriver/pkg/engine"
	"github.com/openfroyo/tfdriver/pkg/parser"
	"github.com/openfroyo/tfdriver/pkg/policy"
)

var (
	green  = lipgloss.Color("#22A06B")
	red    = lipgloss.Color("#D93025")
	yellow = lipgloss.Color("#F59E0B")
	slate  = lipgloss.Color("#667085")

	okStyle     = lipgloss.NewStyle().Foreground(green).Bold(true)
	failStyle   = lipgloss.NewStyle().Foreground(red).Bold(true)
	warnStyle   = lipgloss.NewStyle().Foreground(yellow)
	mutedStyle  = lipgloss.NewStyle().Foreground(slate)
	headerStyle = lipgloss.NewStyle().Bold(true)
)

const (
	iconCheck = "✓"
	iconCross = "✗"
	iconWarn  = "!"
)

var actionStyles = []struct {
	action parser.Action
	marker string
	style  lipgloss.Style
}{
	{parser.ActionCreate, "+", lipgloss.NewStyle().Foreground(green)},
	{parser.ActionUpdate, "~", lipgloss.NewStyle().Foreground(yellow)},
	{parser.ActionReplace, "-/+", lipgloss.NewStyle().Foreground(yellow)},
	{parser.ActionDelete, "-", lipgloss.NewStyle().Foreground(red)},
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func marshalDetails(details map[string]interface{}) (string, error) {
	b, err := json.Marshal(details)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// renderResult prints an execution result, as JSON with --json.
func renderResult(w io.Writer, res *engine.ExecutionResult) error {
	if jsonOutput {
		return writeJSON(w, res)
	}

	switch res.Operation {
	case command.OpPlan:
		if res.Changes != nil {
			renderChanges(w, res.Changes)
		}
	case command.OpOutput:
		if res.Success {
			return renderOutput(w, res.Data)
		}
	case command.OpStateList:
		for _, r := range res.Resources {
			fmt.Fprintln(w, r)
		}
	case command.OpValidate:
		if res.Validation != nil {
			renderDiagnostics(w, res.Validation)
		}
	case command.OpVersion:
		if res.Version != nil {
			fmt.Fprintf(w, "%s %s\n", res.Binary, res.Version.Version)
			if res.Version.Platform != "" {
				fmt.Fprintln(w, mutedStyle.Render("on "+res.Version.Platform))
			}
			return nil
		}
	case command.OpFmt:
		for _, f := range res.Files {
			fmt.Fprintln(w, f)
		}
	}

	renderStatus(w, res)
	return nil
}

func renderStatus(w io.Writer, res *engine.ExecutionResult) {
	msg := res.Message
	if msg == "" {
		msg = res.Operation.String()
	}
	if res.Success {
		fmt.Fprintf(w, "%s %s\n", okStyle.Render(iconCheck), msg)
	} else {
		line := fmt.Sprintf("%s %s", failStyle.Render(iconCross), msg)
		if res.ErrorClass != "" {
			line += mutedStyle.Render(fmt.Sprintf(" [%s]", res.ErrorClass))
		}
		fmt.Fprintln(w, line)
	}
	if res.Attempts > 1 {
		fmt.Fprintln(w, mutedStyle.Render(fmt.Sprintf("  %d attempts in %s", res.Attempts, res.Duration.Round(time.Millisecond))))
	}
}

func renderChanges(w io.Writer, changes *parser.PlanChanges) {
	for _, a := range actionStyles {
		for _, addr := range changes.ByAction(a.action) {
			fmt.Fprintf(w, "  %s %s\n", a.style.Render(fmt.Sprintf("%-3s", a.marker)), addr)
		}
	}
}

func renderOutput(w io.Writer, data interface{}) error {
	if s, ok := data.(string); ok {
		fmt.Fprintln(w, s)
		return nil
	}
	return writeJSON(w, data)
}

func renderDiagnostics(w io.Writer, v *parser.Validation) {
	for _, d := range v.Diagnostics {
		style := warnStyle
		if d.Severity == "error" {
			style = failStyle
		}
		where := ""
		if d.Range != nil {
			where = mutedStyle.Render(fmt.Sprintf(" (%s:%d)", d.Range.Filename, d.Range.Start.Line))
		}
		fmt.Fprintf(w, "%s %s%s\n", style.Render(strings.ToUpper(d.Severity)), d.Summary, where)
		if d.Detail != "" {
			fmt.Fprintf(w, "    %s\n", d.Detail)
		}
	}
}

// renderPolicyResult prints violations and warnings of a policy run.
func renderPolicyResult(w io.Writer, res *policy.PolicyResult) error {
	if jsonOutput {
		return writeJSON(w, res)
	}
	for _, v := range res.Violations {
		fmt.Fprintf(w, "%s %s %s\n", failStyle.Render(iconCross), headerStyle.Render(v.Policy), v.Message)
	}
	for _, v := range res.Warnings {
		fmt.Fprintf(w, "%s %s %s\n", warnStyle.Render(iconWarn), headerStyle.Render(v.Policy), v.Message)
	}
	for _, e := range res.Errors {
		fmt.Fprintf(w, "%s %s\n", failStyle.Render(iconCross), e)
	}
	if res.Allowed {
		fmt.Fprintf(w, "%s policies passed (%d evaluated)\n", okStyle.Render(iconCheck), len(res.EvaluatedPolicies))
	} else {
		fmt.Fprintf(w, "%s policies denied the plan (%d violations)\n", failStyle.Render(iconCross), len(res.Violations))
	}
	return nil
}
