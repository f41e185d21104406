package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/yejune/git-rail/internal/correspondence"
)

var (
	doctorThorough bool
	doctorJSON     bool
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Diagnose the workspace and correspondence store",
	Long: `doctor checks the environment (git binary present, workspace
detected) and, with --thorough, checks that every configured split's
correspondence store loads and holds at least one mapping. It does not
compare a store against the split repository's current head.`,
	RunE: runDoctor,
}

func init() {
	doctorCmd.Flags().BoolVar(&doctorThorough, "thorough", false, "Also check that every split's correspondence store loads and is non-empty")
	doctorCmd.Flags().BoolVar(&doctorJSON, "json", false, "Print findings as JSON")
}

// doctorFinding is one diagnostic result, matching cargo-rail's Doctor
// command's report shape: a check name, whether it passed, and detail
// for a human to act on.
type doctorFinding struct {
	Check  string `json:"check"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
}

func runDoctor(cmd *cobra.Command, args []string) error {
	var findings []doctorFinding

	findings = append(findings, checkGitBinary())

	wc, err := loadWorkspaceContext()
	if err != nil {
		findings = append(findings, doctorFinding{Check: "workspace", OK: false, Detail: err.Error()})
		return report(findings)
	}
	findings = append(findings, doctorFinding{
		Check:  "workspace",
		OK:     true,
		Detail: fmt.Sprintf("%s adapter, %d package(s) at %s", wc.adapter.Name(), len(wc.ws.Packages), wc.root),
	})

	if doctorThorough {
		for _, s := range wc.cfg.Splits {
			findings = append(findings, checkSplitMapping(wc, s.Name))
		}
	}

	return report(findings)
}

func checkGitBinary() doctorFinding {
	out, err := exec.Command("git", "--version").CombinedOutput()
	if err != nil {
		return doctorFinding{Check: "git binary", OK: false, Detail: err.Error()}
	}
	return doctorFinding{Check: "git binary", OK: true, Detail: string(out)}
}

func checkSplitMapping(wc *workspaceContext, name string) doctorFinding {
	store := correspondence.New(name)
	if err := store.Load(wc.shim); err != nil {
		return doctorFinding{Check: "split:" + name, OK: false, Detail: err.Error()}
	}
	if store.Count() == 0 {
		return doctorFinding{Check: "split:" + name, OK: false, Detail: "no recorded mapping; run split first"}
	}
	return doctorFinding{Check: "split:" + name, OK: true, Detail: fmt.Sprintf("%d mapped commit(s)", store.Count())}
}

func report(findings []doctorFinding) error {
	if doctorJSON {
		return json.NewEncoder(os.Stdout).Encode(findings)
	}

	failed := 0
	for _, f := range findings {
		if f.OK {
			color.Green("[ok]   %s: %s", f.Check, f.Detail)
		} else {
			failed++
			color.Red("[fail] %s: %s", f.Check, f.Detail)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d check(s) failed", failed)
	}
	return nil
}
