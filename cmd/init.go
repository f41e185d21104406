package cmd

import (
	"fmt"

	"github.com/AlecAivazis/survey/v2"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/yejune/git-rail/internal/adapter"
	"github.com/yejune/git-rail/internal/config"
	"github.com/yejune/git-rail/internal/vcsshim"
)

var initAll bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Discover packages and write the config file",
	Long: `init detects the workspace's package ecosystem, lists the packages
it finds, and writes ` + config.FileName + ` with a split entry for each
package the user confirms, prompting for each one's remote URI.`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initAll, "all", false, "Add every discovered package without prompting")
}

func runInit(cmd *cobra.Command, args []string) error {
	shim, err := vcsshim.Open(".")
	if err != nil {
		return err
	}
	shim.Verbose = verbose

	a, err := adapter.Detect(shim.Root())
	if err != nil {
		return err
	}

	ws, err := a.LoadWorkspace(shim.Root())
	if err != nil {
		return err
	}
	if len(ws.Packages) == 0 {
		color.Yellow("no packages found under %s with the %s adapter", shim.Root(), a.Name())
		return nil
	}

	cfg, err := config.Load(shim.Root())
	if err != nil {
		return err
	}

	color.Cyan("detected %s workspace with %d package(s)", a.Name(), len(ws.Packages))

	names := make([]string, len(ws.Packages))
	for i, p := range ws.Packages {
		names[i] = p.Name
	}

	chosen := names
	if !initAll {
		prompt := &survey.MultiSelect{
			Message: "Which packages should get a split entry?",
			Options: names,
			Default: names,
		}
		if err := survey.AskOne(prompt, &chosen); err != nil {
			return err
		}
	}

	for _, name := range chosen {
		pkg := ws.FindPackage(name)
		if pkg == nil {
			continue
		}

		remote := ""
		if !initAll {
			q := &survey.Input{Message: fmt.Sprintf("Remote URI for %q:", name)}
			if err := survey.AskOne(q, &remote); err != nil {
				return err
			}
		}

		cfg.Add(config.Split{
			Name:   name,
			Remote: remote,
			Include: []string{pkg.Path},
		})
	}

	if err := config.Save(shim.Root(), cfg); err != nil {
		return err
	}

	color.Green("wrote %s with %d split(s)", config.FileName, len(cfg.Splits))
	return nil
}
