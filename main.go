// Command git-rail splits packages out of a monorepo into standalone
// repositories and keeps them synced. See cmd for the subcommands.
package main

import "github.com/yejune/git-rail/cmd"

func main() {
	cmd.Execute()
}
