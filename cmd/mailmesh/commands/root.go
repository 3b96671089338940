package commands

import (
	"github.com/spf13/cobra"
)

//RootCmd is the root command for mailmesh
var RootCmd = &cobra.Command{
	Use:              "mailmesh",
	Short:            "mailmesh peer overlay messaging node",
	TraverseChildren: true,
}
