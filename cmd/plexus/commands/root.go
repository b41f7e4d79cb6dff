package commands

import (
	"github.com/mosaicnetworks/plexus/src/config"
	"github.com/spf13/cobra"
)

var (
	_config = config.NewDefaultConfig()
)

//RootCmd is the root command for plexus
var RootCmd = &cobra.Command{
	Use:              "plexus",
	Short:            "plexus discovery overlay",
	TraverseChildren: true,
}
