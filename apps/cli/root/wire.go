package root

import (
	poolcmd "github.com/etewiah/property-web-builder-sub002/apps/cli/cmd/pool"
	shardcmd "github.com/etewiah/property-web-builder-sub002/apps/cli/cmd/shard"
)

func init() {
	Root().AddCommand(poolcmd.Command())
	Root().AddCommand(shardcmd.Command())
}
