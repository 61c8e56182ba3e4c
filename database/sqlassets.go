package sqlassets

import _ "embed"

//go:embed schema/control_plane/core.sql
var ControlPlaneSQL string

//go:embed schema/shard_space/tenant_tables.sql
var ShardSpaceSQL string
