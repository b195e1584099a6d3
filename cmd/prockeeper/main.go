package main

import (
	"github.com/Paintersrp/prockeeper/internal/cli"
	"github.com/Paintersrp/prockeeper/internal/metrics"
)

func main() {
	metrics.EmitBuildInfo()
	cli.Execute()
}
