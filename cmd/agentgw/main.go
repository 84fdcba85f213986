package main

import (
	"github.com/tansive/agentgateway/internal/cli"
	"github.com/tansive/agentgateway/internal/common/logtrace"
)

func init() {
	logtrace.InitLogger("info")
}

func main() {
	cli.Execute()
}
