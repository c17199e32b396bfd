// matterctl commissions devices into a fabric it administers.
//
// Usage:
//
//	matterctl fabric init [--fabric-id id] [--vendor-id id]
//	matterctl decode-code 3497-011-2332 [--strict]
//	matterctl commission --code 34970112332 [--address host:port | --ble-loopback]
//	matterctl simulate --listen :5540 --passcode 20202021 --discriminator 3840
//	matterctl discover [--timeout 5s]
//
// Settings can also come from a YAML file given with --config; flags
// override the file.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/backkem/matterctl/cmd/matterctl/commands"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := commands.NewRootCommand().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
