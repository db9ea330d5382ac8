// Command climtile converts gridded climate netCDF datasets into GeoTIFF
// tiles and runs the related download and raster utilities.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/golang/glog"
	"github.com/spf13/pflag"
)

const version = "0.1.0"

func main() {
	// glog registers its flags on the standard flag set.
	_ = flag.Set("logtostderr", "true")
	pflag.CommandLine.AddGoFlagSet(flag.CommandLine)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := Root.ExecuteContext(ctx)
	glog.Flush()
	if err != nil {
		stop()
		glog.Exitf("climtile: %v", err)
	}
}
