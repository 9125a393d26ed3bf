// zheapstress drives a Heap under concurrent allocate/free/quarantine churn
// for soak testing, the way aisloader drives a cluster under load.
package main

import (
	"fmt"
	"os"

	"github.com/golang/glog"
	"github.com/urfave/cli"
)

func main() {
	app := cli.NewApp()
	app.Name = "zheapstress"
	app.Usage = "soak-test the zebra block heap under concurrent allocation churn"
	app.Version = "1.0.0"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "scenario",
			Usage: "path to a YAML scenario file (see scenario.go)",
		},
		cli.IntFlag{
			Name:  "workers",
			Value: 4,
			Usage: "number of concurrent allocator goroutines",
		},
		cli.DurationFlag{
			Name:  "duration",
			Usage: "overrides the scenario file's duration",
		},
	}
	app.Action = runStress

	if err := app.Run(os.Args); err != nil {
		glog.Errorf("zheapstress: %v", err)
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
