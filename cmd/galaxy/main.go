// Command galaxy is the replicator process entrypoint, grounded on
// _examples/dollarkillerx-galaxy/cmd/main.go's
// load-config-then-run-scheduler shape.
package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/galaxycdc/replicator/internal/config"
	"github.com/galaxycdc/replicator/internal/scheduler"
)

func main() {
	if err := config.InitConfig(); err != nil {
		log.Fatalln(err)
	}

	sched, err := scheduler.NewScheduler(
		config.Conf.ListenAddr,
		config.Conf.MetricsNamespace,
		config.Conf.GTIDStorePath,
	)
	if err != nil {
		log.Fatalln(err)
	}

	if config.Conf.Task != nil {
		if len(os.Args) > 1 {
			config.Conf.Task.GTID = os.Args[1]
		}
		if err := sched.SubmitPreconfiguredTask(config.Conf.Task); err != nil {
			log.Fatalln(err)
		}
	}

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		log.Println("galaxy: shutting down")
		sched.StopAll()
		os.Exit(0)
	}()

	if err := sched.Run(); err != nil {
		log.Fatalln(err)
	}
}
