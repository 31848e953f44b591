package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	_ "net/http/pprof"
	"os"

	"github.com/Toromino/kibou-sub000/app"
	"github.com/Toromino/kibou-sub000/util"
)

const (
	exitConfigError   = 1
	exitDatabaseError = 2
)

func main() {
	versionFlag := flag.Bool("v", false, "Print version information")
	flag.Parse()

	if *versionFlag {
		fmt.Printf("%s v%s\n", util.Name, util.GetVersion())
		os.Exit(0)
	}

	conf, err := util.ReadConf()
	if err != nil {
		log.Println(err)
		os.Exit(exitConfigError)
	}

	// Setup logging (journald if enabled, otherwise standard logging)
	util.SetupLogging(conf.WithJournald)

	log.Printf("%s v%s", util.Name, util.GetVersion())
	log.Println("Configuration: ")
	log.Println(util.PrettyPrint(conf))

	// Start pprof server for profiling (if enabled)
	if conf.WithPprof {
		go func() {
			log.Println("pprof server listening on localhost:6060")
			if err := http.ListenAndServe("localhost:6060", nil); err != nil {
				log.Printf("pprof server error: %v", err)
			}
		}()
	}

	application, err := app.New(conf)
	if err != nil {
		log.Printf("Failed to create application: %v", err)
		os.Exit(exitDatabaseError)
	}

	if err := application.Initialize(); err != nil {
		log.Printf("Failed to initialize application: %v", err)
		os.Exit(exitDatabaseError)
	}

	if err := application.Start(); err != nil {
		log.Fatalf("Application error: %v", err)
	}
}
