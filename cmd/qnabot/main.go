package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/m3rciful/qnabot/core/buildinfo"
	corecmd "github.com/m3rciful/qnabot/core/cmd"
)

func main() {
	version := flag.Bool("version", false, "print build information and exit")
	flag.Parse()
	if *version {
		fmt.Println(buildinfo.String())
		return
	}

	if err := corecmd.Run(corecmd.Options{DefaultConfigPath: "config.yaml"}); err != nil {
		log.Fatal(err)
	}
}
