package main

import (
	"context"
	"flag"
	"os"
	"strings"

	json "github.com/goccy/go-json"
	log "github.com/sirupsen/logrus"

	shopify "github.com/gempages/shopify-catalog-export"
)

// catalog-export runs one extraction: options come from an optional JSON
// file plus key=value arguments, rows go to stdout.
func main() {
	optionsFile := flag.String("options", "", "path to a JSON options file")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	if *verbose {
		log.SetLevel(log.DebugLevel)
	}

	options := map[string]interface{}{}
	if *optionsFile != "" {
		data, err := os.ReadFile(*optionsFile)
		if err != nil {
			log.Fatalf("read options: %s", err)
		}
		if err := json.Unmarshal(data, &options); err != nil {
			log.Fatalf("parse options: %s", err)
		}
	}
	for _, arg := range flag.Args() {
		key, value, found := strings.Cut(arg, "=")
		if !found {
			log.Fatalf("argument %q is not key=value", arg)
		}
		options[key] = value
	}

	settings, err := shopify.NewSettings(options)
	if err != nil {
		log.Fatalf("invalid options: %s", err)
	}

	ctx := context.Background()
	manager := shopify.NewRunManager(settings)

	if settings.RequestType == shopify.RequestTypeList {
		if err := manager.RunList(ctx, os.Stdout); err != nil {
			log.Fatalf("list failed: %s", err)
		}
		return
	}

	sink := shopify.NewDelimitedWriter(os.Stdout)
	if err := manager.Run(ctx, sink); err != nil {
		log.Fatalf("export failed: %s", err)
	}
	if err := sink.Flush(); err != nil {
		log.Fatalf("flush output: %s", err)
	}
}
