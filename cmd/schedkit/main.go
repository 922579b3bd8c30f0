package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"schedkit/internal/app"
	"schedkit/internal/config"
)

func main() {
	var (
		cfgPath string
		next    string
		count   int
		tz      string
		check   bool
	)
	flag.StringVar(&cfgPath, "config", "./schedkit.yaml", "path to config yaml/json")
	flag.StringVar(&next, "next", "", "print the upcoming trigger times of a schedule string and exit")
	flag.IntVar(&count, "n", 5, "number of trigger times printed by -next")
	flag.StringVar(&tz, "tz", "", "timezone for -next (default local)")
	flag.BoolVar(&check, "check", false, "validate the config file and exit")
	flag.Parse()

	if next != "" {
		loc, err := config.SchedulerConfig{Timezone: tz}.Location()
		if err != nil {
			fatal(err)
		}
		if err := preview(os.Stdout, next, loc, count, time.Now()); err != nil {
			fatal(err)
		}
		return
	}
	if check {
		if _, err := config.NewManager(cfgPath).Load(); err != nil {
			fatal(err)
		}
		fmt.Println("config ok:", cfgPath)
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(cfgPath)
	if err != nil {
		fatal(err)
	}
	if err := a.Run(ctx); err != nil {
		fatal(err)
	}
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "fatal:", err)
	os.Exit(1)
}
