package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"

	"github.com/burntcarrot/convergent/replica"
	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
)

func main() {
	// Parse flags.
	conf, err := parseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		color.Red("%v\n", err)
		os.Exit(2)
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	logger.SetOutput(os.Stdout)
	if conf.Debug {
		logger.SetLevel(logrus.DebugLevel)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	r, err := replica.New("server", conf.Kind, logger)
	if err != nil {
		logger.WithError(err).Fatal("failed to create replica")
	}
	go r.Run(ctx)

	h := newHub(r, logger, NewMetrics(conf.MetricsAddr))
	h.echo = true

	mux := http.NewServeMux()
	mux.HandleFunc("/", h.handleConn)

	// Handle incoming messages.
	go h.run(ctx)
	go runPromHTTP(logger, conf.MetricsAddr)

	srv := &http.Server{Addr: conf.Addr, Handler: mux}
	go func() {
		<-ctx.Done()
		srv.Close()
	}()

	// Start the server.
	logger.WithFields(logrus.Fields{"addr": conf.Addr, "kind": conf.Kind}).Info("starting server")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.WithError(err).Fatal("error starting server, exiting")
	}
}
