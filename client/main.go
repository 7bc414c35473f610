package main

import (
	"context"
	"flag"
	"os"

	"github.com/burntcarrot/convergent/replica"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
)

func main() {
	flags, err := parseFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		os.Exit(2)
	}

	if err := run(flags); err != nil {
		color.Red("%s\n", err)
		os.Exit(1)
	}
}

func run(flags Flags) error {
	logger := logrus.New()
	logFile, debugLogFile, err := setupLogger(logger)
	if err != nil {
		return err
	}
	defer closeLogFiles(logFile, debugLogFile)

	if flags.Debug {
		logger.SetLevel(logrus.DebugLevel)
	}

	conn, _, err := createConn(flags)
	if err != nil {
		return err
	}
	defer conn.Close()

	site, err := handshake(conn)
	if err != nil {
		return err
	}

	r, err := replica.New(site.Replica, site.Kind, logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	logger.WithFields(logrus.Fields{"server": flags.Server, "replica": site.Replica, "kind": site.Kind}).Info("connected")

	s := newSession(conn, r, flags.File, logger)
	p := tea.NewProgram(initialModel(s, flags.Name), tea.WithAltScreen())

	// Handle incoming messages concurrently.
	go s.listen(p.Send)

	return p.Start()
}
