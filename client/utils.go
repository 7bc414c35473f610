package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/burntcarrot/convergent/replica"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/writer"
)

// Flags represents the command-line flags that are passed to convergent's client.
type Flags struct {
	Server string
	Secure bool
	Debug  bool
	File   string
	Name   string
}

// parseFlags parses command-line flags.
func parseFlags(fs *flag.FlagSet, args []string) (Flags, error) {
	serverAddr := fs.String("server", "localhost:8080", "The network address of the server")
	useSecureConn := fs.Bool("secure", false, "Enable a secure WebSocket connection (wss://)")
	enableDebug := fs.Bool("debug", false, "Enable debugging mode to show more verbose logs")
	file := fs.String("file", "convergent-content.json", "The file to save the session to and load it from")
	name := fs.String("name", "", "Join as this user, skipping the login prompt")

	if err := fs.Parse(args); err != nil {
		return Flags{}, err
	}

	return Flags{
		Server: *serverAddr,
		Secure: *useSecureConn,
		Debug:  *enableDebug,
		File:   *file,
		Name:   *name,
	}, nil
}

// createConn creates a WebSocket connection.
func createConn(flags Flags) (*websocket.Conn, *http.Response, error) {
	var u url.URL
	if flags.Secure {
		u = url.URL{Scheme: "wss", Host: flags.Server, Path: "/"}
	} else {
		u = url.URL{Scheme: "ws", Host: flags.Server, Path: "/"}
	}

	// Get WebSocket connection.
	dialer := websocket.Dialer{
		HandshakeTimeout: 2 * time.Minute,
	}

	return dialer.Dial(u.String(), nil)
}

// ensureDirExists ensures that a directory exists, and if it isn't present, it tries to create a new one.
func ensureDirExists(path string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return true, nil
	}

	if err := os.Mkdir(path, 0700); err != nil {
		return false, err
	}

	return true, nil
}

// setupLogger sends warnings and errors to convergent.log and everything
// below to convergent-debug.log, both under ~/.convergent when the home
// directory is known.
func setupLogger(logger *logrus.Logger) (*os.File, *os.File, error) {
	logPath := "convergent.log"
	debugLogPath := "convergent-debug.log"

	if homeDir, err := os.UserHomeDir(); err == nil {
		dir := filepath.Join(homeDir, ".convergent")
		if ok, err := ensureDirExists(dir); err != nil {
			return nil, nil, err
		} else if ok {
			logPath = filepath.Join(dir, logPath)
			debugLogPath = filepath.Join(dir, debugLogPath)
		}
	}

	logFile, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, nil, err
	}

	// Create a separate log file for verbose logs.
	debugLogFile, err := os.OpenFile(debugLogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		logFile.Close()
		return nil, nil, err
	}

	// The terminal belongs to the editor, so nothing is written to it.
	logger.SetOutput(io.Discard)
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.AddHook(&writer.Hook{
		Writer: logFile,
		LogLevels: []logrus.Level{
			logrus.WarnLevel,
			logrus.ErrorLevel,
			logrus.FatalLevel,
			logrus.PanicLevel,
		},
	})
	logger.AddHook(&writer.Hook{
		Writer: debugLogFile,
		LogLevels: []logrus.Level{
			logrus.TraceLevel,
			logrus.DebugLevel,
			logrus.InfoLevel,
		},
	})

	return logFile, debugLogFile, nil
}

// closeLogFiles closes the log files created by the client.
// closeLogFiles is meant to be used for defer calls.
func closeLogFiles(logFile, debugLogFile *os.File) {
	if err := logFile.Close(); err != nil {
		fmt.Printf("Failed to close log file: %s", err)
		return
	}

	if err := debugLogFile.Close(); err != nil {
		fmt.Printf("Failed to close debug log file: %s", err)
		return
	}
}

// logDoc writes the document state to the debug log. It does nothing unless
// debug logging is enabled, so the log stays small by default.
func logDoc(ctx context.Context, r *replica.Replica, log *logrus.Logger) {
	if !log.IsLevelEnabled(logrus.DebugLevel) {
		return
	}

	text, err := r.Text(ctx)
	if err != nil {
		log.WithError(err).Warn("failed to read document")
		return
	}
	version, err := r.Version(ctx)
	if err != nil {
		log.WithError(err).Warn("failed to read document version")
		return
	}
	log.WithFields(logrus.Fields{"version": version, "length": len([]rune(text))}).Debugf("document: %q", text)
}
