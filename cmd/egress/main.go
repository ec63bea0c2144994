// Copyright 2024 Jigsaw Operations LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command egress activates SOCKS5 egress redirection from a settings file and
// then issues requests through the redirected surfaces.
//
//	egress [-config path] [-v] status
//	egress [-config path] [-v] fetch <url>
//	egress [-config path] [-v] get <url>
//	egress [-config path] [-v] ws <url> [protocol...]
//	egress [-config path] [-v] session <url>
//	egress [-config path] reset
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"

	"golang.org/x/net/websocket"

	"github.com/Jigsaw-Code/egress/backend"
	"github.com/Jigsaw-Code/egress/internal/fetch"
	"github.com/Jigsaw-Code/egress/internal/httpreq"
	"github.com/Jigsaw-Code/egress/internal/netpatch"
	"github.com/Jigsaw-Code/egress/internal/settings"
	"github.com/Jigsaw-Code/egress/logging"
)

const appName = "volzk-client-pro"

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "egress:", err)
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("egress", flag.ContinueOnError)
	configPath := fs.String("config", "", "settings file (default: user config dir)")
	verbose := fs.Bool("v", false, "log debug messages")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *verbose {
		logging.SetLevel(slog.LevelDebug)
	}
	if fs.NArg() == 0 {
		return errors.New("missing command: status, fetch, get, ws, session or reset")
	}

	path := *configPath
	if path == "" {
		p, err := settings.DefaultPath(appName)
		if err != nil {
			logging.Warn("Main(run) - no default settings path", "err", err)
		}
		path = p
	}

	cmd, rest := fs.Arg(0), fs.Args()[1:]
	if cmd == "reset" {
		return reset(path, stdout)
	}

	// Redirection must be installed before anything below issues a request.
	var store settings.Store
	if fileStore, err := settings.Open(path); err != nil {
		logging.Warn("Main(run) - settings unavailable", "err", err)
	} else {
		store = fileStore
	}
	e := backend.New(backend.DefaultSurfaces())
	report := e.Activate(store)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	switch cmd {
	case "status":
		printReport(stdout, report)
		return nil
	case "fetch":
		if len(rest) != 1 {
			return errors.New("usage: fetch <url>")
		}
		resp, err := fetch.Fetch(ctx, e.Fetch(), http.MethodGet, rest[0], nil)
		return printResponse(stdout, resp, err)
	case "get":
		if len(rest) != 1 {
			return errors.New("usage: get <url>")
		}
		return get(ctx, e, rest[0], stdout)
	case "ws":
		if len(rest) < 1 {
			return errors.New("usage: ws <url> [protocol...]")
		}
		ws, err := e.WebSocket().Dial(ctx, rest[0], rest[1:], nil)
		if err != nil {
			return err
		}
		defer ws.Close()
		fmt.Fprintf(stdout, "connected to %s, protocol %v\n", ws.Config().Location, ws.Config().Protocol)
		var msg string
		if err := websocket.Message.Receive(ws, &msg); err == nil {
			fmt.Fprintln(stdout, msg)
		}
		return nil
	case "session":
		if len(rest) != 1 {
			return errors.New("usage: session <url>")
		}
		s, endpoint := e.NewSession(ctx, store)
		if endpoint != "" {
			fmt.Fprintln(stdout, "session proxy:", endpoint)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rest[0], nil)
		if err != nil {
			return err
		}
		resp, err := s.Client().Do(req)
		return printResponse(stdout, resp, err)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

// get uses the options form so that the request is redirected.
func get(ctx context.Context, e *backend.Egress, rawurl string, stdout io.Writer) error {
	u, err := url.Parse(rawurl)
	if err != nil {
		return err
	}
	module := e.HTTP()
	if u.Scheme == "https" {
		module = e.HTTPS()
	} else if u.Scheme != "http" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	opts := &httpreq.RequestOptions{Hostname: u.Hostname(), Path: u.RequestURI()}
	if p := u.Port(); p != "" {
		if opts.Port, err = strconv.Atoi(p); err != nil {
			return fmt.Errorf("invalid port: %w", err)
		}
	}
	resp, err := module.Get(ctx, opts)
	return printResponse(stdout, resp, err)
}

func printResponse(w io.Writer, resp *http.Response, err error) error {
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	fmt.Fprintln(w, resp.Status)
	_, err = io.Copy(w, resp.Body)
	return err
}

func printReport(w io.Writer, r *netpatch.Report) {
	if r.Agent == nil {
		fmt.Fprintln(w, "egress redirection: disabled")
		return
	}
	fmt.Fprintln(w, "egress redirection:", r.Agent.URL())
	for _, rec := range r.Records {
		if rec.Err != nil {
			fmt.Fprintf(w, "  %-10s %s (%v)\n", rec.Target, rec.Status, rec.Err)
		} else {
			fmt.Fprintf(w, "  %-10s %s\n", rec.Target, rec.Status)
		}
	}
}

func reset(path string, stdout io.Writer) error {
	removed, err := settings.Reset(path)
	if err != nil {
		return err
	}
	if removed {
		fmt.Fprintln(stdout, "settings reset:", path)
	} else {
		fmt.Fprintln(stdout, "no settings file at", path)
	}
	return nil
}
