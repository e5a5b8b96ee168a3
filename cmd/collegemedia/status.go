// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 College Media Contributors

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"
)

// ProbeStatus is the result of one health probe.
type ProbeStatus struct {
	Probe  string `json:"probe"`
	OK     bool   `json:"ok"`
	Code   int    `json:"code,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// ServerStatus summarises a running server's health endpoints.
type ServerStatus struct {
	Addr   string        `json:"addr"`
	Probes []ProbeStatus `json:"probes"`
}

type statusConfig struct {
	jsonOutput bool
}

// newStatusCmd creates the status subcommand.
func newStatusCmd(opts *rootOptions, deps *StatusDeps) *cobra.Command {
	cfg := &statusConfig{}
	if deps == nil {
		deps = &StatusDeps{}
	}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show health of a running server",
		Long:  `Query the liveness and readiness endpoints on the configured metrics address.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd, opts, cfg, deps)
		},
	}
	cmd.Flags().BoolVar(&cfg.jsonOutput, "json", false, "output status as JSON")
	return cmd
}

func runStatus(cmd *cobra.Command, opts *rootOptions, cfg *statusConfig, deps *StatusDeps) error {
	getenv := deps.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	client := deps.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Second}
	}

	appCfg, err := loadConfig(cmd, opts, getenv)
	if err != nil {
		return oops.Code("CONFIG_INVALID").With("operation", "load configuration").Wrap(err)
	}
	if appCfg.MetricsAddr == "" {
		return oops.Code("CONFIG_INVALID").Errorf("metrics_addr is empty; health endpoints are disabled")
	}

	status := queryServerStatus(client, appCfg.MetricsAddr)

	if cfg.jsonOutput {
		out, err := json.MarshalIndent(status, "", "  ")
		if err != nil {
			return oops.Code("STATUS_FORMAT_FAILED").Wrap(err)
		}
		cmd.Println(string(out))
		return nil
	}
	cmd.Print(formatStatusTable(status))
	return nil
}

func queryServerStatus(client *http.Client, addr string) ServerStatus {
	base := addr
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	status := ServerStatus{Addr: addr}
	for _, probe := range []string{"liveness", "readiness"} {
		status.Probes = append(status.Probes, queryProbe(client, base+"/healthz/"+probe, probe))
	}
	return status
}

func queryProbe(client *http.Client, url, probe string) ProbeStatus {
	ps := ProbeStatus{Probe: probe}
	resp, err := client.Get(url)
	if err != nil {
		ps.Detail = fmt.Sprintf("unreachable: %v", err)
		return ps
	}
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
	ps.Code = resp.StatusCode
	ps.OK = resp.StatusCode == http.StatusOK
	ps.Detail = strings.TrimSpace(string(body))
	return ps
}

func formatStatusTable(s ServerStatus) string {
	var b strings.Builder
	w := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)

	_, _ = fmt.Fprintf(w, "SERVER\t%s\n", s.Addr)
	_, _ = fmt.Fprintln(w, "PROBE\tSTATUS\tCODE\tDETAIL")
	for _, p := range s.Probes {
		state := "fail"
		if p.OK {
			state = "ok"
		}
		code := "-"
		if p.Code != 0 {
			code = fmt.Sprintf("%d", p.Code)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", p.Probe, state, code, p.Detail)
	}

	_ = w.Flush()
	return b.String()
}
