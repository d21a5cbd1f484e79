package commands

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mcpc-dev/mcpc/pkg/bridge"
	"github.com/mcpc-dev/mcpc/pkg/cliconfig"
	"github.com/mcpc-dev/mcpc/pkg/home"
	"github.com/mcpc-dev/mcpc/pkg/keychain"
	"github.com/mcpc-dev/mcpc/pkg/mcpcerr"
	"github.com/mcpc-dev/mcpc/pkg/output"
	"github.com/mcpc-dev/mcpc/pkg/registry"
)

func sessionsCommand(resolve resolveFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect and manage the session registry",
	}
	cmd.AddCommand(sessionsListCommand(resolve))
	cmd.AddCommand(sessionsStatusCommand(resolve))
	cmd.AddCommand(sessionsExportCommand(resolve))
	cmd.AddCommand(sessionsImportCommand(resolve))
	cmd.AddCommand(sessionsWatchCommand(resolve))
	return cmd
}

type sessionRow struct {
	Name      string `json:"name"`
	Status    string `json:"status"`
	Transport string `json:"transport"`
	Target    string `json:"target"`
	Profile   string `json:"profile,omitempty"`
	PID       int    `json:"pid,omitempty"`
}

func rowsFromConsolidated(entries map[string]registry.ConsolidatedEntry) []sessionRow {
	rows := make([]sessionRow, 0, len(entries))
	for name, e := range entries {
		row := sessionRow{Name: name, Status: string(e.Status), Profile: e.Record.ProfileName, PID: e.Record.PID}
		switch {
		case e.Record.Server.Stdio != nil:
			row.Transport = "stdio"
			row.Target = e.Record.Server.Stdio.Command
		case e.Record.Server.HTTP != nil:
			row.Transport = "http"
			row.Target = e.Record.Server.HTTP.URL
		}
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Name < rows[j].Name })
	return rows
}

func sessionsListCommand(resolve resolveFunc) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "ls",
		Short: "List every registered session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolve()
			if err != nil {
				return err
			}
			reg := registry.New(cfg.HomeDir)
			ping := func(name string) bool { return bridge.PingSession(cmd.Context(), cfg.HomeDir, name) }
			entries, err := reg.Consolidate(force, ping)
			if err != nil {
				return err
			}
			rows := rowsFromConsolidated(entries)
			return renderSessionRows(cmd, cfg, rows)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Also sweep dead (unresponsive-on-ping) sessions, not just expired ones")
	return cmd
}

func renderSessionRows(cmd *cobra.Command, cfg cliconfig.Config, rows []sessionRow) error {
	if cfg.JSON {
		return output.JSONRenderer{}.Render(cmd.OutOrStdout(), rows)
	}
	table := output.Table{Headers: []string{"NAME", "STATUS", "TRANSPORT", "TARGET", "PROFILE", "PID"}}
	for _, r := range rows {
		pid := ""
		if r.PID != 0 {
			pid = fmt.Sprintf("%d", r.PID)
		}
		table.Rows = append(table.Rows, []string{r.Name, r.Status, r.Transport, r.Target, r.Profile, pid})
	}
	return output.HumanRenderer{}.Render(cmd.OutOrStdout(), table)
}

func sessionsStatusCommand(resolve resolveFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <@session>",
		Short: "Show one session's live status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolve()
			if err != nil {
				return err
			}
			reg := registry.New(cfg.HomeDir)
			rec, err := reg.Get(args[0])
			if err != nil {
				return err
			}
			status := reg.Status(rec)
			row := rowsFromConsolidated(map[string]registry.ConsolidatedEntry{args[0]: {Record: rec, Status: status}})
			return renderSessionRows(cmd, cfg, row)
		},
	}
	return cmd
}

// exportedSession is the human-readable YAML shape sessions export
// writes and sessions import reads — real header values, not the
// redacted on-disk view, so a round trip reproduces a working session.
type exportedSession struct {
	Name    string            `yaml:"name"`
	Profile string            `yaml:"profile,omitempty"`
	Stdio   *exportedStdio    `yaml:"stdio,omitempty"`
	HTTP    *exportedHTTP     `yaml:"http,omitempty"`
}

type exportedStdio struct {
	Command string   `yaml:"command"`
	Args    []string `yaml:"args,omitempty"`
}

type exportedHTTP struct {
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers,omitempty"`
}

type exportedSessionsDoc struct {
	Sessions []exportedSession `yaml:"sessions"`
}

func sessionsExportCommand(resolve resolveFunc) *cobra.Command {
	var outPath string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write every session's configuration to a YAML file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolve()
			if err != nil {
				return err
			}
			return runSessionsExport(cfg, outPath)
		},
	}
	cmd.Flags().StringVarP(&outPath, "output", "o", "sessions.yaml", "File to write")
	return cmd
}

func runSessionsExport(cfg cliconfig.Config, outPath string) error {
	reg := registry.New(cfg.HomeDir)
	recs, err := reg.List()
	if err != nil {
		return err
	}

	kc := keychain.New(cfg.HomeDir)
	doc := exportedSessionsDoc{}
	for name, rec := range recs {
		es := exportedSession{Name: name, Profile: rec.ProfileName}
		switch {
		case rec.Server.Stdio != nil:
			es.Stdio = &exportedStdio{Command: rec.Server.Stdio.Command, Args: rec.Server.Stdio.Args}
		case rec.Server.HTTP != nil:
			headers, _ := keychain.LoadSessionHeaders(kc, name)
			es.HTTP = &exportedHTTP{URL: rec.Server.HTTP.URL, Headers: headers}
		}
		doc.Sessions = append(doc.Sessions, es)
	}
	sort.Slice(doc.Sessions, func(i, j int) bool { return doc.Sessions[i].Name < doc.Sessions[j].Name })

	buf, err := yaml.Marshal(doc)
	if err != nil {
		return mcpcerr.WrapClient("encoding sessions export", err)
	}
	if err := os.WriteFile(outPath, buf, 0o600); err != nil {
		return mcpcerr.WrapClient("writing sessions export file", err)
	}
	return nil
}

func sessionsImportCommand(resolve resolveFunc) *cobra.Command {
	var inPath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Create sessions (and start their bridges) from a YAML file written by sessions export",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolve()
			if err != nil {
				return err
			}
			return runSessionsImport(cmd, cfg, inPath)
		},
	}
	cmd.Flags().StringVarP(&inPath, "input", "i", "sessions.yaml", "File to read")
	return cmd
}

func runSessionsImport(cmd *cobra.Command, cfg cliconfig.Config, inPath string) error {
	raw, err := os.ReadFile(inPath)
	if err != nil {
		return mcpcerr.WrapClient("reading sessions import file", err)
	}
	var doc exportedSessionsDoc
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return mcpcerr.WrapClient("parsing sessions import file", err)
	}

	if _, err := home.EnsureDirs(); err != nil {
		return err
	}

	for _, es := range doc.Sessions {
		var headers []string
		var target string
		if es.HTTP != nil {
			target = es.HTTP.URL
			for k, v := range es.HTTP.Headers {
				headers = append(headers, k+": "+v)
			}
		} else if es.Stdio != nil {
			target = es.Stdio.Command
		} else {
			continue
		}
		extraArgs := ""
		if es.Stdio != nil {
			for i, a := range es.Stdio.Args {
				if i > 0 {
					extraArgs += " "
				}
				extraArgs += a
			}
		}
		if err := runConnect(cmd, cfg, es.Name, target, extraArgs, headers, es.Profile); err != nil {
			return fmt.Errorf("importing session %s: %w", es.Name, err)
		}
	}
	return nil
}

func sessionsWatchCommand(resolve resolveFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print session registry changes as they happen",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolve()
			if err != nil {
				return err
			}
			return runSessionsWatch(cmd, cfg)
		},
	}
	return cmd
}

// runSessionsWatch watches sessions.json for writes and re-prints the
// registry listing on each change, until ctx is canceled.
func runSessionsWatch(cmd *cobra.Command, cfg cliconfig.Config) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return mcpcerr.WrapTransport("starting filesystem watcher", err)
	}
	defer watcher.Close()

	if _, err := home.EnsureDirs(); err != nil {
		return err
	}
	if err := watcher.Add(cfg.HomeDir); err != nil {
		return mcpcerr.WrapTransport("watching mcpc home directory", err)
	}

	sessionsPath := home.SessionsPath(cfg.HomeDir)
	ctx := cmd.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Name != sessionsPath {
				continue
			}
			if err := printCurrentSessions(cmd, cfg); err != nil {
				return err
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return mcpcerr.WrapTransport("watching mcpc home directory", err)
		}
	}
}

func printCurrentSessions(cmd *cobra.Command, cfg cliconfig.Config) error {
	reg := registry.New(cfg.HomeDir)
	recs, err := reg.List()
	if err != nil {
		return err
	}
	entries := make(map[string]registry.ConsolidatedEntry, len(recs))
	for name, rec := range recs {
		entries[name] = registry.ConsolidatedEntry{Record: rec, Status: reg.Status(rec)}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "--- %s ---\n", time.Now().Format(time.RFC3339))
	return renderSessionRows(cmd, cfg, rowsFromConsolidated(entries))
}
