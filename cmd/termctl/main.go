package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/alecthomas/kong"
	"github.com/bytedance/sonic"

	"github.com/GriffinCanCode/TermGate/internal/target"
)

const version = "0.3.0"

// controlTimeout bounds plain API calls. Exec computes its own.
const controlTimeout = 30 * time.Second

// CLI is the root command grammar.
type CLI struct {
	Version kong.VersionFlag `help:"Show version information"`
	Server  string           `help:"Server base URL" env:"TERMGATE_SERVER"`
	Config  string           `help:"Path to the termctl config file" env:"TERMGATE_CONFIG" type:"path"`

	Create CreateCmd `cmd:"" help:"Create a terminal session"`
	Ls     LsCmd     `cmd:"" help:"List sessions"`
	Attach AttachCmd `cmd:"" help:"Attach the local terminal to a session"`
	Close  CloseCmd  `cmd:"" help:"Close a session"`
	Exec   ExecCmd   `cmd:"" help:"Run a one-shot command on a remote target"`
	Status StatusCmd `cmd:"" help:"Show gateway status"`
	Keygen KeygenCmd `cmd:"" help:"Generate an Ed25519 keypair for target auth"`

	// Resolved during AfterApply (not flags).
	api *apiClient   `kong:"-"`
	cfg clientConfig `kong:"-"`
}

// AfterApply resolves the server URL and builds the API client. Kong
// already merged the env var into the flag value, so precedence here
// is flag/env, then config file, then the built-in default.
func (c *CLI) AfterApply() error {
	cfg, err := loadClientConfig(c.Config)
	if err != nil {
		return err
	}
	c.cfg = cfg
	if c.Server == "" {
		c.Server = cfg.Server
	}
	if c.Server == "" {
		c.Server = defaultServer
	}
	c.Server = strings.TrimRight(c.Server, "/")
	c.api = newAPIClient(c.Server, time.Duration(cfg.TimeoutMS)*time.Millisecond)
	return nil
}

// CreateCmd starts a session.
type CreateCmd struct {
	Kind    string            `help:"Session kind" enum:"local,remote" default:"local"`
	Shell   string            `help:"Shell binary for local sessions"`
	Workdir string            `help:"Working directory for local sessions"`
	Env     map[string]string `help:"Extra environment variables (KEY=VALUE)"`
	Target  string            `help:"Inventory target name for remote sessions"`
	Attach  bool              `help:"Attach immediately after creating" short:"a"`
}

func (cc *CreateCmd) Run(cli *CLI) error {
	targetName := cc.Target
	if cc.Kind == "remote" && targetName == "" {
		targetName = cli.cfg.DefaultTarget
	}
	cols, rows := termSize()

	ctx, cancel := context.WithTimeout(context.Background(), controlTimeout)
	defer cancel()
	info, err := cli.api.createSession(ctx, createRequest{
		Kind:       cc.Kind,
		Shell:      cc.Shell,
		Workdir:    cc.Workdir,
		Env:        cc.Env,
		Cols:       uint16(cols),
		Rows:       uint16(rows),
		TargetName: targetName,
	})
	if err != nil {
		return err
	}
	if cc.Attach {
		return attachSession(cli, info.ID)
	}
	fmt.Println(info.ID)
	return nil
}

// LsCmd lists sessions.
type LsCmd struct {
	Format string `help:"Output format: table or json" enum:"table,json" default:"table"`
}

func (l *LsCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithTimeout(context.Background(), controlTimeout)
	defer cancel()
	list, err := cli.api.listSessions(ctx)
	if err != nil {
		return err
	}
	if l.Format == "json" {
		return printJSON(list)
	}

	sort.Slice(list.Sessions, func(i, j int) bool {
		return list.Sessions[i].CreatedAt.Before(list.Sessions[j].CreatedAt)
	})
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tKIND\tSTATE\tWHERE\tSIZE\tATTACHED\tCREATED")
	for _, s := range list.Sessions {
		where := s.Target
		if where == "" {
			where = s.Shell
		}
		attached := ""
		if s.Attached {
			attached = "yes"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%dx%d\t%s\t%s\n",
			s.ID, s.Kind, s.State, where, s.Cols, s.Rows, attached,
			s.CreatedAt.Local().Format("2006-01-02 15:04:05"))
	}
	w.Flush()

	fmt.Printf("\nTotal: %d live, %d tracked\n", list.Stats["live"], list.Stats["tracked"])
	return nil
}

// AttachCmd streams a session into the local terminal.
type AttachCmd struct {
	ID string `arg:"" help:"Session ID"`
}

func (a *AttachCmd) Run(cli *CLI) error {
	return attachSession(cli, a.ID)
}

// CloseCmd terminates a session.
type CloseCmd struct {
	ID string `arg:"" help:"Session ID"`
}

func (c *CloseCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithTimeout(context.Background(), controlTimeout)
	defer cancel()
	if err := cli.api.closeSession(ctx, c.ID); err != nil {
		return err
	}
	fmt.Println("closed", c.ID)
	return nil
}

// ExecCmd runs one command on a remote target and exits with the
// remote exit code.
type ExecCmd struct {
	Target  string        `arg:"" help:"Inventory target name"`
	Command []string      `arg:"" required:"" help:"Command and arguments (put -- before them)"`
	Timeout time.Duration `help:"Remote execution timeout" default:"60s"`
}

func (e *ExecCmd) Run(cli *CLI) error {
	// Leave headroom over the server-side timeout so the API can
	// report the remote failure instead of the client hanging up first.
	ctx, cancel := context.WithTimeout(context.Background(), e.Timeout+15*time.Second)
	defer cancel()
	res, err := cli.api.exec(ctx, execCall{
		TargetName: e.Target,
		Command:    strings.Join(e.Command, " "),
		TimeoutMS:  e.Timeout.Milliseconds(),
	})
	if err != nil {
		return err
	}
	fmt.Fprint(os.Stdout, res.Stdout)
	fmt.Fprint(os.Stderr, res.Stderr)
	if res.ExitCode != 0 {
		os.Exit(res.ExitCode)
	}
	return nil
}

// StatusCmd shows uptime, session counts, pool occupancy, and circuit
// breaker state.
type StatusCmd struct {
	Format string `help:"Output format: table or json" enum:"table,json" default:"table"`
}

func (s *StatusCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithTimeout(context.Background(), controlTimeout)
	defer cancel()
	st, err := cli.api.status(ctx)
	if err != nil {
		return err
	}
	if s.Format == "json" {
		return printJSON(st)
	}

	fmt.Printf("server:   %s\n", cli.Server)
	fmt.Printf("uptime:   %s\n", time.Duration(st.UptimeSeconds)*time.Second)
	fmt.Printf("sessions: %d live, %d tracked\n", st.Sessions["live"], st.Sessions["tracked"])

	if len(st.Targets) > 0 {
		fmt.Println()
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "TARGET\tIDLE\tIN USE\tBREAKER")
		for _, t := range st.Targets {
			fmt.Fprintf(w, "%s\t%d\t%d\t%s\n", t.Target, t.Idle, t.InUse, t.Breaker)
		}
		w.Flush()
	}
	if len(st.Circuits) > 0 {
		fmt.Println()
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "CIRCUIT\tSTATE\tREQUESTS\tFAILURES")
		for _, b := range st.Circuits {
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\n", b.Name, b.State, b.Counts.Requests, b.Counts.TotalFailures)
		}
		w.Flush()
	}
	return nil
}

// KeygenCmd generates an Ed25519 keypair for SSH target auth.
type KeygenCmd struct {
	Dir string `help:"Directory for the key files" type:"path" default:"~/.config/termgate/keys"`
}

func (k *KeygenCmd) Run(cli *CLI) error {
	pub, priv, err := target.GenerateKeyPair()
	if err != nil {
		return err
	}
	if err := target.SaveKeyPair(k.Dir, priv, pub); err != nil {
		return err
	}
	fmt.Printf("private key: %s\n", filepath.Join(k.Dir, target.PrivateKeyFile))
	fmt.Printf("public key:  %s", pub)
	return nil
}

func printJSON(v interface{}) error {
	data, err := sonic.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("termctl"),
		kong.Description("Client for the termgate terminal session server"),
		kong.UsageOnError(),
		kong.Vars{"version": version},
	)

	if err := ctx.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
