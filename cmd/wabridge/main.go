package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/alecthomas/kong"
	"golang.org/x/term"

	"github.com/roelfdiedericks/wabridge/internal/browser"
	"github.com/roelfdiedericks/wabridge/internal/config"
	"github.com/roelfdiedericks/wabridge/internal/fingerprint"
	"github.com/roelfdiedericks/wabridge/internal/http"
	"github.com/roelfdiedericks/wabridge/internal/journal"
	. "github.com/roelfdiedericks/wabridge/internal/logging"
)

var version = "0.1.0"

// Globals are the flags shared by every command.
type Globals struct {
	Config   string `help:"Config file (json, yaml or toml)." short:"c" type:"path"`
	LogLevel string `help:"Override log.level (trace, debug, info, warn, error)." name:"log-level"`
}

type CLI struct {
	Globals

	Serve       ServeCmd       `cmd:"" default:"withargs" help:"Run the HTTP API."`
	Version     VersionCmd     `cmd:"" help:"Print the version."`
	Fingerprint FingerprintCmd `cmd:"" help:"Print a freshly generated browser fingerprint."`
	HashKey     HashKeyCmd     `cmd:"" name:"hash-key" help:"Hash an API key for auth.apiKeys."`
	Journal     JournalCmd     `cmd:"" help:"Inspect the session journal."`
	Browser     BrowserCmd     `cmd:"" help:"Manage the Chromium binary and profiles."`
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("wabridge"),
		kong.Description("HTTP bridge that sends WhatsApp messages through Meta Business Suite browser sessions."),
		kong.UsageOnError(),
	)
	err := ctx.Run(&cli.Globals)
	ctx.FatalIfErrorf(err)
}

// load reads the config and initializes logging from it.
func (g *Globals) load() (*config.Config, string, error) {
	Init(&Config{Level: LevelInfo, ShowCaller: true})

	cfg, path, err := config.Load(g.Config)
	if err != nil {
		return nil, "", err
	}
	if g.LogLevel != "" {
		cfg.Log.Level = g.LogLevel
	}
	Init(&Config{
		Level:      cfg.LogLevel(),
		TimeFormat: "15:04:05",
		ShowCaller: !cfg.Log.HideCaller,
		JSON:       cfg.Log.JSON,
	})
	return cfg, path, nil
}

type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Printf("wabridge %s\n", version)
	return nil
}

type FingerprintCmd struct{}

func (c *FingerprintCmd) Run() error {
	fp := fingerprint.Generate()
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(fp)
}

type HashKeyCmd struct {
	Key string `arg:"" optional:"" help:"Key to hash. Read from the terminal when omitted."`
}

func (c *HashKeyCmd) Run() error {
	key := c.Key
	if key == "" {
		fd := int(os.Stdin.Fd())
		if !term.IsTerminal(fd) {
			return fmt.Errorf("no key given and stdin is not a terminal")
		}
		fmt.Fprint(os.Stderr, "API key: ")
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return err
		}
		key = strings.TrimSpace(string(b))
	}
	if key == "" {
		return fmt.Errorf("empty key")
	}
	hash, err := http.HashKey(key)
	if err != nil {
		return err
	}
	fmt.Println(hash)
	return nil
}

type JournalCmd struct {
	List  JournalListCmd  `cmd:"" help:"List journaled sessions."`
	Clear JournalClearCmd `cmd:"" help:"Delete every journaled session."`
}

func openJournal(g *Globals) (journal.Store, error) {
	cfg, _, err := g.load()
	if err != nil {
		return nil, err
	}
	path, err := cfg.ResolveJournalPath()
	if err != nil {
		return nil, err
	}
	return journal.Open(journal.StoreConfig{Backend: cfg.Journal.Backend, Path: path})
}

type JournalListCmd struct {
	JSON bool `help:"Print records as JSON."`
}

func (c *JournalListCmd) Run(g *Globals) error {
	store, err := openJournal(g)
	if err != nil {
		return err
	}
	defer store.Close()

	records, err := store.Load(context.Background())
	if err != nil {
		return err
	}
	if c.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SESSION\tCREATED\tLAST ACTIVITY\tPLATFORM\tSTATUS")
	for _, id := range sortedKeys(records) {
		r := records[id]
		platform, status := "-", "ok"
		if r.Fingerprint != nil {
			platform = string(r.Fingerprint.Platform)
		}
		if err := r.Recoverable(); err != nil {
			status = err.Error()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", id,
			r.CreatedAt.Format("2006-01-02 15:04:05"),
			r.LastActivity.Format("2006-01-02 15:04:05"),
			platform, status)
	}
	return tw.Flush()
}

type JournalClearCmd struct{}

func (c *JournalClearCmd) Run(g *Globals) error {
	store, err := openJournal(g)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.Clear(context.Background()); err != nil {
		return err
	}
	L_info("journal: cleared")
	return nil
}

type BrowserCmd struct {
	Download BrowserDownloadCmd `cmd:"" help:"Download Chromium into the browser directory."`
	Profiles BrowserProfilesCmd `cmd:"" help:"List session profile directories."`
}

type BrowserDownloadCmd struct{}

func (c *BrowserDownloadCmd) Run(g *Globals) error {
	cfg, _, err := g.load()
	if err != nil {
		return err
	}
	dirs, err := browserDirs(cfg)
	if err != nil {
		return err
	}
	p, err := browser.NewDownloader(dirs.bin, "", true).Download()
	if err != nil {
		return err
	}
	fmt.Println(p)
	return nil
}

type BrowserProfilesCmd struct{}

func (c *BrowserProfilesCmd) Run(g *Globals) error {
	cfg, _, err := g.load()
	if err != nil {
		return err
	}
	dirs, err := browserDirs(cfg)
	if err != nil {
		return err
	}
	profiles, err := browser.NewProfileStore(dirs.profiles).List()
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SESSION\tSIZE\tMODIFIED")
	for _, p := range profiles {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", p.SessionID, browser.FormatSize(p.Size), p.LastUsed.Format("2006-01-02 15:04:05"))
	}
	return tw.Flush()
}
