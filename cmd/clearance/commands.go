package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/poiesic/clearance"
	"github.com/poiesic/clearance/api"
	"github.com/poiesic/clearance/config"
	"github.com/poiesic/clearance/core"
	"github.com/poiesic/clearance/reembed"
	"github.com/poiesic/clearance/search"
	"github.com/urfave/cli/v2"
)

// extraEngineOptions is appended to every engine the CLI opens.
var extraEngineOptions []clearance.EngineOption

func openEngine(c *cli.Context) (*clearance.Engine, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	opts := append([]clearance.EngineOption{clearance.WithLogger(slog.Default())}, extraEngineOptions...)
	engine, err := clearance.Open(cfg, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to open engine: %w", err)
	}
	return engine, nil
}

func queryCommand() *cli.Command {
	return &cli.Command{
		Name:      "query",
		Usage:     "Retrieve passages for a question",
		ArgsUsage: "<question>",
		Action:    queryAction,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "role", Usage: "Requester role", Value: "anonymous"},
			&cli.StringFlag{Name: "unit", Usage: "Requester unit"},
			&cli.StringFlag{Name: "user", Usage: "Requester user ID"},
			&cli.IntFlag{Name: "top-n", Aliases: []string{"n"}, Usage: "Maximum number of results (0 uses the configured default)"},
			&cli.BoolFlag{Name: "json", Usage: "Print the response as JSON"},
		},
	}
}

func queryAction(c *cli.Context) error {
	question := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
	if question == "" {
		return fmt.Errorf("a question is required")
	}
	role, err := core.ParseRole(c.String("role"))
	if err != nil {
		return err
	}
	requester := core.Requester{Role: role, UnitID: c.String("unit"), UserID: c.String("user")}

	engine, err := openEngine(c)
	if err != nil {
		return err
	}
	defer engine.Close()

	resp, err := engine.Retrieve(c.Context, question, requester, c.Int("top-n"))
	if err != nil {
		_, msg := api.Classify(err)
		slog.Debug("retrieval failed", "err", err)
		return errors.New(msg)
	}
	if c.Bool("json") {
		enc := json.NewEncoder(c.App.Writer)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}
	printResponse(c.App.Writer, resp)
	return nil
}

func printResponse(w io.Writer, resp *search.Response) {
	for _, r := range resp.Results {
		fmt.Fprintf(w, "%d. [%.3f] %s (%s, %s) %s\n", r.Rank, r.Score, r.Title, r.Visibility, r.Publication, r.Kind)
		fmt.Fprintf(w, "   cite: %s\n", r.Citation)
		if r.Passage != nil {
			fmt.Fprintf(w, "   %s\n", strings.ReplaceAll(r.Passage.Text, "\n", "\n   "))
		}
	}
	if notice := api.Notice(resp); notice != "" {
		fmt.Fprintln(w, notice)
	}
	fmt.Fprintf(w, "strategy: %s\n", resp.Strategy)
}

func seedCommand() *cli.Command {
	return &cli.Command{
		Name:   "seed",
		Usage:  "Register documents from a YAML or JSON corpus file",
		Action: seedAction,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "file",
				Aliases:  []string{"f"},
				Usage:    "Corpus file",
				Required: true,
			},
			&cli.BoolFlag{
				Name:  "embed",
				Usage: "Embed the registered documents immediately instead of on first query",
			},
		},
	}
}

func seedAction(c *cli.Context) error {
	docs, err := loadCorpus(c.String("file"))
	if err != nil {
		return err
	}

	engine, err := openEngine(c)
	if err != nil {
		return err
	}
	defer engine.Close()

	added, err := engine.Lifecycle().Register(c.Context, docs...)
	if err != nil {
		return fmt.Errorf("failed to register documents: %w", err)
	}
	fmt.Fprintf(c.App.Writer, "Registered %d documents\n", len(added))

	if !c.Bool("embed") {
		return nil
	}
	return runReembed(c, engine, reembed.ScopeMissing)
}

func setAccessCommand() *cli.Command {
	return &cli.Command{
		Name:   "set-access",
		Usage:  "Change a document's access attributes",
		Action: setAccessAction,
		Flags: []cli.Flag{
			&cli.Uint64Flag{Name: "id", Usage: "Document ID", Required: true},
			&cli.StringFlag{Name: "visibility", Usage: "public, institution, restricted or confidential", Required: true},
			&cli.StringFlag{Name: "publication", Usage: "Publication state", Value: "approved"},
			&cli.StringFlag{Name: "unit", Usage: "Owning unit"},
			&cli.StringFlag{Name: "uploader", Usage: "Uploader user ID"},
		},
	}
}

func setAccessAction(c *cli.Context) error {
	visibility, err := core.ParseVisibility(c.String("visibility"))
	if err != nil {
		return err
	}
	publication, err := core.ParsePublicationState(c.String("publication"))
	if err != nil {
		return err
	}
	attrs := core.AccessAttributes{
		Visibility:  visibility,
		OwningUnit:  c.String("unit"),
		Publication: publication,
		UploaderID:  c.String("uploader"),
	}

	engine, err := openEngine(c)
	if err != nil {
		return err
	}
	defer engine.Close()

	doc, err := engine.Lifecycle().ChangeAccess(c.Context, core.ID(c.Uint64("id")), attrs)
	if err != nil {
		return fmt.Errorf("failed to change access: %w", err)
	}
	fmt.Fprintf(c.App.Writer, "Document %d is now %s/%s\n", doc.Id, doc.Access.Visibility, doc.Access.Publication)
	return nil
}

func deleteCommand() *cli.Command {
	return &cli.Command{
		Name:   "delete",
		Usage:  "Delete a document and its embedding records",
		Action: deleteAction,
		Flags: []cli.Flag{
			&cli.Uint64Flag{Name: "id", Usage: "Document ID", Required: true},
		},
	}
}

func deleteAction(c *cli.Context) error {
	engine, err := openEngine(c)
	if err != nil {
		return err
	}
	defer engine.Close()

	id := core.ID(c.Uint64("id"))
	if err := engine.Lifecycle().Delete(c.Context, id); err != nil {
		return fmt.Errorf("failed to delete document %d: %w", id, err)
	}
	fmt.Fprintf(c.App.Writer, "Deleted document %d\n", id)
	return nil
}

func reembedCommand() *cli.Command {
	return &cli.Command{
		Name:   "reembed",
		Usage:  "Embed stored documents ahead of queries",
		Action: reembedAction,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "scope",
				Usage: "Documents to process (all, missing, failed)",
				Value: "missing",
			},
			&cli.Uint64SliceFlag{
				Name:  "id",
				Usage: "Mark these documents for re-embedding first",
			},
		},
	}
}

func reembedAction(c *cli.Context) error {
	scope, err := reembed.ParseScope(c.String("scope"))
	if err != nil {
		return err
	}

	engine, err := openEngine(c)
	if err != nil {
		return err
	}
	defer engine.Close()

	for _, id := range c.Uint64Slice("id") {
		if err := engine.Lifecycle().RequestReembed(c.Context, core.ID(id)); err != nil {
			return fmt.Errorf("failed to reset document %d: %w", id, err)
		}
	}
	return runReembed(c, engine, scope)
}

func runReembed(c *cli.Context, engine *clearance.Engine, scope reembed.Scope) error {
	r, err := engine.NewReembedder(scope, c.App.ErrWriter)
	if err != nil {
		return err
	}
	summary, err := r.Run(c.Context)
	if err != nil {
		return fmt.Errorf("reembedding failed: %w", err)
	}
	fmt.Fprintf(c.App.Writer, "Embedded %d, failed %d, skipped %d of %d documents\n",
		summary.Embedded, summary.Failed, summary.Skipped, summary.Total)
	return nil
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:   "serve",
		Usage:  "Serve the retrieval API over HTTP",
		Action: serveAction,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Usage: "Listen address (overrides server.addr)"},
		},
	}
}

func serveAction(c *cli.Context) error {
	engine, err := openEngine(c)
	if err != nil {
		return err
	}
	defer engine.Close()

	addr := c.String("addr")
	if addr == "" {
		addr = engine.Config().Server.Addr
	}
	server, err := api.NewServer(engine, slog.Default())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()
	return server.Run(ctx, addr)
}
