package main

import (
	"context"
	"os"

	"github.com/charmbracelet/log"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/nixtools/pybump/internal/api"
	"github.com/nixtools/pybump/internal/config"
	"github.com/nixtools/pybump/internal/fetcher"
	"github.com/nixtools/pybump/internal/git"
	"github.com/nixtools/pybump/internal/nix"
	"github.com/nixtools/pybump/internal/nixfile"
	"github.com/nixtools/pybump/internal/service"
	"github.com/nixtools/pybump/internal/updater"
	"github.com/nixtools/pybump/internal/version"
)

var logger = log.NewWithOptions(os.Stderr, log.Options{
	ReportTimestamp: true,
	Prefix:          config.AppName + "-server",
})

// updateRequest starts a batch run over the given paths.
type updateRequest struct {
	Paths  []string `json:"paths"`
	Target string   `json:"target"`
	Commit bool     `json:"commit"`
}

func main() {
	cfg, err := config.Load("")
	if err != nil {
		logger.Fatal(err)
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal(err)
	}

	hub := api.NewHub()
	app := fiber.New()

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/progress", websocket.New(api.ProgressHandler(hub)))

	app.Post("/api/update", func(c *fiber.Ctx) error {
		var req updateRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if len(req.Paths) == 0 {
			return fiber.NewError(fiber.StatusBadRequest, "no paths given")
		}
		if req.Target == "" {
			req.Target = "major"
		}
		target, err := version.ParseBumpLevel(req.Target)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		batch, err := buildBatch(c.Context(), cfg, hub, target, req.Commit, len(req.Paths) > 1)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		go batch.Run(context.Background(), req.Paths)

		return c.JSON(fiber.Map{"started": true, "count": len(req.Paths)})
	})

	app.Get("/", func(c *fiber.Ctx) error {
		return c.SendString("pybump")
	})

	logger.Info("listening", "addr", cfg.Server.Listen)
	logger.Fatal(app.Listen(cfg.Server.Listen))
}

func buildBatch(ctx context.Context, cfg *config.Config, hub *api.Hub, target version.BumpLevel, commit, bulk bool) (*service.Batch, error) {
	root := cfg.NixpkgsRoot
	if root == "" {
		var err error
		if root, err = nix.Root(ctx); err != nil {
			return nil, err
		}
	}

	eval := &nix.Evaluator{Root: root}
	releases := fetcher.NewReleaseLister(config.NewGitHubHTTPClient(cfg.GitHubToken))
	pypi := fetcher.NewPyPI(cfg.Index, cfg.AllowPrerelease)
	gh := fetcher.NewGitHub(releases, eval, nix.Prefetcher{}, cfg.AllowPrerelease)

	batch := &service.Batch{
		Updater: updater.New(eval, map[nixfile.Fetcher]fetcher.Fetcher{
			nixfile.FetchPypi:       pypi,
			nixfile.FetchURL:        pypi,
			nixfile.FetchFromGitHub: gh,
		}, updater.Options{
			Target:           target,
			BulkUpdate:       bulk,
			AttrPathOverride: os.Getenv(updater.AttrPathEnv),
		}),
		Eval:    eval,
		Hub:     hub,
		Logger:  logger,
		Workers: cfg.Workers,
		Target:  target,
	}
	if commit {
		committer, err := git.Open(root, cfg.Git.AuthorName, cfg.Git.AuthorEmail)
		if err != nil {
			return nil, err
		}
		batch.Committer = committer
	}
	return batch, nil
}
