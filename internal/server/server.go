// Package server exposes a read-only HTTP status API over the progress
// store, plus prometheus metrics. It exists so a long sweep can be watched
// without touching the run; nothing here mutates state.
package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"namesweep/internal/aggregate"
	"namesweep/internal/config"
	"namesweep/internal/domain"
	"namesweep/internal/store"
)

// Config for the HTTP status handler.
type Config struct {
	Store    store.Store
	Conf     *config.Config
	BasePath string
}

// New returns the HTTP handler for the status API.
func New(cfg Config) (http.Handler, error) {
	if cfg.Store == nil {
		return nil, errors.New("server: store is required")
	}
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}

	router := chi.NewRouter()
	router.Handle("/metrics", promhttp.Handler())

	hcfg := huma.DefaultConfig("Namesweep status API", "0.1.0")
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerRuns(group, cfg)
	registerNames(group, cfg)

	return router, nil
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

type versionPath struct {
	Version string `path:"version"`
}

func registerRuns(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "list-runs",
		Method:      http.MethodGet,
		Path:        "/runs",
		Summary:     "List runs across versions",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body struct {
			Items []domain.Run `json:"items"`
		} `json:"body"`
	}, error) {
		runs, err := cfg.Store.Runs(ctx)
		if err != nil {
			return nil, huma.Error500InternalServerError("list runs", err)
		}
		out := &struct {
			Body struct {
				Items []domain.Run `json:"items"`
			} `json:"body"`
		}{}
		out.Body.Items = runs
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-run",
		Method:      http.MethodGet,
		Path:        "/runs/{version}",
		Summary:     "Run progress for one version",
	}, func(ctx context.Context, input *versionPath) (*struct {
		Body domain.Run `json:"body"`
	}, error) {
		run, err := cfg.Store.Run(ctx, input.Version)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, huma.Error404NotFound("no run for version " + input.Version)
			}
			return nil, huma.Error500InternalServerError("read run", err)
		}
		return &struct {
			Body domain.Run `json:"body"`
		}{Body: run}, nil
	})
}

func registerNames(api huma.API, cfg Config) {
	type namesInput struct {
		Version    string `path:"version"`
		Provenance bool   `query:"provenance" doc:"include the queries that produced each name"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "get-names",
		Method:      http.MethodGet,
		Path:        "/runs/{version}/names",
		Summary:     "Deduplicated names discovered so far",
	}, func(ctx context.Context, input *namesInput) (*struct {
		Body aggregate.Export `json:"body"`
	}, error) {
		results, err := cfg.Store.Results(ctx, input.Version)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, huma.Error404NotFound("no run for version " + input.Version)
			}
			return nil, huma.Error500InternalServerError("read results", err)
		}
		agg := aggregate.FromResults(results)
		return &struct {
			Body aggregate.Export `json:"body"`
		}{Body: agg.ExportFor(input.Version, time.Now(), input.Provenance)}, nil
	})
}
