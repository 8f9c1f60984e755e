// Command pmlserver wires the Procedural Memory Layer's components —
// store, embedding provider, hypergraph index, SHGAT net and trainer,
// retriever, tool gateway, DAG executor, template planner, and the
// JSON-RPC 2.0 API — into a single long-running process.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"goa.design/clue/log"

	"github.com/Casys-AI/pml-std-sub000/api"
	"github.com/Casys-AI/pml-std-sub000/api/rpc"
	"github.com/Casys-AI/pml-std-sub000/config"
	"github.com/Casys-AI/pml-std-sub000/dag"
	"github.com/Casys-AI/pml-std-sub000/embedding"
	"github.com/Casys-AI/pml-std-sub000/embedding/hashvec"
	"github.com/Casys-AI/pml-std-sub000/gateway"
	"github.com/Casys-AI/pml-std-sub000/hypergraph"
	"github.com/Casys-AI/pml-std-sub000/retriever"
	"github.com/Casys-AI/pml-std-sub000/shgat"
	"github.com/Casys-AI/pml-std-sub000/store"
	"github.com/Casys-AI/pml-std-sub000/store/cache"
	"github.com/Casys-AI/pml-std-sub000/store/memory"
	storemongo "github.com/Casys-AI/pml-std-sub000/store/mongo"
	"github.com/Casys-AI/pml-std-sub000/telemetry"
	"github.com/Casys-AI/pml-std-sub000/types"
)

func main() {
	var (
		httpAddrF = flag.String("http-addr", ":8090", "HTTP JSON-RPC listen address")
		dbgF      = flag.Bool("debug", false, "Log request and response bodies")
	)
	flag.Parse()

	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))
	if *dbgF {
		ctx = log.Context(ctx, log.WithDebug())
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal(ctx, fmt.Errorf("load config: %w", err))
	}

	st, closeStore, err := buildStore(ctx, cfg)
	if err != nil {
		log.Fatal(ctx, fmt.Errorf("build store: %w", err))
	}
	defer closeStore()

	emb := buildEmbedding(cfg)
	idx, net, trainer, err := buildMemory(ctx, st, emb)
	if err != nil {
		log.Fatal(ctx, fmt.Errorf("build hypergraph/shgat state: %w", err))
	}

	if rdb := buildRedis(); rdb != nil {
		defer rdb.Close()
		syncCooccurrence(ctx, idx, cache.New(rdb, "pml"))
	}

	gw := gateway.New(gateway.WithMaxConcurrency(int64(cfg.MaxConcurrency)))
	exec := dag.NewExecutor(gw, int64(cfg.MaxConcurrency))
	planner := dag.NewTemplatePlanner(cfg.WorkflowTemplates)

	r := retriever.New(st, emb, idx, net, cfg.RetrievalWeights)
	logger := telemetry.NewClueLogger()
	tracer := telemetry.NewOtelTracer()
	svc := api.New(r, exec, planner, st, idx, trainer, logger, tracer)

	server := rpc.NewServer(svc, gw)
	router := chi.NewRouter()
	rpc.Mount(router, server)

	errc := make(chan error, 1)
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()

	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	handleHTTPServer(ctx, *httpAddrF, router, &wg, errc)

	log.Printf(ctx, "exiting (%v)", <-errc)
	cancel()
	wg.Wait()
	log.Printf(ctx, "exited")
}

func handleHTTPServer(ctx context.Context, addr string, handler http.Handler, wg *sync.WaitGroup, errc chan error) {
	srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 60 * time.Second}
	wg.Add(1)
	go func() {
		defer wg.Done()
		go func() {
			log.Printf(ctx, "HTTP server listening on %q", addr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errc <- err
			}
		}()

		<-ctx.Done()
		log.Printf(ctx, "shutting down HTTP server at %q", addr)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf(ctx, "failed to shutdown: %v", err)
		}
	}()
}

// buildStore selects a store.Store backend from PML_DB_PATH: a
// "mongodb://" or "mongodb+srv://" URI connects to MongoDB, anything else
// (including an empty value) falls back to the in-memory store.
func buildStore(ctx context.Context, cfg *config.Config) (store.Store, func(), error) {
	if !strings.HasPrefix(cfg.DBPath, "mongodb://") && !strings.HasPrefix(cfg.DBPath, "mongodb+srv://") {
		return memory.New(), func() {}, nil
	}

	client, err := mongo.Connect(options.Client().ApplyURI(cfg.DBPath))
	if err != nil {
		return nil, nil, fmt.Errorf("connect mongo: %w", err)
	}
	db := client.Database("pml")
	closeFn := func() {
		disconnectCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = client.Disconnect(disconnectCtx)
	}
	return storemongo.New(db), closeFn, nil
}

func buildEmbedding(cfg *config.Config) embedding.Provider {
	return hashvec.New(cfg.EmbeddingDim)
}

// buildMemory rehydrates the hypergraph index and SHGAT net from the
// store's persisted state (tools, capabilities, and exported SHGAT
// parameters), or starts fresh if none exists yet.
func buildMemory(ctx context.Context, st store.Store, emb embedding.Provider) (*hypergraph.Index, *shgat.Net, *shgat.Trainer, error) {
	tools, err := st.ListTools(ctx)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("list tools: %w", err)
	}
	caps, err := st.ListCapabilities(ctx)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("list capabilities: %w", err)
	}

	idx := hypergraph.New()
	persisted := make(map[string]types.HyperFeatures, len(caps))
	for _, c := range caps {
		persisted[c.ID] = c.Features
	}
	idx.BatchUpdateFeature(persisted, []string{"cooccurrence", "recency"})

	if err := idx.Rebuild(ctx, tools, caps); err != nil {
		return nil, nil, nil, fmt.Errorf("rebuild hypergraph index: %w", err)
	}
	idx.NormalizeCooccurrence()

	net := buildNet(emb.Dim())
	if blob, ok, err := st.LoadParams(ctx); err == nil && ok {
		if restored, err := shgat.Import(blob); err == nil {
			net = restored
		}
	}
	trainer := shgat.NewTrainer(net, idx)
	return idx, net, trainer, nil
}

func buildNet(dim int) *shgat.Net {
	cfg := shgat.DefaultConfig()
	cfg.D = dim
	return shgat.New(cfg)
}

// buildRedis returns a shared-state client when PML_REDIS_ADDR is set, or
// nil when co-occurrence state should stay process-local.
func buildRedis() *redis.Client {
	addr := os.Getenv("PML_REDIS_ADDR")
	if addr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{Addr: addr})
}

func syncCooccurrence(ctx context.Context, idx *hypergraph.Index, c *cache.Cache) {
	remote, err := c.PullCounters(ctx)
	if err == nil {
		idx.MergeCooccurrence(remote)
	}
	_ = c.PushCounters(ctx, idx.CooccurrenceSnapshot())
}
