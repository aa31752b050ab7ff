// Command worker is the judge node entrypoint: it re-execs itself into the
// sandbox init helper and fork-server roles when asked to, otherwise it
// starts the judge worker pool.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"os/user"
	"strconv"
	"syscall"
	"time"

	"github.com/tuis-oj/judgenode/internal/cache"
	"github.com/tuis-oj/judgenode/internal/config"
	"github.com/tuis-oj/judgenode/internal/dispatcher"
	"github.com/tuis-oj/judgenode/internal/forkserver"
	"github.com/tuis-oj/judgenode/internal/ids"
	"github.com/tuis-oj/judgenode/internal/judge"
	"github.com/tuis-oj/judgenode/internal/langprovider"
	"github.com/tuis-oj/judgenode/internal/logging"
	"github.com/tuis-oj/judgenode/internal/sandbox"
	"github.com/tuis-oj/judgenode/internal/worker"
)

func main() {
	// Both of these never return on their respective reexec paths; they
	// must run before anything else touches the filesystem or spawns
	// goroutines.
	sandbox.MaybeRunInit()
	forkserver.MaybeRunServer()

	var configPath string
	flag.StringVar(&configPath, "config", "config/app.yaml", "path to worker config YAML")
	flag.StringVar(&configPath, "c", "config/app.yaml", "path to worker config YAML (shorthand)")
	logConfigPath := flag.String("logconfig", "config/log-config.yaml", "path to logging config YAML")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("worker: %v", err)
	}

	logCfg, err := config.LoadLogConfig(*logConfigPath)
	if err != nil {
		log.Fatalf("worker: %v", err)
	}
	closer, err := logging.Setup(logging.Config{Dir: logCfg.Dir, Filename: logCfg.Filename})
	if err != nil {
		log.Fatalf("worker: %v", err)
	}
	defer closer.Close()

	privateKey, err := dispatcher.LoadPrivateKey(cfg.Cluster.AuthenticateKeyFile)
	if err != nil {
		log.Fatalf("worker: %v", err)
	}
	dispClient := dispatcher.NewClient(cfg.Cluster.JudgeBoardURL, privateKey)

	policy, err := buildEnginePolicy(cfg.Engine)
	if err != nil {
		log.Fatalf("worker: %v", err)
	}

	fs, err := forkserver.StartClient(cfg.Engine.LanguageDylibs, policy)
	if err != nil {
		log.Fatalf("worker: start fork-server: %v", err)
	}
	defer fs.Close()

	problems, err := cache.NewProblemCache(cfg.Storage.DBFile, cfg.Storage.JuryDir, &dispatcherProblemAdapter{dispClient}, fs)
	if err != nil {
		log.Fatalf("worker: %v", err)
	}
	defer problems.Close()

	archives, err := cache.NewArchiveCache(cfg.Storage.ArchiveDir, dispClient)
	if err != nil {
		log.Fatalf("worker: %v", err)
	}

	registry := langprovider.NewRegistry()
	if err := registry.LoadDylibs(cfg.Engine.LanguageDylibs); err != nil {
		log.Fatalf("worker: load language dylibs: %v", err)
	}
	// Submissions name only a language; pin each name to one registered
	// branch. Built-ins get the newest standard; dylib-provided languages
	// fall back to whatever branch their plugin registered.
	triples := map[string]langprovider.LanguageTriple{
		"c":      {Language: "c", Dialect: "gnu", Version: "c17"},
		"cpp":    {Language: "cpp", Dialect: "gnu", Version: "c++17"},
		"python": {Language: "python", Dialect: "cpython", Version: "3"},
		"rust":   {Language: "rust", Dialect: "rust", Version: "39"},
	}
	for _, t := range registry.Triples() {
		if _, ok := triples[t.Language]; !ok {
			triples[t.Language] = t
		}
	}

	pool := &worker.Pool{
		WorkerID:          ids.NewWorkerID(),
		Dispatcher:        dispClient,
		Problems:          problems,
		Archives:          archives,
		ForkServer:        fs,
		Concurrency:       int(cfg.Workers),
		HeartbeatInterval: time.Duration(cfg.Cluster.HeartbeatInterval) * time.Second,
		LanguageTriples:   triples,
		ScratchDir:        cfg.Engine.JudgeDir,
	}

	log.Printf("worker started. id=%s concurrency=%d board=%s", pool.WorkerID, pool.Concurrency, cfg.Cluster.JudgeBoardURL)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool.Run(ctx)
}

func buildEnginePolicy(e config.Engine) (judge.EnginePolicy, error) {
	policy := judge.EnginePolicy{
		JudgeRoot:              e.JudgeDir,
		JudgeeSyscallWhitelist: e.JudgeeSyscallWhitelist,
		JurySyscallWhitelist:   e.JurySyscallWhitelist,
		JuryCPUTimeLimitMS:     e.JuryCPUTimeLimitMS,
		JuryRealTimeLimitMS:    e.JuryRealTimeLimitMS,
		JuryMemoryLimitKB:      e.JuryMemoryLimitMB * 1024,
	}
	if e.JudgeUsername != "" {
		u, err := user.Lookup(e.JudgeUsername)
		if err != nil {
			return policy, fmt.Errorf("worker: lookup judge user %q: %w", e.JudgeUsername, err)
		}
		uid, err := strconv.ParseUint(u.Uid, 10, 32)
		if err != nil {
			return policy, fmt.Errorf("worker: parse uid for %q: %w", e.JudgeUsername, err)
		}
		policy.HaveJudgeUID = true
		policy.JudgeUID = uint32(uid)
	}
	return policy, nil
}

// dispatcherProblemAdapter adapts *dispatcher.Client's ProblemInfo (the
// wire shape) to the cache package's own ProblemInfo type: Go interface
// satisfaction requires identical named types, not merely identical field
// sets, so the cache layer's dispatcherClient dependency needs this shim.
type dispatcherProblemAdapter struct {
	client *dispatcher.Client
}

func (a *dispatcherProblemAdapter) GetProblem(ctx context.Context, id string) (cache.ProblemInfo, error) {
	info, err := a.client.GetProblem(ctx, id)
	if err != nil {
		return cache.ProblemInfo{}, err
	}
	return cache.ProblemInfo{
		ID:            info.ID,
		JudgeMode:     info.JudgeMode,
		TimeLimitMS:   info.TimeLimitMS,
		MemoryLimitKB: info.MemoryLimitKB,
		JurySource:    info.JurySource,
		JuryLanguage:  info.JuryLanguage,
		JuryDialect:   info.JuryDialect,
		JuryVersion:   info.JuryVersion,
		ArchiveID:     info.ArchiveID,
	}, nil
}

func (a *dispatcherProblemAdapter) GetProblemTimestamp(ctx context.Context, id string) (uint64, error) {
	return a.client.GetProblemTimestamp(ctx, id)
}
