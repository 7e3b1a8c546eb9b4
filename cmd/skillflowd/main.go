package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/skillflow/skillflow/internal/cache"
	"github.com/skillflow/skillflow/internal/config"
	"github.com/skillflow/skillflow/internal/engine"
	"github.com/skillflow/skillflow/internal/facade"
	"github.com/skillflow/skillflow/internal/proxyname"
	"github.com/skillflow/skillflow/internal/recording"
	"github.com/skillflow/skillflow/internal/skill"
	"github.com/skillflow/skillflow/internal/storage"
	"github.com/skillflow/skillflow/internal/upstream"
)

func main() {
	config.LoadEnv()

	fmt.Println("╔══════════════════════════════════════╗")
	fmt.Println("║             SkillFlow                ║")
	fmt.Println("║  record → compose → replay MCP tools ║")
	fmt.Println("╚══════════════════════════════════════╝")

	dataDir := os.Getenv("SKILLFLOW_DATA_DIR")
	if dataDir == "" {
		dataDir, _ = os.Getwd()
		dataDir = filepath.Join(dataDir, "data")
	}
	store, err := storage.Open(dataDir)
	if err != nil {
		log.Fatalf("❌ Failed to open data directory %q: %v", dataDir, err)
	}
	fmt.Printf("📂 Data dir: %s\n", dataDir)

	skillCache := cache.NewSkillCache(0)
	skillMgr := skill.NewManager(store, skillCache)

	registryPath := os.Getenv("SKILLFLOW_REGISTRY")
	if registryPath == "" {
		registryPath = filepath.Join(dataDir, "registry", "servers.json")
	}
	servers := config.LoadRegistry(registryPath)
	fmt.Printf("🔌 Registry: %d server(s) configured (%s)\n", len(servers), registryPath)

	upstreamMgr := upstream.NewManager(servers)
	connectCtx, cancelConnect := context.WithTimeout(context.Background(), 2*time.Minute)
	connected, connectErrs := upstreamMgr.ConnectAll(connectCtx)
	cancelConnect()
	for _, e := range connectErrs {
		log.Printf("⚠️  Upstream connect: %v", e)
	}
	fmt.Printf("🔗 Upstream: %d/%d server(s) connected\n", connected, len(servers))
	defer upstreamMgr.CloseAll()

	maxParallel := defaultMaxParallel()
	eng := engine.NewWithManager(upstreamMgr, skillMgr, store, maxParallel)

	recordingMgr := recording.NewManager(store)

	proxyBudget := facade.DefaultProxyBudget
	if v := os.Getenv("SKILLFLOW_PROXY_NAME_BUDGET"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			proxyBudget = n
		} else {
			log.Printf("⚠️  Invalid SKILLFLOW_PROXY_NAME_BUDGET=%q, using default %d", v, proxyBudget)
		}
	}

	toolCacheTTL := 30 * time.Second
	if v := os.Getenv("SKILLFLOW_TOOL_CACHE_TTL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			toolCacheTTL = time.Duration(n) * time.Second
		} else {
			log.Printf("⚠️  Invalid SKILLFLOW_TOOL_CACHE_TTL_SECONDS=%q, using default %v", v, toolCacheTTL)
		}
	}
	toolCache := cache.NewToolListCache(toolCacheTTL)
	skillCache.OnChange(toolCache.Invalidate)

	f := facade.New(
		skillMgr,
		facade.NewManagerAdapter(upstreamMgr),
		eng,
		recordingMgr,
		proxyname.NewRegistry(),
		toolCache,
		store,
		store,
		proxyBudget,
	)

	name := "skillflow"
	version := "0.1.0"
	srv := facade.NewServer(f, name, version)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ssePort := 0
	if v := os.Getenv("SKILLFLOW_SSE_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			ssePort = n
		} else {
			log.Printf("⚠️  Invalid SKILLFLOW_SSE_PORT=%q, ignoring", v)
		}
	}

	if ssePort > 0 {
		fmt.Printf("🌐 Serving over SSE on :%d\n", ssePort)
		if err := srv.StartSSE(ctx, ssePort); err != nil {
			log.Fatalf("❌ Server error: %v", err)
		}
		return
	}

	fmt.Println("📡 Serving over stdio")
	if err := srv.Start(ctx); err != nil {
		log.Fatalf("❌ Server error: %v", err)
	}
}

func defaultMaxParallel() int {
	if v := os.Getenv("SKILLFLOW_MAX_PARALLEL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
		log.Printf("⚠️  Invalid SKILLFLOW_MAX_PARALLEL=%q, using default", v)
	}
	return 32
}
