package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"

	mcpsdk "github.com/mark3labs/mcp-go/server"

	"github.com/agentic-warden/mcp-gateway/internal/config"
	"github.com/agentic-warden/mcp-gateway/internal/embedding"
	"github.com/agentic-warden/mcp-gateway/internal/gateway"
	"github.com/agentic-warden/mcp-gateway/internal/llm"
	"github.com/agentic-warden/mcp-gateway/internal/llm/openai"
	"github.com/agentic-warden/mcp-gateway/internal/mcp"
	"github.com/agentic-warden/mcp-gateway/internal/orchestrator"
	"github.com/agentic-warden/mcp-gateway/internal/registry"
	"github.com/agentic-warden/mcp-gateway/internal/sandbox"
	"github.com/agentic-warden/mcp-gateway/internal/vectorindex"
)

func main() {
	config.LoadEnv()

	fmt.Println("╔══════════════════════════════════════╗")
	fmt.Println("║            MCP Gateway                ║")
	fmt.Println("║  routing · orchestration · sandbox    ║")
	fmt.Println("╚══════════════════════════════════════╝")

	workspaceDir := os.Getenv("WORKSPACE_DIR")
	if workspaceDir == "" {
		workspaceDir, _ = os.Getwd()
	}

	embedDim := envInt("EMBED_DIMENSION", 128)
	var embedder embedding.Backend = embedding.NewHashBackend(embedDim)
	if baseURL := os.Getenv("EMBED_BASE_URL"); baseURL != "" {
		embedder = embedding.NewRemoteBackend(baseURL, os.Getenv("EMBED_API_KEY"), embedDim)
	}
	cached, err := embedding.NewCachedBackend(embedder, envInt("EMBED_CACHE_SIZE", embedding.DefaultCacheSize))
	if err != nil {
		log.Fatalf("embedding: create cache: %v", err)
	}
	embedder = cached
	fmt.Printf("🧮 Embedding: dim=%d cache=%d\n", embedDim, envInt("EMBED_CACHE_SIZE", embedding.DefaultCacheSize))

	index := vectorindex.New(embedDim)

	reg := registry.New(registry.Config{
		DefaultTTL:      envDuration("REGISTRY_TTL", 5*time.Minute),
		MaxDynamicTools: envInt("REGISTRY_MAX_DYNAMIC_TOOLS", 100),
		CleanupInterval: envDuration("REGISTRY_CLEANUP_INTERVAL", 30*time.Second),
	})
	stopCleanup := reg.StartCleanupTask()
	defer stopCleanup()

	mcpConfigPath := os.Getenv("MCP_CONFIG")
	if mcpConfigPath == "" {
		mcpConfigPath = "mcp.json"
	}
	pool := mcp.NewPool(mcpConfigPath)
	if _, statErr := os.Stat(mcpConfigPath); statErr == nil {
		n, connErrs := pool.ConnectAll(context.Background())
		for _, e := range connErrs {
			log.Printf("⚠️  MCP connect: %v", e)
		}
		fmt.Printf("🔌 MCP: %d server(s) connected\n", n)
	}
	defer pool.CloseAll()

	stopReconnect := pool.StartReconnectLoop(context.Background())
	defer stopReconnect()

	syncCatalog(context.Background(), pool, reg, index, embedder)
	go catalogResyncLoop(context.Background(), pool, reg, index, embedder, envDuration("CATALOG_RESYNC_INTERVAL", 30*time.Second))

	if watcher, werr := mcp.NewConfigWatcher(mcpConfigPath, pool); werr == nil {
		watcher.Start(context.Background())
		fmt.Println("👀 Config watcher: active")
	} else {
		log.Printf("⚠️  Config watcher disabled: %v", werr)
	}

	sbox := sandbox.New(sandbox.Config{
		Size:          envInt("SANDBOX_POOL_SIZE", 4),
		MaxCallStack:  sandbox.DefaultMaxCallStack,
		ScriptTimeout: envDuration("SANDBOX_SCRIPT_TIMEOUT", sandbox.DefaultScriptTimeout),
	})

	var llmProvider llm.LLMProvider
	if llmClient, lerr := openai.NewClientFromEnv(); lerr == nil {
		llmProvider = llmClient
		fmt.Printf("🤖 LLM: %s\n", llmClient.GetName())
	} else {
		log.Printf("⚠️  LLM provider disabled, falling back to vector-only routing: %v", lerr)
	}

	var gw *gateway.Server
	orch := orchestrator.New(embedder, index, reg, pool, sbox, llmProvider, func(ctx context.Context, sessionID string) error {
		return gw.Notify(ctx, sessionID)
	})

	tasksLogDir := os.Getenv("TASKS_LOG_DIR")
	if tasksLogDir == "" {
		tasksLogDir = filepath.Join(workspaceDir, "logs", "tasks")
	}
	tasks := gateway.NewTaskSupervisor(tasksLogDir)

	rolesDir := os.Getenv("ROLES_DIR")
	if rolesDir == "" {
		rolesDir = filepath.Join(workspaceDir, "roles")
	}
	providersPath := os.Getenv("PROVIDERS_FILE")
	if providersPath == "" {
		providersPath = filepath.Join(workspaceDir, "providers.yaml")
	}

	gw = gateway.New(gateway.Config{
		Name:          "mcp-gateway",
		Version:       "0.1.0",
		Orchestrator:  orch,
		Caller:        pool,
		Tasks:         tasks,
		RolesDir:      rolesDir,
		ProvidersPath: providersPath,
	})

	fmt.Println("🛰️  Serving meta-tool surface over stdio")
	if err := mcpsdk.ServeStdio(gw.MCPServer()); err != nil {
		log.Fatalf("❌ gateway server error: %v", err)
	}
}

// syncCatalog rebuilds the semantic index and registry from whatever the
// connection pool currently advertises. Tool ids are "<server>/<tool>" so
// identically named tools on different servers never collide in the
// registry or the index (registry.RegisterProxied keys purely on name).
func syncCatalog(ctx context.Context, pool *mcp.Pool, reg *registry.Registry, index *vectorindex.Index, embedder embedding.Backend) {
	advertised := pool.AdvertisedTools(ctx)

	var ids []string
	var servers []string
	var toolNames []string
	var descriptions []string
	var schemas []json.RawMessage
	for server, tools := range advertised {
		for _, t := range tools {
			ids = append(ids, server+"/"+t.Name)
			servers = append(servers, server)
			toolNames = append(toolNames, t.Name)
			descriptions = append(descriptions, t.Description)
			schemas = append(schemas, t.InputSchema)
		}
	}
	if len(ids) == 0 {
		return
	}

	texts := make([]string, len(ids))
	for i := range ids {
		texts[i] = toolNames[i] + ": " + descriptions[i]
	}
	vectors, err := embedder.EmbedBatch(ctx, texts)
	if err != nil {
		log.Printf("[Gateway] catalog sync: embed: %v", err)
		return
	}

	records := make([]vectorindex.Record, len(ids))
	for i := range ids {
		reg.RegisterProxied(servers[i], registry.ToolDefinition{
			Name:        ids[i],
			Description: descriptions[i],
			InputSchema: schemas[i],
		})
		records[i] = vectorindex.Record{
			ID:       ids[i],
			Server:   servers[i],
			Tool:     toolNames[i],
			Metadata: map[string]string{"description": descriptions[i]},
			Vector:   vectors[i],
		}
	}
	if err := index.Rebuild(records, nil); err != nil {
		log.Printf("[Gateway] catalog sync: rebuild index: %v", err)
	}
}

func catalogResyncLoop(ctx context.Context, pool *mcp.Pool, reg *registry.Registry, index *vectorindex.Index, embedder embedding.Backend, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			syncCatalog(ctx, pool, reg, index, embedder)
		}
	}
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("⚠️  invalid %s=%q, using default %d", key, v, def)
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("⚠️  invalid %s=%q, using default %v", key, v, def)
		return def
	}
	return d
}
