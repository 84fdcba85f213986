package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/tansive/agentgateway/internal/gateway/session"
)

// Catalog holds the invokers of all providers and caches each provider's tool list
// after the first successful listing.
type Catalog struct {
	invokers map[string]*Invoker

	mu    sync.RWMutex
	tools map[string][]*Tool
}

func NewCatalog(invokers ...*Invoker) *Catalog {
	c := &Catalog{
		invokers: make(map[string]*Invoker, len(invokers)),
		tools:    make(map[string][]*Tool),
	}
	for _, inv := range invokers {
		c.invokers[inv.Provider()] = inv
	}
	return c
}

// Providers returns the providers with an MCP server, sorted.
func (c *Catalog) Providers() []string {
	names := make([]string, 0, len(c.invokers))
	for name := range c.invokers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Cached returns the cached tool list of provider.
func (c *Catalog) Cached(provider string) ([]*Tool, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.tools[provider]
	return t, ok
}

// Tools returns provider's tools, listing them with sess's credentials on a miss.
func (c *Catalog) Tools(ctx context.Context, sess *session.Session, provider string) ([]*Tool, error) {
	if t, ok := c.Cached(provider); ok {
		return t, nil
	}
	inv, ok := c.invokers[provider]
	if !ok {
		return nil, fmt.Errorf("no tool server for provider %s", provider)
	}
	listed, err := inv.ListTools(ctx, sess)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.tools[provider] = listed
	c.mu.Unlock()
	log.Ctx(ctx).Info().Str("provider", provider).Int("tools", len(listed)).Msg("tool catalog loaded")
	return listed, nil
}

// Lookup finds a cached tool by qualified name.
func (c *Catalog) Lookup(qualified string) (*Tool, bool) {
	provider, name, ok := SplitName(qualified)
	if !ok {
		return nil, false
	}
	listed, ok := c.Cached(provider)
	if !ok {
		return nil, false
	}
	for _, t := range listed {
		if t.Name == name {
			return t, true
		}
	}
	return nil, false
}

// Call invokes the tool named by qualified with the model's raw JSON arguments.
func (c *Catalog) Call(ctx context.Context, sess *session.Session, qualified, rawArgs string) (*Result, error) {
	provider, name, ok := SplitName(qualified)
	if !ok {
		return nil, fmt.Errorf("invalid tool name %q", qualified)
	}
	inv, ok := c.invokers[provider]
	if !ok {
		return nil, fmt.Errorf("no tool server for provider %s", provider)
	}

	tool, ok := c.Lookup(qualified)
	if !ok {
		tool = &Tool{Provider: provider, Name: name}
	}
	args, err := tool.ParseArgs(rawArgs)
	if err != nil {
		return nil, err
	}
	return inv.CallTool(ctx, sess, name, args)
}
