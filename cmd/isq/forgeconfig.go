package main

import (
	"fmt"

	"github.com/localcache/isq/internal/forge"
	_ "github.com/localcache/isq/internal/forge/github"
	_ "github.com/localcache/isq/internal/forge/linear"
	"github.com/localcache/isq/internal/keychain"
	"github.com/localcache/isq/internal/store"
)

// authConfigs is the per-forge fallback-chain configuration §6's link
// contract and internal/keychain's Resolver consume. A binding's
// TokenHandle is the forge kind string itself — the keyring service and
// env var are fixed per forge, not per-repo, so no finer-grained handle is
// needed.
var authConfigs = map[forge.Kind]keychain.AuthConfig{
	forge.KindGitHub: {
		ForgeDisplayName: "GitHub",
		KeyringService:   "isq-github",
		EnvVar:           "GITHUB_TOKEN",
		CLICommand:       []string{"gh", "auth", "token"},
		LinkCommand:      "isq link github",
	},
	forge.KindLinear: {
		ForgeDisplayName: "Linear",
		KeyringService:   "isq-linear",
		EnvVar:           "LINEAR_API_KEY",
		LinkCommand:      "isq link linear",
	},
}

// tokenResolver is shared between direct-mode CLI writes and the daemon's
// own ResolveToken wiring, so both tiers resolve credentials identically.
var tokenResolver = &keychain.Resolver{}

func resolveToken(tokenHandle string) (string, error) {
	cfg, ok := authConfigs[forge.Kind(tokenHandle)]
	if !ok {
		return "", fmt.Errorf("no credential configuration for forge %q", tokenHandle)
	}
	return tokenResolver.Resolve(cfg)
}

func authFailureMessage(cfg keychain.AuthConfig, err error) string {
	return fmt.Sprintf("not authenticated with %s (%v) — run %q", cfg.ForgeDisplayName, err, cfg.LinkCommand)
}

// buildForge resolves the credential for b's forge kind and constructs the
// adapter, the same two steps runLink performs before its AuthProbe.
func buildForge(b store.Binding) (forge.Forge, error) {
	token, err := resolveToken(string(b.ForgeKind))
	if err != nil {
		return nil, err
	}
	return forge.New(b.ForgeKind, forge.Config{Token: token})
}
