// Package signing computes the per-request integrity token the platform
// API requires. Signing rules are not static: they are published at
// external rule sources and rotate, so the provider fetches them lazily,
// caches them briefly, and falls through an ordered source list.
package signing

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"creatorsync/pkg/errors"
	"creatorsync/pkg/logger"
)

// DefaultRuleSources are the published rule endpoints, tried in order.
var DefaultRuleSources = []string{
	"https://raw.githubusercontent.com/DATAHOARDERS/dynamic-rules/main/onlyfans.json",
	"https://raw.githubusercontent.com/deviint/onlyfans-dynamic-rules/main/dynamicRules.json",
}

// DefaultRuleTTL is how long a fetched rule set stays fresh.
const DefaultRuleTTL = 30 * time.Second

// Rules is one signing rule set as published by a rule source.
type Rules struct {
	StaticParam      string `json:"static_param"`
	Format           string `json:"format"`
	ChecksumIndexes  []int  `json:"checksum_indexes"`
	ChecksumConstant int    `json:"checksum_constant"`
	AppToken         string `json:"app_token"`
}

func (r *Rules) valid() bool {
	return r.StaticParam != "" && r.Format != "" && len(r.ChecksumIndexes) > 0 && r.AppToken != ""
}

// Provider computes request signatures from cached dynamic rules.
type Provider struct {
	sources    []string
	ttl        time.Duration
	authID     string
	httpClient *http.Client
	logger     logger.Logger

	mu        sync.Mutex
	rules     *Rules
	fetchedAt time.Time
}

// NewProvider creates a signature provider for the given authenticated
// user id. Sources defaults to DefaultRuleSources when empty.
func NewProvider(authID string, sources []string, log logger.Logger) *Provider {
	if len(sources) == 0 {
		sources = DefaultRuleSources
	}
	if log == nil {
		log = logger.GetLogger()
	}
	return &Provider{
		sources:    sources,
		ttl:        DefaultRuleTTL,
		authID:     authID,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     log,
	}
}

// Sign computes the signature for a request path (including query string)
// at the given millisecond timestamp, returning the signature and the app
// token the same rule set supplies for headers.
func (p *Provider) Sign(ctx context.Context, path string, timestampMillis int64) (signature, appToken string, err error) {
	rules, err := p.currentRules(ctx)
	if err != nil {
		return "", "", err
	}

	// Message is the newline-joined static param, timestamp, signed path
	// and user id, hashed with SHA-1. The checksum sums bytes of the hex
	// string (not the digest) at the rule-specified indexes.
	message := strings.Join([]string{
		rules.StaticParam,
		strconv.FormatInt(timestampMillis, 10),
		path,
		p.authID,
	}, "\n")

	sum := sha1.Sum([]byte(message))
	hashHex := hex.EncodeToString(sum[:])

	checksum := rules.ChecksumConstant
	for _, idx := range rules.ChecksumIndexes {
		if idx >= 0 && idx < len(hashHex) {
			checksum += int(hashHex[idx])
		}
	}
	if checksum < 0 {
		checksum = -checksum
	}

	return formatSignature(rules.Format, hashHex, checksum), rules.AppToken, nil
}

// AppToken returns the app token from the current rule set.
func (p *Provider) AppToken(ctx context.Context) (string, error) {
	rules, err := p.currentRules(ctx)
	if err != nil {
		return "", err
	}
	return rules.AppToken, nil
}

// Invalidate drops the cached rule set so the next Sign refetches.
func (p *Provider) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rules = nil
}

func (p *Provider) currentRules(ctx context.Context) (*Rules, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.rules != nil && time.Since(p.fetchedAt) < p.ttl {
		return p.rules, nil
	}

	var lastErr error
	for _, source := range p.sources {
		rules, err := p.fetchRules(ctx, source)
		if err != nil {
			lastErr = err
			p.logger.WarnWithFields("rule source unreachable", map[string]interface{}{
				"source": source,
				"error":  err.Error(),
			})
			continue
		}

		p.rules = rules
		p.fetchedAt = time.Now()
		p.logger.DebugWithFields("signing rules refreshed", map[string]interface{}{
			"source": source,
		})
		return p.rules, nil
	}

	// A stale rule set beats none at all while every source is down.
	if p.rules != nil {
		p.logger.Warn("all rule sources unreachable, using stale signing rules")
		return p.rules, nil
	}

	return nil, errors.RulesUnavailable(lastErr)
}

func (p *Provider) fetchRules(ctx context.Context, source string) (*Rules, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return nil, err
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rule source returned status %d", resp.StatusCode)
	}

	var rules Rules
	if err := json.NewDecoder(resp.Body).Decode(&rules); err != nil {
		return nil, fmt.Errorf("failed to decode rules: %w", err)
	}
	if !rules.valid() {
		return nil, fmt.Errorf("rule source returned incomplete rule set")
	}
	return &rules, nil
}

// formatSignature renders the rule template. Published rule sets use either
// positional "{}" slots (hash, then checksum) with "{:x}" for the checksum
// in hex, or named "{hash}"/"{checksum}" slots.
func formatSignature(template, hashHex string, checksum int) string {
	out := template
	out = strings.Replace(out, "{}", hashHex, 1)
	out = strings.Replace(out, "{:x}", strconv.FormatInt(int64(checksum), 16), 1)
	out = strings.Replace(out, "{}", strconv.Itoa(checksum), 1)
	out = strings.ReplaceAll(out, "{hash}", hashHex)
	out = strings.ReplaceAll(out, "{checksum}", strconv.Itoa(checksum))

	if out == template {
		return hashHex + ":" + strconv.Itoa(checksum)
	}
	return out
}

// SetHTTPClient overrides the HTTP client used for rule fetches. Tests use
// this to point at a local server.
func (p *Provider) SetHTTPClient(c *http.Client) {
	p.httpClient = c
}

// SetTTL overrides the rule cache freshness window.
func (p *Provider) SetTTL(ttl time.Duration) {
	p.ttl = ttl
}
