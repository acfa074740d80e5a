package config

import (
	"fmt"
	"strings"
)

// Validator runs the deeper, cross-referencing checks that Load's own
// validate() skips because they are advisory rather than fatal-at-load
// (a config that fails one of these still loads; `dispatchd config
// check` surfaces them to the operator).
type Validator struct {
	cfg *Config
}

// NewValidator wraps cfg for cross-reference validation.
func NewValidator(cfg *Config) *Validator {
	return &Validator{cfg: cfg}
}

// Issue is one validation finding.
type Issue struct {
	Severity string // "error" or "warning"
	Field    string
	Message  string
}

// Check runs every cross-reference rule and returns every issue found
// (as opposed to Load's validate(), which returns the first fatal
// error).
func (v *Validator) Check() []Issue {
	var issues []Issue
	issues = append(issues, v.checkWebhookBucketRefs()...)
	issues = append(issues, v.checkDuplicateTokens()...)
	issues = append(issues, v.checkPersistentBucketSizing()...)
	return issues
}

// checkWebhookBucketRefs flags webhook endpoints that name a bucket
// never declared anywhere in the loaded configuration — such an
// endpoint will still work (AddWork auto-creates the bucket), but it
// almost certainly means a typo.
func (v *Validator) checkWebhookBucketRefs() []Issue {
	if v.cfg.Webhook == nil {
		return nil
	}
	var issues []Issue
	for i, ep := range v.cfg.Webhook.Endpoints {
		if _, ok := v.cfg.Buckets[ep.Bucket]; !ok {
			issues = append(issues, Issue{
				Severity: "warning",
				Field:    fmt.Sprintf("webhook.endpoints[%d].bucket", i),
				Message:  fmt.Sprintf("bucket %q is not declared in buckets_dir; it will be auto-created from DEFAULT on first delivery", ep.Bucket),
			})
		}
		if ep.Secret == "" {
			issues = append(issues, Issue{
				Severity: "error",
				Field:    fmt.Sprintf("webhook.endpoints[%d].secret", i),
				Message:  "empty secret accepts unsigned requests from anyone who can reach the listener",
			})
		}
		switch strings.ToLower(ep.Algorithm) {
		case "", "sha256", "sha1":
		default:
			issues = append(issues, Issue{
				Severity: "error",
				Field:    fmt.Sprintf("webhook.endpoints[%d].algorithm", i),
				Message:  fmt.Sprintf("unsupported signature algorithm %q (want sha256 or sha1)", ep.Algorithm),
			})
		}
	}
	return issues
}

// checkDuplicateTokens flags a bearer token reused for the admin API
// more than once, which defeats per-token revocation.
func (v *Validator) checkDuplicateTokens() []Issue {
	seen := make(map[string]bool)
	var issues []Issue
	for i, tok := range v.cfg.API.Auth.Tokens {
		if seen[tok] {
			issues = append(issues, Issue{
				Severity: "error",
				Field:    fmt.Sprintf("api.auth.tokens[%d]", i),
				Message:  "duplicate token value",
			})
		}
		seen[tok] = true
	}
	return issues
}

// checkPersistentBucketSizing flags a persistent-mode bucket with
// max_children <= 0, which would keep zero workers alive despite the
// operator's evident intent to run some.
func (v *Validator) checkPersistentBucketSizing() []Issue {
	var issues []Issue
	for id, b := range v.cfg.Buckets {
		if b.PersistentMode && b.MaxChildren <= 0 {
			issues = append(issues, Issue{
				Severity: "warning",
				Field:    fmt.Sprintf("buckets[%s].max_children", id),
				Message:  "persistent_mode is true but max_children is 0; no workers will ever start",
			})
		}
	}
	return issues
}
