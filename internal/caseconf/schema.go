// Package caseconf loads case declarations from HCL files and translates
// them into the registered configuration model.
package caseconf

import "github.com/hashicorp/hcl/v2"

// signalBlock is one `signal "name" {}` declaration. Order in the file is
// declaration order and drives index assignment at registration.
type signalBlock struct {
	Name string   `hcl:"name,label"`
	Body hcl.Body `hcl:",remain"`
}

// caseBlock is one `case "name" { ... }` declaration. Durations are
// strings in Go duration syntax ("30m", "1.5s").
type caseBlock struct {
	Name string `hcl:"name,label"`

	Active      *bool    `hcl:"active,optional"`
	Probability *float64 `hcl:"probability,optional"`

	WarnStalledAfter *string `hcl:"warn_stalled_after,optional"`
	TestExpires      *string `hcl:"test_expires,optional"`
	Frequency        *string `hcl:"frequency,optional"`

	MaxHistory             *int `hcl:"max_history,optional"`
	MaxConsecutiveFailures *int `hcl:"max_consecutive_failures,optional"`

	URLTimeoutTotal   *string  `hcl:"url_timeout_total,optional"`
	URLTimeoutConnect *string  `hcl:"url_timeout_connect,optional"`
	URLErrorRetries   *int     `hcl:"url_error_retries,optional"`
	URLErrorDelayMin  *string  `hcl:"url_error_delay_min,optional"`
	URLErrorBackoff   *float64 `hcl:"url_error_delay_backoff,optional"`
	URLErrorDelayMax  *string  `hcl:"url_error_delay_max,optional"`

	Runner *string `hcl:"runner,optional"`

	Signals []*signalBlock `hcl:"signal,block"`
}

// fileSchema is the top-level structure of a declarations file.
type fileSchema struct {
	Cases []*caseBlock `hcl:"case,block"`
	Body  hcl.Body     `hcl:",remain"`
}
