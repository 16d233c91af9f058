// Package safety screens notebook code before it runs and redacts secrets
// from text sent to the reasoning service.
//
// Code is blocked when it matches a dangerous pattern (shell execution,
// recursive deletion of the filesystem root, fork bombs, evaluating user
// input) or when it hard-codes a credential that gitleaks recognizes.
// Extra patterns and allowlist entries can be loaded from a TOML rules file:
//
//	[[blocked]]
//	id = "requests-to-internal"
//	description = "request to the internal network"
//	pattern = 'requests\.\w+\(\s*.http://10\.'
//
//	[allowlist]
//	regexes = ['os\.system\("clear"\)']
package safety
