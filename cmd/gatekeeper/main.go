// Gatekeeper evaluates tenant rule sets against entity data and drives the
// multi-step approval workflows those rules route into.
//
// Usage:
//
//	# Validate rule files and workflow definitions
//	gatekeeper lint --rules rules/ --workflows workflows/
//
//	# Show which rules match a context, without side effects
//	gatekeeper eval --tenant acme --context vendor.json
//
//	# Start a workflow and act on it
//	gatekeeper workflow start --tenant acme --definition vendor-onboarding --entity-id v-42
//	gatekeeper workflow apply <instance-id> approve --actor sam@acme.test
//
//	# Check the audit trail
//	gatekeeper audit verify --all
//
//	# Run the rule watcher, escalation scheduler and metrics endpoint
//	gatekeeper run --config gatekeeper.yaml
package main

import "os"

func main() {
	os.Exit(Execute())
}
