// Keyrelay relays image-generation requests through an ordered chain of
// upstream tiers and manages the pool of API keys the last tier draws from.
//
// Usage:
//
//	# Start the HTTP server
//	keyrelay run --config keyrelay.yaml
//
//	# Manage pooled keys
//	keyrelay keys add --name main AIza...
//	keyrelay keys list --output json
//
//	# Health-check every key
//	keyrelay check --all
//
//	# Route a single request from the command line
//	keyrelay generate --prompt "a red bicycle" --out bicycle.png
package main

func main() {
	Execute()
}
