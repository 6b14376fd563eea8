// jobmate-applier-service
//
// Matching and auto-application engine. Twice a day the cycle scores the
// posting pool against every active user profile and submits applications
// on their behalf, with per-user daily quotas, retry-safe submission and
// outcome tracking feeding scoring model updates.
package main

import "os"

func main() {
	if err := Execute(); err != nil {
		os.Exit(1)
	}
}
