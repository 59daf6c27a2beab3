// Command surveyctl is the operator tool for the survey database: it
// bootstraps admin accounts, lists and approves registrations and exports
// the collected surveys.
package main

import "os"

func main() {
	if err := Execute(); err != nil {
		os.Exit(1)
	}
}
