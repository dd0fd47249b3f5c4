// Command gettoken is a before hook that hands the registration API key to
// the scenario as API_KEY. A key already present in the vars is kept.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"sea-e2e/internal/fixture"
	"sea-e2e/internal/hooks"
)

func main() {
	var in hooks.Input
	if err := json.NewDecoder(os.Stdin).Decode(&in); err != nil {
		fmt.Fprintf(os.Stderr, "decode: %v\n", err)
		os.Exit(1)
	}
	key := in.Vars["API_KEY"]
	if key == "" {
		key = fixture.RegisterKey
	}
	_ = json.NewEncoder(os.Stdout).Encode(hooks.Output{
		Vars: map[string]string{"API_KEY": key},
	})
}
