// Command genid is a before hook that picks a fresh nine-digit PET_ID.
package main

import (
	"encoding/json"
	"io"
	"math/rand"
	"os"
	"strconv"

	"sea-e2e/internal/hooks"
)

func main() {
	_, _ = io.Copy(io.Discard, os.Stdin)
	id := 100000000 + rand.Intn(900000000)
	_ = json.NewEncoder(os.Stdout).Encode(hooks.Output{
		Vars: map[string]string{"PET_ID": strconv.Itoa(id)},
	})
}
