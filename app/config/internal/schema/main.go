// Command schema writes JSON schema of the modelgen config file
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/umputun/modelgen/app/config"
)

func main() {
	data, err := json.MarshalIndent(config.JSONSchema(), "", "  ")
	if err != nil {
		log.Fatalf("failed to marshal schema: %v", err)
	}

	outputPath := "modelgen.schema.json"
	if len(os.Args) > 1 {
		outputPath = os.Args[1]
	}
	if err := os.WriteFile(outputPath, data, 0o600); err != nil { //nolint:gosec // schema file is not sensitive
		log.Fatalf("failed to write schema file: %v", err)
	}
	fmt.Printf("schema generated at %s\n", outputPath)
}
