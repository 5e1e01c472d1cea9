package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply a configuration file",
	Long: `Apply Paddock resources from a YAML file against a running server.

Examples:
  # Apply a container definition
  paddock apply -f container.yaml

  # Apply a multi-document file (namespace, secrets, containers)
  paddock apply -f stack.yaml --server http://paddock.internal:8080`,
	RunE: runApply,
}

func init() {
	applyCmd.Flags().StringP("file", "f", "", "YAML file to apply (required)")
	applyCmd.Flags().String("server", "http://localhost:8080", "Paddock API address")
	applyCmd.Flags().String("as", "", "Identity email sent to the server (default: $PADDOCK_EMAIL)")
	_ = applyCmd.MarkFlagRequired("file")
}

// resource is one YAML document. Everything besides kind passes through to
// the API verbatim.
type resource struct {
	Kind string                 `yaml:"kind"`
	Body map[string]interface{} `yaml:",inline"`
}

// endpointFor maps a resource kind to its collection endpoint.
func endpointFor(kind string) (string, error) {
	switch strings.ToLower(kind) {
	case "container":
		return "/v1/containers", nil
	case "processor":
		return "/v1/processors", nil
	case "secret":
		return "/v1/secrets", nil
	case "namespace":
		return "/v1/namespaces", nil
	default:
		return "", fmt.Errorf("unsupported resource kind: %s", kind)
	}
}

func runApply(cmd *cobra.Command, args []string) error {
	filename, _ := cmd.Flags().GetString("file")
	server, _ := cmd.Flags().GetString("server")
	email, _ := cmd.Flags().GetString("as")
	if email == "" {
		email = os.Getenv("PADDOCK_EMAIL")
	}
	if email == "" {
		return fmt.Errorf("identity required: pass --as or set PADDOCK_EMAIL")
	}

	f, err := os.Open(filename)
	if err != nil {
		return fmt.Errorf("failed to read file: %v", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	applied := 0
	for {
		var res resource
		if err := dec.Decode(&res); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return fmt.Errorf("failed to parse YAML: %v", err)
		}
		if res.Kind == "" {
			return fmt.Errorf("document %d: kind is required", applied+1)
		}
		if err := applyResource(server, email, &res); err != nil {
			return err
		}
		applied++
	}

	fmt.Printf("✓ Applied %d resource(s)\n", applied)
	return nil
}

func applyResource(server, email string, res *resource) error {
	endpoint, err := endpointFor(res.Kind)
	if err != nil {
		return err
	}

	body, err := json.Marshal(yamlToJSON(res.Body))
	if err != nil {
		return fmt.Errorf("failed to encode %s: %v", res.Kind, err)
	}

	req, err := http.NewRequest(http.MethodPost, server+endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Auth-Email", email)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach server: %v", err)
	}
	defer resp.Body.Close()

	name := resourceName(res.Body)
	switch {
	case resp.StatusCode == http.StatusConflict:
		fmt.Printf("%s already exists: %s (skipping)\n", res.Kind, name)
	case resp.StatusCode >= 300:
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("failed to create %s %s: %s", res.Kind, name, strings.TrimSpace(string(msg)))
	default:
		fmt.Printf("✓ %s created: %s\n", res.Kind, name)
	}
	return nil
}

func resourceName(body map[string]interface{}) string {
	if name, ok := body["name"].(string); ok {
		return name
	}
	if meta, ok := body["metadata"].(map[string]interface{}); ok {
		ns, _ := meta["namespace"].(string)
		name, _ := meta["name"].(string)
		if ns != "" {
			return ns + "/" + name
		}
		return name
	}
	return "?"
}

// yamlToJSON rewrites yaml.v3's map[interface{}]interface{} values into
// something encoding/json accepts.
func yamlToJSON(v interface{}) interface{} {
	switch val := v.(type) {
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[fmt.Sprintf("%v", k)] = yamlToJSON(item)
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[k] = yamlToJSON(item)
		}
		return out
	case []interface{}:
		for i, item := range val {
			val[i] = yamlToJSON(item)
		}
		return val
	default:
		return v
	}
}
