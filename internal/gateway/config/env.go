package config

import (
	"bytes"
	"fmt"
	"os"
	"regexp"
	"strings"
	"text/template"

	"github.com/joho/godotenv"
)

// TemplateContext is the data the config template is rendered with.
type TemplateContext struct {
	ENV map[string]string
}

var missingKeyRegex = regexp.MustCompile(`map has no entry for key "(.*?)"`)

// RenderEnv replaces {{ .ENV.VAR }} placeholders with values from the process
// environment. envFiles are read with godotenv and never override variables already
// set in the environment; missing files are skipped.
func RenderEnv(raw []byte, envFiles ...string) ([]byte, error) {
	envMap := map[string]string{}
	for _, f := range envFiles {
		if f == "" {
			continue
		}
		vals, err := godotenv.Read(f)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("reading %s: %w", f, err)
		}
		for k, v := range vals {
			if _, set := envMap[k]; !set {
				envMap[k] = v
			}
		}
	}
	for _, e := range os.Environ() {
		if k, v, ok := strings.Cut(e, "="); ok {
			envMap[k] = v
		}
	}

	tmpl, err := template.New("config").Option("missingkey=error").Parse(string(raw))
	if err != nil {
		return nil, err
	}

	var out bytes.Buffer
	if err := tmpl.Execute(&out, TemplateContext{ENV: envMap}); err != nil {
		if m := missingKeyRegex.FindStringSubmatch(err.Error()); len(m) == 2 {
			return nil, fmt.Errorf("missing environment variable: %s (set it in your shell or .env file)", m[1])
		}
		return nil, fmt.Errorf("template error: %w", err)
	}
	return out.Bytes(), nil
}
