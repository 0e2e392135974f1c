package config

import (
	"bytes"
	"text/template"
)

// StarterOptions are the answers collected by "apmd config init".
type StarterOptions struct {
	DataDir     string
	LogFormat   string
	GatewayBind string
	BearerToken string
	CacheItems  bool
	CleanupCron string
}

var starterTemplate = template.Must(template.New("apmd.yaml").Parse(`version: "1"

log:
  level: info
  format: {{ or .LogFormat "text" }}

daemon:
{{- if .DataDir }}
  data_dir: {{ printf "%q" .DataDir }}
{{- end }}
  quantum: 100ms
  recover_stranded: false

database:
  wal: true
  busy_timeout: 5000

cache:
  backend: sqlite
{{- if .CacheItems }}
  items:
    - key: job_counts
      ttl: 30s
      json: true
      builder: job_counts
    - key: job_errors
      ttl: 5m
      json: true
      builder: job_errors
{{- else }}
  items: []
{{- end }}

jobs:
{{- if .CleanupCron }}
  recurring:
    - name: clean_queue
      description: nightly cleanup
      schedule: {{ printf "%q" .CleanupCron }}
{{- else }}
  recurring: []
{{- end }}

gateway:
  bind: {{ printf "%q" .GatewayBind }}
{{- if .BearerToken }}
  auth:
    bearer_token: "${APMD_TOKEN:-{{ .BearerToken }}}"
{{- end }}

telemetry:
  metrics: true
  tracing:
    endpoint: "${OTEL_EXPORTER_OTLP_ENDPOINT:-}"
`))

// Starter renders a starter configuration file.
func Starter(opts StarterOptions) ([]byte, error) {
	var buf bytes.Buffer
	if err := starterTemplate.Execute(&buf, opts); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
