// Package dockerfile renders build descriptors into Dockerfiles and lints
// hand-written Dockerfiles against the same contract.
package dockerfile

import (
	"fmt"
	"path"
	"strings"
	"text/template"

	"github.com/quaylabs/slipway/internal/core/domain"
)

// Step order is fixed: dependencies install before the entry file is copied
// so code-only changes reuse the cached dependency layer, and the listen port
// feeds both EXPOSE and the startup command from one value.
const fileTemplate = `FROM {{.From}}
WORKDIR /app
COPY {{.Manifest}} ./
RUN pip install --no-cache-dir -r {{.ManifestName}}
{{- if .Engine}}
RUN playwright install{{if .WithDeps}} --with-deps{{end}} {{.Engine}}
{{- end}}
COPY {{.EntryFile}} ./
EXPOSE {{.Port}}
{{- if .EnvPort}}
ENV {{.PortVar}}={{.Port}}
CMD ["sh", "-c", "uvicorn {{.Target}} --host 0.0.0.0 --port {{.PortRef}}"]
{{- else}}
CMD ["uvicorn", "{{.Target}}", "--host", "0.0.0.0", "--port", "{{.Port}}"]
{{- end}}
`

var tmpl = template.Must(template.New("dockerfile").Parse(fileTemplate))

type templateData struct {
	From         string
	Manifest     string
	ManifestName string
	Engine       string
	WithDeps     bool
	EntryFile    string
	Port         int
	PortVar      string
	PortRef      string
	EnvPort      bool
	Target       string
}

// Render emits the Dockerfile for a validated descriptor.
func Render(d *domain.Descriptor) (string, error) {
	if err := d.Validate(); err != nil {
		return "", err
	}
	from, err := d.Reference()
	if err != nil {
		return "", err
	}
	data := templateData{
		From:         from,
		Manifest:     d.Manifest,
		ManifestName: path.Base(d.Manifest),
		EntryFile:    d.Entry.File,
		Port:         d.Port,
		PortVar:      domain.PortEnvVar,
		PortRef:      "${" + domain.PortEnvVar + "}",
		EnvPort:      d.EnvPort(),
		Target:       d.Entry.Target(),
	}
	if d.Browser != nil {
		data.Engine = d.Browser.Engine
		data.WithDeps = d.Browser.WithDeps
	}
	var sb strings.Builder
	if err := tmpl.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("render dockerfile: %w", err)
	}
	return sb.String(), nil
}
