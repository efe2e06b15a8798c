package server

import (
	"fmt"
	"net/http"
	"strings"
)

// buildLLMDocumentation renders markdown documentation aimed at LLM agents
// integrating against the API.
func (s *Server) buildLLMDocumentation(baseURL string) string {
	var sb strings.Builder

	sb.WriteString("# querymend API Documentation\n\n")
	sb.WriteString("Ask analytics questions in natural language. The server generates SQL for the target data source, executes it, and repairs failing statements automatically before answering.\n\n")

	sb.WriteString("## Endpoints\n\n")
	sb.WriteString(fmt.Sprintf("- **POST** `%s/v1/query` - Run one question (`question`) or several independent ones (`questions`) against a data source\n", baseURL))
	sb.WriteString(fmt.Sprintf("- **GET** `%s/v1/datasources` - List configured data sources\n", baseURL))
	sb.WriteString(fmt.Sprintf("- **GET** `%s/v1/history` - List archived runs, newest first (`limit`, `q` filters)\n", baseURL))
	sb.WriteString(fmt.Sprintf("- **GET** `%s/healthz` - Liveness probe\n", baseURL))
	sb.WriteString(fmt.Sprintf("- **GET** `%s/openapi.json` - OpenAPI 3.0 specification\n\n", baseURL))

	sb.WriteString("## Data Sources\n\n")
	sources := s.catalog.List()
	if len(sources) == 0 {
		sb.WriteString("No data sources are currently configured.\n\n")
	} else {
		sb.WriteString("| ID | Category | Dialect |\n")
		sb.WriteString("|----|----------|--------|\n")
		for _, ds := range sources {
			sb.WriteString(fmt.Sprintf("| `%s` | %s | %s |\n",
				ds.ID, ds.Category, ds.EffectiveDialect()))
		}
		sb.WriteString("\n")
	}

	sb.WriteString("## Running a Question\n\n")
	sb.WriteString("```bash\n")
	sb.WriteString(fmt.Sprintf("curl -X POST %s/v1/query \\\n", baseURL))
	sb.WriteString("  -H \"Content-Type: application/json\" \\\n")
	sb.WriteString("  -d '{\"question\": \"total revenue by region this quarter\", \"source_id\": \"warehouse\"}'\n")
	sb.WriteString("```\n\n")

	sb.WriteString("Several independent questions fan out concurrently:\n\n")
	sb.WriteString("```bash\n")
	sb.WriteString(fmt.Sprintf("curl -X POST %s/v1/query \\\n", baseURL))
	sb.WriteString("  -H \"Content-Type: application/json\" \\\n")
	sb.WriteString("  -d '{\"questions\": [\"orders per day\", \"top customers by spend\"], \"source_id\": \"warehouse\"}'\n")
	sb.WriteString("```\n\n")

	sb.WriteString("## Response Statuses\n\n")
	sb.WriteString("- `success` - the statement executed and `result` holds the rows\n")
	sb.WriteString("- `partial` - rows were fetched but a downstream consumer failed to use them; `result` and `failure` are both set\n")
	sb.WriteString("- `critical_failure` - the run exhausted its retry budget; `failure` names the category and carries an excerpt of the last error\n\n")

	sb.WriteString("Every response includes `sql` (the final statement), `attempts` (statements executed), and `history` (classified failures encountered along the way).\n")

	return sb.String()
}

func (s *Server) handleLLMsTxt(w http.ResponseWriter, _ *http.Request) {
	doc := s.buildLLMDocumentation(fmt.Sprintf("http://localhost:%s", s.port))
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(doc))
}
